package domain

import "time"

// Message 表示投递到某个临时地址的一封邮件。
//
// AddressID 在入库时确定，之后地址过期或被复用都不会改变。
type Message struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AddressID   string          `json:"addressId" gorm:"type:varchar(36);index;not null"`
	FromAddress string          `json:"fromAddress" gorm:"type:varchar(320)"`
	FromName    string          `json:"fromName" gorm:"type:varchar(255)"`
	Subject     string          `json:"subject" gorm:"type:varchar(998)"`
	TextBody    string          `json:"textBody"`
	HTMLBody    string          `json:"htmlBody"`
	SizeBytes   int64           `json:"sizeBytes"`
	Read        bool            `json:"read" gorm:"column:is_read;index;not null;default:false"`
	ReceivedAt  time.Time       `json:"receivedAt" gorm:"index;not null"`
	Attachments []AttachmentRef `json:"attachments" gorm:"-"`
}

// TableName 指定表名
func (Message) TableName() string { return "messages" }
