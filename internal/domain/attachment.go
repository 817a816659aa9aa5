package domain

import "time"

// AttachmentRef 附件元数据，二进制内容保存在附件存储中，通过 StorageLocator 引用
type AttachmentRef struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MessageID      string    `json:"messageId" gorm:"type:varchar(36);index;not null"`
	Position       int       `json:"position" gorm:"not null"`
	Filename       string    `json:"filename" gorm:"type:varchar(255)"`
	ContentType    string    `json:"contentType" gorm:"type:varchar(255)"`
	SizeBytes      int64     `json:"sizeBytes" gorm:"not null"`
	StorageLocator string    `json:"-" gorm:"type:varchar(512);not null"`
	CreatedAt      time.Time `json:"createdAt" gorm:"index"`
}

// TableName 指定表名
func (AttachmentRef) TableName() string { return "attachments" }
