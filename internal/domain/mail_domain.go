package domain

import "time"

// Domain 可用于创建临时地址的域名
type Domain struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"type:varchar(253);uniqueIndex;not null"`
	Active    bool      `json:"active" gorm:"index;not null"`
	IsDefault bool      `json:"isDefault" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Domain) TableName() string { return "domains" }
