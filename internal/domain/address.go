package domain

import (
	"strings"
	"time"
)

// TTL 取值范围（分钟）
const (
	MinTTLMinutes = 1
	MaxTTLMinutes = 1440
)

// Address 表示一个临时收件地址。
//
// 可投递条件为 Active && now < ExpiresAt，每次投递时重新计算，不做缓存。
type Address struct {
	ID            string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address       string     `json:"address" gorm:"type:varchar(320);uniqueIndex;not null"`
	LocalPart     string     `json:"localPart" gorm:"type:varchar(64);not null"`
	DomainID      string     `json:"domainId" gorm:"type:varchar(36);index;not null"`
	DomainName    string     `json:"domain" gorm:"type:varchar(253);not null"`
	Active        bool       `json:"active" gorm:"index;not null"`
	ExpiresAt     time.Time  `json:"expiresAt" gorm:"index;not null"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty" gorm:"index"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// TableName 指定表名
func (Address) TableName() string { return "addresses" }

// Deliverable 判断地址在给定时刻是否可以接收新邮件
func (a *Address) Deliverable(now time.Time) bool {
	return a.Active && now.Before(a.ExpiresAt)
}

// Expired 地址仍标记为有效但已超过过期时间
func (a *Address) Expired(now time.Time) bool {
	return a.Active && !now.Before(a.ExpiresAt)
}

// AddressFilter 地址列表过滤条件
type AddressFilter struct {
	DomainID string
	Active   *bool
}

// NormalizeAddress 去除空白、尖括号并转为小写
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "<")
	addr = strings.TrimSuffix(addr, ">")
	return strings.ToLower(strings.TrimSpace(addr))
}

// SplitAddress 拆分本地部分与域名，格式不符合 local@domain 时 ok 为 false
func SplitAddress(addr string) (local, domain string, ok bool) {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", "", false
	}
	return addr[:at], addr[at+1:], true
}
