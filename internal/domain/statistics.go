package domain

import "time"

// Statistics 周期性统计信息，由每周清理任务输出
type Statistics struct {
	ActiveAddresses   int64     `json:"activeAddresses"`
	ExpiredAddresses  int64     `json:"expiredAddresses"` // 已过期但尚未被标记失效
	InactiveAddresses int64     `json:"inactiveAddresses"`
	TotalMessages     int64     `json:"totalMessages"`
	UnreadMessages    int64     `json:"unreadMessages"`
	MessagesLast24h   int64     `json:"messagesLast24h"`
	Attachments       int64     `json:"attachments"`
	AttachmentBytes   int64     `json:"attachmentBytes"`
	GeneratedAt       time.Time `json:"generatedAt"`
}

// SweepResult 一次批量清理的结果
type SweepResult struct {
	Addresses   int64
	Messages    int64
	Attachments int64
	// Locators 被删除元数据对应的附件对象，由调用方负责删除二进制内容
	Locators []string
}

// Add 合并另一次清理的结果
func (r *SweepResult) Add(other SweepResult) {
	r.Addresses += other.Addresses
	r.Messages += other.Messages
	r.Attachments += other.Attachments
	r.Locators = append(r.Locators, other.Locators...)
}
