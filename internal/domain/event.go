package domain

import "time"

// NewMailEvent 新邮件入库后发出的通知
type NewMailEvent struct {
	AddressID   string    `json:"addressId"`
	Address     string    `json:"address"`
	MessageID   string    `json:"messageId"`
	From        string    `json:"from"`
	Subject     string    `json:"subject"`
	Attachments int       `json:"attachments"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// EventFromMessage 根据已保存的邮件构造通知
func EventFromMessage(addr *Address, m *Message) NewMailEvent {
	return NewMailEvent{
		AddressID:   addr.ID,
		Address:     addr.Address,
		MessageID:   m.ID,
		From:        m.FromAddress,
		Subject:     m.Subject,
		Attachments: len(m.Attachments),
		ReceivedAt:  m.ReceivedAt,
	}
}
