package storage

import (
	"context"
	"time"

	"tempmail/inbox/internal/domain"
)

// DomainRepository 定义域名数据存取操作。
type DomainRepository interface {
	CreateDomain(ctx context.Context, d *domain.Domain) error
	GetDomain(ctx context.Context, id string) (*domain.Domain, error)
	GetDomainByName(ctx context.Context, name string) (*domain.Domain, error)
	ListDomains(ctx context.Context, activeOnly bool) ([]domain.Domain, error)
	UpdateDomain(ctx context.Context, d *domain.Domain) error
	DeleteDomain(ctx context.Context, id string) error
}

// AddressRepository 定义临时地址数据存取操作。
//
// 所有状态变更都是单条带条件的原子更新，调用方不需要先读后写。
type AddressRepository interface {
	// CreateAddress 插入新地址，地址字符串已存在时返回 domain.ErrAddressConflict
	CreateAddress(ctx context.Context, a *domain.Address) error
	GetAddress(ctx context.Context, id string) (*domain.Address, error)
	GetAddressByName(ctx context.Context, address string) (*domain.Address, error)
	ListAddresses(ctx context.Context, filter domain.AddressFilter, opts domain.ListOptions) ([]domain.Address, int64, error)
	// ExtendAddress 仅当地址有效时更新过期时间，否则返回 domain.ErrAddressInactive
	ExtendAddress(ctx context.Context, id string, expiresAt time.Time) (*domain.Address, error)
	// DeactivateAddress 幂等停用
	DeactivateAddress(ctx context.Context, id string, at time.Time) error
	// ExpireAddress 地址仍有效但已过期时将其停用，返回是否发生了变更
	ExpireAddress(ctx context.Context, id string, now time.Time) (bool, error)
	// DeleteAddress 删除地址及其邮件和附件元数据，返回需要删除的附件对象
	DeleteAddress(ctx context.Context, id string) ([]string, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// SaveMessage 在同一事务中写入邮件和附件元数据
	SaveMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, addressID, messageID string) (*domain.Message, error)
	ListMessages(ctx context.Context, addressID string, opts domain.ListOptions) ([]domain.Message, int64, error)
	MarkMessageRead(ctx context.Context, addressID, messageID string, read bool) error
	DeleteMessage(ctx context.Context, addressID, messageID string) ([]string, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) (*domain.AttachmentRef, error)
}

// SweepRepository 定义清理任务使用的批量操作，均按条件批量执行且可重复运行。
type SweepRepository interface {
	ExpireAddresses(ctx context.Context, now time.Time) (int64, error)
	PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (domain.SweepResult, error)
	PurgeAttachmentsBefore(ctx context.Context, cutoff time.Time) (domain.SweepResult, error)
	PurgeInactiveAddresses(ctx context.Context, cutoff time.Time) (domain.SweepResult, error)
	CollectStatistics(ctx context.Context, now time.Time) (*domain.Statistics, error)
}

// Store 聚合所有存储接口。
type Store interface {
	DomainRepository
	AddressRepository
	MessageRepository
	SweepRepository

	Health(ctx context.Context) error
	Close() error
}
