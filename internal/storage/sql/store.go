package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tempmail/inbox/internal/domain"
)

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db *gorm.DB
}

// Open 根据数据库类型创建存储
func Open(driverName, dsn string, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch driverName {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}
	return NewStoreWithDialector(dialector, opts)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return &Store{db: db}, nil
}

// Migrate 自动迁移四张表，由调用方在启动时执行一次
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Domain{},
		&domain.Address{},
		&domain.Message{},
		&domain.AttachmentRef{},
	)
}

// Drop 删除所有表，按依赖倒序
func (s *Store) Drop() error {
	return s.db.Migrator().DropTable(
		&domain.AttachmentRef{},
		&domain.Message{},
		&domain.Address{},
		&domain.Domain{},
	)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ========== Domain Repository ==========

// CreateDomain 保存新域名
func (s *Store) CreateDomain(ctx context.Context, d *domain.Domain) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrDomainConflict
		}
		return wrapStorage(err)
	}
	return nil
}

// GetDomain 根据 ID 获取域名
func (s *Store) GetDomain(ctx context.Context, id string) (*domain.Domain, error) {
	var d domain.Domain
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, notFound(err, domain.ErrDomainNotFound)
	}
	return &d, nil
}

// GetDomainByName 根据名称获取域名
func (s *Store) GetDomainByName(ctx context.Context, name string) (*domain.Domain, error) {
	var d domain.Domain
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&d).Error; err != nil {
		return nil, notFound(err, domain.ErrDomainNotFound)
	}
	return &d, nil
}

// ListDomains 按名称排序返回域名
func (s *Store) ListDomains(ctx context.Context, activeOnly bool) ([]domain.Domain, error) {
	var domains []domain.Domain
	q := s.db.WithContext(ctx).Order("name ASC")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&domains).Error; err != nil {
		return nil, wrapStorage(err)
	}
	return domains, nil
}

// UpdateDomain 更新域名状态
func (s *Store) UpdateDomain(ctx context.Context, d *domain.Domain) error {
	result := s.db.WithContext(ctx).Model(&domain.Domain{}).
		Where("id = ?", d.ID).
		Updates(map[string]any{"active": d.Active, "is_default": d.IsDefault})
	if result.Error != nil {
		return wrapStorage(result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL 在值未变化时 RowsAffected 为 0，需要再确认记录是否存在
		if _, err := s.GetDomain(ctx, d.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDomain 删除域名
func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Domain{})
	if result.Error != nil {
		return wrapStorage(result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrDomainNotFound
	}
	return nil
}

// ========== Address Repository ==========

// CreateAddress 插入新地址，依赖唯一索引保证并发下只有一个成功
func (s *Store) CreateAddress(ctx context.Context, a *domain.Address) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAddressConflict
		}
		return wrapStorage(err)
	}
	return nil
}

// GetAddress 根据 ID 获取地址
func (s *Store) GetAddress(ctx context.Context, id string) (*domain.Address, error) {
	var a domain.Address
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, notFound(err, domain.ErrAddressNotFound)
	}
	return &a, nil
}

// GetAddressByName 根据完整地址获取
func (s *Store) GetAddressByName(ctx context.Context, address string) (*domain.Address, error) {
	var a domain.Address
	if err := s.db.WithContext(ctx).Where("address = ?", address).First(&a).Error; err != nil {
		return nil, notFound(err, domain.ErrAddressNotFound)
	}
	return &a, nil
}

// ListAddresses 按创建时间倒序分页返回地址
func (s *Store) ListAddresses(ctx context.Context, filter domain.AddressFilter, opts domain.ListOptions) ([]domain.Address, int64, error) {
	opts = opts.Normalize()
	q := s.db.WithContext(ctx).Model(&domain.Address{})
	if filter.DomainID != "" {
		q = q.Where("domain_id = ?", filter.DomainID)
	}
	if filter.Active != nil {
		q = q.Where("active = ?", *filter.Active)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapStorage(err)
	}

	var items []domain.Address
	err := q.Order("created_at DESC").Order("id ASC").
		Offset(opts.Offset()).Limit(opts.Limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, wrapStorage(err)
	}
	return items, total, nil
}

// ExtendAddress 单条条件更新：只有 active 的地址才会被延期
func (s *Store) ExtendAddress(ctx context.Context, id string, expiresAt time.Time) (*domain.Address, error) {
	result := s.db.WithContext(ctx).Model(&domain.Address{}).
		Where("id = ? AND active = ?", id, true).
		Update("expires_at", expiresAt)
	if result.Error != nil {
		return nil, wrapStorage(result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetAddress(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrAddressInactive
	}
	return s.GetAddress(ctx, id)
}

// DeactivateAddress 幂等停用，已停用的地址保持原停用时间
func (s *Store) DeactivateAddress(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.Address{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{"active": false, "deactivated_at": at})
	if result.Error != nil {
		return wrapStorage(result.Error)
	}
	if result.RowsAffected == 0 {
		_, err := s.GetAddress(ctx, id)
		return err
	}
	return nil
}

// ExpireAddress 地址仍有效但已到期时停用
func (s *Store) ExpireAddress(ctx context.Context, id string, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&domain.Address{}).
		Where("id = ? AND active = ? AND expires_at <= ?", id, true, now).
		Updates(map[string]any{"active": false, "deactivated_at": now})
	if result.Error != nil {
		return false, wrapStorage(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteAddress 在一个事务中依次删除附件元数据、邮件和地址
func (s *Store) DeleteAddress(ctx context.Context, id string) ([]string, error) {
	var locators []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockAddress(tx, id); err != nil {
			return err
		}
		messageIDs := tx.Model(&domain.Message{}).Select("id").Where("address_id = ?", id)
		result, err := deleteAttachments(tx, "message_id IN (?)", messageIDs)
		if err != nil {
			return err
		}
		locators = result.Locators

		if err := tx.Where("address_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Address{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAddressNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAddressNotFound) {
			return nil, err
		}
		return nil, wrapStorage(err)
	}
	return locators, nil
}

// ========== Message Repository ==========

// SaveMessage 在同一事务中写入邮件和附件元数据。
//
// 地址不存在时返回 ErrAddressNotFound。同一封邮件重复保存视为成功：
// 上一次提交成功但调用方超时重试时，附件对象仍被已提交的记录引用。
func (s *Store) SaveMessage(ctx context.Context, m *domain.Message) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockAddress(tx, m.AddressID); err != nil {
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		if len(m.Attachments) > 0 {
			return tx.Create(&m.Attachments).Error
		}
		return nil
	})
	if err != nil && isDuplicateKey(err) {
		saved, checkErr := s.messageSaved(ctx, m)
		if checkErr != nil {
			return checkErr
		}
		if saved {
			return nil
		}
	}
	return wrapStorage(err)
}

// lockAddress 锁住地址行直到事务结束，邮件写入与地址删除因此串行执行
func lockAddress(tx *gorm.DB, id string) error {
	var a domain.Address
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").Where("id = ?", id).Take(&a).Error
	return notFound(err, domain.ErrAddressNotFound)
}

// messageSaved 判断同一地址下是否已有该邮件
func (s *Store) messageSaved(ctx context.Context, m *domain.Message) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND address_id = ?", m.ID, m.AddressID).
		Count(&n).Error
	if err != nil {
		return false, wrapStorage(err)
	}
	return n > 0, nil
}

// GetMessage 获取邮件及其附件
func (s *Store) GetMessage(ctx context.Context, addressID, messageID string) (*domain.Message, error) {
	var m domain.Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND address_id = ?", messageID, addressID).
		First(&m).Error
	if err != nil {
		return nil, notFound(err, domain.ErrMessageNotFound)
	}

	messages := []domain.Message{m}
	if err := s.loadAttachments(ctx, messages); err != nil {
		return nil, err
	}
	return &messages[0], nil
}

// ListMessages 按接收时间倒序分页返回邮件
func (s *Store) ListMessages(ctx context.Context, addressID string, opts domain.ListOptions) ([]domain.Message, int64, error) {
	opts = opts.Normalize()
	q := s.db.WithContext(ctx).Model(&domain.Message{}).Where("address_id = ?", addressID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapStorage(err)
	}

	var messages []domain.Message
	err := q.Order("received_at DESC").Order("id ASC").
		Offset(opts.Offset()).Limit(opts.Limit).
		Find(&messages).Error
	if err != nil {
		return nil, 0, wrapStorage(err)
	}
	if err := s.loadAttachments(ctx, messages); err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// MarkMessageRead 修改已读状态
func (s *Store) MarkMessageRead(ctx context.Context, addressID, messageID string, read bool) error {
	result := s.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND address_id = ?", messageID, addressID).
		Update("is_read", read)
	if result.Error != nil {
		return wrapStorage(result.Error)
	}
	if result.RowsAffected == 0 {
		_, err := s.GetMessage(ctx, addressID, messageID)
		return err
	}
	return nil
}

// DeleteMessage 先删附件元数据再删邮件
func (s *Store) DeleteMessage(ctx context.Context, addressID, messageID string) ([]string, error) {
	var locators []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND address_id = ?", messageID, addressID).Delete(&domain.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrMessageNotFound
		}
		result, err := deleteAttachments(tx, "message_id = ?", messageID)
		locators = result.Locators
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return nil, err
		}
		return nil, wrapStorage(err)
	}
	return locators, nil
}

// GetAttachment 获取附件元数据
func (s *Store) GetAttachment(ctx context.Context, messageID, attachmentID string) (*domain.AttachmentRef, error) {
	var ref domain.AttachmentRef
	err := s.db.WithContext(ctx).
		Where("id = ? AND message_id = ?", attachmentID, messageID).
		First(&ref).Error
	if err != nil {
		return nil, notFound(err, domain.ErrAttachmentMissing)
	}
	return &ref, nil
}

func (s *Store) loadAttachments(ctx context.Context, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	index := make(map[string]int, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
		index[messages[i].ID] = i
		messages[i].Attachments = []domain.AttachmentRef{}
	}

	var refs []domain.AttachmentRef
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("message_id ASC").Order("position ASC").
		Find(&refs).Error
	if err != nil {
		return wrapStorage(err)
	}
	for _, ref := range refs {
		i := index[ref.MessageID]
		messages[i].Attachments = append(messages[i].Attachments, ref)
	}
	return nil
}

// deleteAttachments 先取出附件对象再按同一条件批量删除元数据
func deleteAttachments(tx *gorm.DB, query string, args ...any) (domain.SweepResult, error) {
	var result domain.SweepResult
	if err := tx.Model(&domain.AttachmentRef{}).Where(query, args...).Pluck("storage_locator", &result.Locators).Error; err != nil {
		return result, err
	}
	if len(result.Locators) == 0 {
		return result, nil
	}
	res := tx.Where(query, args...).Delete(&domain.AttachmentRef{})
	if res.Error != nil {
		return result, res.Error
	}
	result.Attachments = res.RowsAffected
	return result, nil
}
