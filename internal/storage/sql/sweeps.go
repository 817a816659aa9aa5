package sql

import (
	"context"
	"time"

	"gorm.io/gorm"

	"tempmail/inbox/internal/domain"
)

// ExpireAddresses 批量停用已到期的地址
func (s *Store) ExpireAddresses(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&domain.Address{}).
		Where("active = ? AND expires_at <= ?", true, now).
		Updates(map[string]any{"active": false, "deactivated_at": now})
	if result.Error != nil {
		return 0, wrapStorage(result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeMessagesBefore 删除 cutoff 之前接收的邮件，先删附件元数据
func (s *Store) PurgeMessagesBefore(ctx context.Context, cutoff time.Time) (domain.SweepResult, error) {
	var result domain.SweepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		messageIDs := tx.Model(&domain.Message{}).Select("id").Where("received_at < ?", cutoff)
		attachments, err := deleteAttachments(tx, "message_id IN (?)", messageIDs)
		if err != nil {
			return err
		}
		result.Add(attachments)

		res := tx.Where("received_at < ?", cutoff).Delete(&domain.Message{})
		if res.Error != nil {
			return res.Error
		}
		result.Messages = res.RowsAffected
		return nil
	})
	if err != nil {
		return domain.SweepResult{}, wrapStorage(err)
	}
	return result, nil
}

// PurgeAttachmentsBefore 删除 cutoff 之前创建的附件元数据，所属邮件保留
func (s *Store) PurgeAttachmentsBefore(ctx context.Context, cutoff time.Time) (domain.SweepResult, error) {
	var result domain.SweepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = deleteAttachments(tx, "created_at < ?", cutoff)
		return err
	})
	if err != nil {
		return domain.SweepResult{}, wrapStorage(err)
	}
	return result, nil
}

// PurgeInactiveAddresses 删除停用超过宽限期的地址，依次删除附件、邮件、地址
func (s *Store) PurgeInactiveAddresses(ctx context.Context, cutoff time.Time) (domain.SweepResult, error) {
	var result domain.SweepResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := func() *gorm.DB {
			return tx.Model(&domain.Address{}).Select("id").
				Where("active = ? AND deactivated_at < ?", false, cutoff)
		}

		messageIDs := tx.Model(&domain.Message{}).Select("id").Where("address_id IN (?)", stale())
		attachments, err := deleteAttachments(tx, "message_id IN (?)", messageIDs)
		if err != nil {
			return err
		}
		result.Add(attachments)

		res := tx.Where("address_id IN (?)", stale()).Delete(&domain.Message{})
		if res.Error != nil {
			return res.Error
		}
		result.Messages = res.RowsAffected

		res = tx.Where("active = ? AND deactivated_at < ?", false, cutoff).Delete(&domain.Address{})
		if res.Error != nil {
			return res.Error
		}
		result.Addresses = res.RowsAffected
		return nil
	})
	if err != nil {
		return domain.SweepResult{}, wrapStorage(err)
	}
	return result, nil
}

// CollectStatistics 汇总统计信息
func (s *Store) CollectStatistics(ctx context.Context, now time.Time) (*domain.Statistics, error) {
	db := s.db.WithContext(ctx)
	stats := &domain.Statistics{GeneratedAt: now}

	counts := []struct {
		dst   *int64
		model any
		query string
		args  []any
	}{
		{&stats.ActiveAddresses, &domain.Address{}, "active = ? AND expires_at > ?", []any{true, now}},
		{&stats.ExpiredAddresses, &domain.Address{}, "active = ? AND expires_at <= ?", []any{true, now}},
		{&stats.InactiveAddresses, &domain.Address{}, "active = ?", []any{false}},
		{&stats.TotalMessages, &domain.Message{}, "1 = 1", nil},
		{&stats.UnreadMessages, &domain.Message{}, "is_read = ?", []any{false}},
		{&stats.MessagesLast24h, &domain.Message{}, "received_at >= ?", []any{now.Add(-24 * time.Hour)}},
		{&stats.Attachments, &domain.AttachmentRef{}, "1 = 1", nil},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where(c.query, c.args...).Count(c.dst).Error; err != nil {
			return nil, wrapStorage(err)
		}
	}

	var bytes struct{ Total int64 }
	if err := db.Model(&domain.AttachmentRef{}).Select("COALESCE(SUM(size_bytes), 0) AS total").Scan(&bytes).Error; err != nil {
		return nil, wrapStorage(err)
	}
	stats.AttachmentBytes = bytes.Total
	return stats, nil
}
