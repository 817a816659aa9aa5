package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/storage"
)

// 任务名
const (
	JobExpireAddresses  = "expire-addresses"
	JobPurgeMessages    = "purge-messages"
	JobPurgeAttachments = "purge-attachments"
	JobPurgeAddresses   = "purge-addresses"
)

// BlobDeleter 回收附件对象
type BlobDeleter interface {
	DeleteAll(ctx context.Context, locators []string) (int, error)
	// PurgeBefore 删除早于 cutoff 的整段对象，包括没有元数据的孤立对象
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StatisticsCache 保存最近一次统计结果
type StatisticsCache interface {
	CacheStatistics(ctx context.Context, stats *domain.Statistics, ttl time.Duration) error
}

// Sweeps 清理任务的实现。每个任务都是按条件的批量操作，重复运行结果相同。
type Sweeps struct {
	store     storage.SweepRepository
	blobs     BlobDeleter
	cache     StatisticsCache
	retention config.RetentionConfig
	metrics   *monitoring.Metrics
	now       func() time.Time
	log       *zap.Logger
}

// NewSweeps 创建清理任务集合
func NewSweeps(store storage.SweepRepository, blobs BlobDeleter, retention config.RetentionConfig, metrics *monitoring.Metrics, log *zap.Logger) *Sweeps {
	return &Sweeps{
		store:     store,
		blobs:     blobs,
		retention: retention,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.Component(log, "sweeps"),
	}
}

// SetClock 替换时间来源
func (s *Sweeps) SetClock(now func() time.Time) { s.now = now }

// SetStatisticsCache 设置统计缓存
func (s *Sweeps) SetStatisticsCache(c StatisticsCache) { s.cache = c }

// Jobs 按配置的周期生成任务
func (s *Sweeps) Jobs(cfg config.ScheduleConfig) []Job {
	return []Job{
		{Name: JobExpireAddresses, Interval: cfg.ExpireAddresses, Run: s.ExpireAddresses},
		{Name: JobPurgeMessages, Interval: cfg.PurgeMessages, Run: s.PurgeMessages},
		{Name: JobPurgeAttachments, Interval: cfg.PurgeAttachments, Run: s.PurgeAttachments},
		{Name: JobPurgeAddresses, Interval: cfg.PurgeAddresses, Run: s.PurgeAddresses},
	}
}

// ExpireAddresses 停用所有已过期但仍标记有效的地址
func (s *Sweeps) ExpireAddresses(ctx context.Context) error {
	n, err := s.store.ExpireAddresses(ctx, s.now())
	if err != nil {
		return err
	}
	s.metrics.RecordSweepResult(JobExpireAddresses, domain.SweepResult{Addresses: n})
	if n > 0 {
		s.log.Info("addresses expired", zap.Int64("count", n))
	}
	return nil
}

// PurgeMessages 删除超过保留期的邮件及其附件
func (s *Sweeps) PurgeMessages(ctx context.Context) error {
	result, err := s.store.PurgeMessagesBefore(ctx, s.now().Add(-s.retention.Messages))
	if err != nil {
		return err
	}
	s.finish(ctx, JobPurgeMessages, result)
	return nil
}

// PurgeAttachments 删除超过保留期的附件，邮件本身保留。
// 元数据清理之后再按日期分区回收剩余对象。
func (s *Sweeps) PurgeAttachments(ctx context.Context) error {
	cutoff := s.now().Add(-s.retention.Attachments)
	result, err := s.store.PurgeAttachmentsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	s.finish(ctx, JobPurgeAttachments, result)

	if s.blobs == nil {
		return nil
	}
	orphans, err := s.blobs.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge attachment partitions: %w", err)
	}
	if orphans > 0 {
		s.log.Info("orphaned attachment objects purged", zap.Int("count", orphans))
	}
	return nil
}

// PurgeAddresses 删除停用超过宽限期的地址，随后输出统计
func (s *Sweeps) PurgeAddresses(ctx context.Context) error {
	result, err := s.store.PurgeInactiveAddresses(ctx, s.now().Add(-s.retention.InactiveAddresses))
	if err != nil {
		return err
	}
	s.finish(ctx, JobPurgeAddresses, result)

	_, err = s.CollectStatistics(ctx)
	return err
}

// CollectStatistics 统计并输出到日志、指标和缓存
func (s *Sweeps) CollectStatistics(ctx context.Context) (*domain.Statistics, error) {
	stats, err := s.store.CollectStatistics(ctx, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.UpdateStatistics(stats)
	s.log.Info("statistics",
		zap.Int64("active_addresses", stats.ActiveAddresses),
		zap.Int64("expired_addresses", stats.ExpiredAddresses),
		zap.Int64("inactive_addresses", stats.InactiveAddresses),
		zap.Int64("messages", stats.TotalMessages),
		zap.Int64("unread_messages", stats.UnreadMessages),
		zap.Int64("messages_24h", stats.MessagesLast24h),
		zap.Int64("attachments", stats.Attachments),
		zap.Int64("attachment_bytes", stats.AttachmentBytes),
	)
	if s.cache != nil {
		if err := s.cache.CacheStatistics(ctx, stats, 24*time.Hour); err != nil {
			s.log.Warn("failed to cache statistics", zap.Error(err))
		}
	}
	return stats, nil
}

// finish 记录结果并回收附件对象。元数据已经删除，对象删除失败只记录日志。
func (s *Sweeps) finish(ctx context.Context, job string, result domain.SweepResult) {
	s.metrics.RecordSweepResult(job, result)
	if len(result.Locators) > 0 && s.blobs != nil {
		if deleted, err := s.blobs.DeleteAll(ctx, result.Locators); err != nil {
			s.log.Warn("failed to delete some attachment objects",
				zap.String("job", job),
				zap.Int("deleted", deleted),
				zap.Int("total", len(result.Locators)),
				zap.Error(err),
			)
		}
	}
	if result.Addresses+result.Messages+result.Attachments > 0 {
		s.log.Info("sweep finished",
			zap.String("job", job),
			zap.Int64("addresses", result.Addresses),
			zap.Int64("messages", result.Messages),
			zap.Int64("attachments", result.Attachments),
		)
	}
}
