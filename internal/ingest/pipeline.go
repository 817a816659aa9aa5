// Package ingest 把收到的邮件投递到临时地址的收件箱。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/inbox/internal/attachment"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/mailparse"
	"tempmail/inbox/internal/monitoring"
)

// Outcome 单个收件人的投递结果
type Outcome int

const (
	OutcomeStored Outcome = iota
	OutcomeAddressNotFound
	OutcomeAddressExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeAddressNotFound:
		return "address_not_found"
	case OutcomeAddressExpired:
		return "address_expired"
	default:
		return "unknown"
	}
}

// Result 投递结果。Err 非空表示存储失败，Outcome 此时无意义。
type Result struct {
	Recipient string
	Outcome   Outcome
	AddressID string
	MessageID string
	Err       error
}

// Resolver 查找可投递的地址
type Resolver interface {
	ResolveDeliverable(ctx context.Context, address string) (*domain.Address, error)
	ExpireIfDue(ctx context.Context, a *domain.Address) (bool, error)
}

// MessageStore 保存邮件
type MessageStore interface {
	SaveMessage(ctx context.Context, m *domain.Message) error
}

// AttachmentStore 保存附件内容
type AttachmentStore interface {
	Store(ctx context.Context, data []byte, originalFilename, contentType string) (attachment.Stored, error)
	DeleteAll(ctx context.Context, locators []string) (int, error)
}

// Notifier 接收新邮件通知
type Notifier interface {
	PublishNewMail(ctx context.Context, evt domain.NewMailEvent) error
}

// Options 投递参数
type Options struct {
	Concurrency        int           // 同一封邮件多个收件人的并发数
	StoreTimeout       time.Duration // 保存邮件的单次超时
	StoreRetries       int           // 保存邮件失败后的重试次数
	RetryBackoff       time.Duration
	MaxAttachmentBytes int64 // 超过此大小的附件直接跳过，0 表示不限制
	Now                func() time.Time
}

// Pipeline 投递流水线。不持有地址锁，可投递性在每次投递时重新判断。
type Pipeline struct {
	resolver    Resolver
	messages    MessageStore
	attachments AttachmentStore
	notifiers   []Notifier
	metrics     *monitoring.Metrics
	opts        Options
	log         *zap.Logger
}

// NewPipeline 创建投递流水线
func NewPipeline(resolver Resolver, messages MessageStore, attachments AttachmentStore, metrics *monitoring.Metrics, opts Options, log *zap.Logger) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	if opts.StoreRetries < 0 {
		opts.StoreRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{
		resolver:    resolver,
		messages:    messages,
		attachments: attachments,
		metrics:     metrics,
		opts:        opts,
		log:         logger.Component(log, "ingest"),
	}
}

// AddNotifier 注册新邮件通知接收方
func (p *Pipeline) AddNotifier(n Notifier) {
	p.notifiers = append(p.notifiers, n)
}

// Ingest 把邮件投递给一个收件人。
//
// 地址不存在或不可投递时不产生任何写入；发现已过期但仍标记有效的地址会顺带将其停用。
// 只有邮件记录保存失败或邮件无法解析时返回错误。
func (p *Pipeline) Ingest(ctx context.Context, destination string, payload Payload) (Result, error) {
	start := time.Now()
	res, err := p.ingest(ctx, destination, payload)
	outcome := res.Outcome.String()
	if err != nil {
		outcome = "failed"
	}
	p.metrics.RecordIngest(sourceOf(payload), outcome, time.Since(start))
	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, destination string, payload Payload) (Result, error) {
	res := Result{Recipient: destination}
	log := p.log.With(zap.String("recipient", destination), zap.String("source", sourceOf(payload)))

	addr, err := p.resolver.ResolveDeliverable(ctx, destination)
	switch {
	case errors.Is(err, domain.ErrAddressNotFound):
		res.Outcome = OutcomeAddressNotFound
		log.Debug("recipient rejected: unknown address")
		return res, nil
	case errors.Is(err, domain.ErrAddressExpired):
		res.Outcome = OutcomeAddressExpired
		if addr != nil {
			res.AddressID = addr.ID
			if _, err := p.resolver.ExpireIfDue(ctx, addr); err != nil {
				log.Warn("failed to deactivate expired address", zap.Error(err))
			}
		}
		log.Debug("recipient rejected: address expired")
		return res, nil
	case err != nil:
		return res, fmt.Errorf("resolve %s: %w", destination, err)
	}
	res.AddressID = addr.ID

	n, err := payload.normalize()
	if err != nil {
		return res, err
	}

	msg := &domain.Message{
		ID:          uuid.NewString(),
		AddressID:   addr.ID,
		FromAddress: n.From,
		FromName:    n.FromName,
		Subject:     n.Subject,
		TextBody:    n.Text,
		HTMLBody:    n.HTML,
		SizeBytes:   n.Size,
		Read:        false,
		ReceivedAt:  p.opts.Now(),
	}
	msg.Attachments = p.storeAttachments(ctx, msg, n.Attachments, log)

	if err := p.save(ctx, msg); err != nil {
		p.discard(ctx, msg.Attachments, log)
		if errors.Is(err, domain.ErrAddressNotFound) {
			// 地址在投递过程中被删除
			res.Outcome = OutcomeAddressNotFound
			return res, nil
		}
		log.Error("failed to store message", zap.Error(err))
		return res, err
	}

	res.Outcome = OutcomeStored
	res.MessageID = msg.ID
	log.Info("message stored",
		zap.String("address_id", addr.ID),
		zap.String("message_id", msg.ID),
		zap.Int("attachments", len(msg.Attachments)),
		zap.Int64("size", msg.SizeBytes),
	)
	p.notify(ctx, domain.EventFromMessage(addr, msg), log)
	return res, nil
}

// IngestAll 把同一封邮件并发投递给多个收件人，各收件人结果互不影响。
//
// 原始邮件只解析一次；解析失败时返回错误，不产生任何结果。重复的收件人只投递一次。
func (p *Pipeline) IngestAll(ctx context.Context, recipients []string, payload Payload) ([]Result, error) {
	payload, err := payload.prepare()
	if err != nil {
		return nil, err
	}

	unique := make([]string, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		key := domain.NormalizeAddress(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, r)
	}

	results := make([]Result, len(unique))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, rcpt := range unique {
		g.Go(func() error {
			res, err := p.Ingest(ctx, rcpt, payload)
			res.Err = err
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// storeAttachments 逐个保存附件，失败的跳过
func (p *Pipeline) storeAttachments(ctx context.Context, msg *domain.Message, parts []mailparse.Part, log *zap.Logger) []domain.AttachmentRef {
	if len(parts) == 0 || p.attachments == nil {
		return nil
	}
	refs := make([]domain.AttachmentRef, 0, len(parts))
	for i, part := range parts {
		if p.opts.MaxAttachmentBytes > 0 && int64(len(part.Data)) > p.opts.MaxAttachmentBytes {
			p.metrics.RecordAttachmentFailure()
			log.Warn("attachment skipped: too large",
				zap.Int("index", i),
				zap.String("filename", part.Filename),
				zap.Int("size", len(part.Data)),
			)
			continue
		}
		stored, err := p.attachments.Store(ctx, part.Data, part.Filename, part.ContentType)
		if err != nil {
			p.metrics.RecordAttachmentFailure()
			log.Warn("attachment skipped: store failed",
				zap.Int("index", i),
				zap.String("filename", part.Filename),
				zap.Error(err),
			)
			continue
		}
		p.metrics.RecordAttachmentStored(stored.SizeBytes)
		refs = append(refs, domain.AttachmentRef{
			ID:             uuid.NewString(),
			MessageID:      msg.ID,
			Position:       len(refs),
			Filename:       stored.Filename,
			ContentType:    part.ContentType,
			SizeBytes:      stored.SizeBytes,
			StorageLocator: stored.Locator,
			CreatedAt:      msg.ReceivedAt,
		})
	}
	return refs
}

// save 保存邮件与附件元数据，失败时有限重试
func (p *Pipeline) save(ctx context.Context, msg *domain.Message) error {
	var lastErr error
	for attempt := 0; attempt <= p.opts.StoreRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * p.opts.RetryBackoff):
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
		err := p.messages.SaveMessage(callCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrAddressNotFound) {
			return err
		}
		lastErr = err
	}
	if errors.Is(lastErr, domain.ErrStorageUnavailable) {
		return lastErr
	}
	return fmt.Errorf("%w: save message: %w", domain.ErrStorageUnavailable, lastErr)
}

// discard 邮件没有保存成功时回收已写入的附件对象
func (p *Pipeline) discard(ctx context.Context, refs []domain.AttachmentRef, log *zap.Logger) {
	if len(refs) == 0 || p.attachments == nil {
		return
	}
	locators := make([]string, len(refs))
	for i, ref := range refs {
		locators[i] = ref.StorageLocator
	}
	if _, err := p.attachments.DeleteAll(context.WithoutCancel(ctx), locators); err != nil {
		log.Warn("failed to discard attachments", zap.Error(err))
	}
}

func (p *Pipeline) notify(ctx context.Context, evt domain.NewMailEvent, log *zap.Logger) {
	for _, n := range p.notifiers {
		if err := n.PublishNewMail(ctx, evt); err != nil {
			p.metrics.RecordNotifyFailure()
			log.Warn("failed to publish new mail event", zap.Error(err))
		}
	}
}

func sourceOf(p Payload) string {
	if p.Source == "" {
		return "unknown"
	}
	return p.Source
}
