package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/storage"
)

// maxGenerateAttempts 随机地址冲突时的最大尝试次数
const maxGenerateAttempts = 10

// AddressService 管理临时地址的生命周期。
type AddressService struct {
	repo      storage.AddressRepository
	domains   *DomainService
	blobs     BlobStore
	cfg       config.MailboxConfig
	validator *domain.EmailValidator
	now       Clock
	generate  func(n int) string
	log       *zap.Logger
}

// NewAddressService 创建地址服务。blobs 为 nil 时删除地址不回收附件对象。
func NewAddressService(repo storage.AddressRepository, domains *DomainService, blobs BlobStore, cfg config.MailboxConfig, log *zap.Logger) *AddressService {
	if cfg.LocalPartLength <= 0 {
		cfg.LocalPartLength = 8
	}
	return &AddressService{
		repo:      repo,
		domains:   domains,
		blobs:     blobs,
		cfg:       cfg,
		validator: domain.NewEmailValidator(),
		now:       utcNow,
		generate:  randomLocalPart,
		log:       logger.Component(log, "addresses"),
	}
}

// SetClock 替换时间来源
func (s *AddressService) SetClock(now Clock) { s.now = now }

// SetGenerator 替换随机本地部分生成器
func (s *AddressService) SetGenerator(gen func(n int) string) { s.generate = gen }

// Now 返回服务当前时间
func (s *AddressService) Now() time.Time { return s.now() }

// ProvisionInput 创建地址的输入
type ProvisionInput struct {
	LocalPart  string // 为空时随机生成
	Domain     string // 为空时随机选择启用的域名
	TTLMinutes int    // 0 表示使用默认值
}

// Provision 创建新的临时地址。
//
// 指定的本地部分与任何已存在的地址冲突时返回 ErrAddressConflict，不会改用其他名字。
// 随机生成的本地部分冲突时重试，最多 maxGenerateAttempts 次。
func (s *AddressService) Provision(ctx context.Context, input ProvisionInput) (*domain.Address, error) {
	ttl := input.TTLMinutes
	if ttl == 0 {
		ttl = s.cfg.DefaultTTLMinutes
	}
	if err := domain.ValidateTTL(ttl); err != nil {
		return nil, err
	}

	d, err := s.domains.Pick(ctx, input.Domain)
	if err != nil {
		return nil, err
	}

	if local := strings.ToLower(strings.TrimSpace(input.LocalPart)); local != "" {
		if err := s.validator.ValidateLocalPart(local); err != nil {
			return nil, err
		}
		a, err := s.newAddress(local, d, ttl)
		if err != nil {
			return nil, err
		}
		if err := s.repo.CreateAddress(ctx, a); err != nil {
			return nil, err
		}
		s.log.Info("address provisioned", zap.String("address", a.Address), zap.Int("ttl_minutes", ttl))
		return a, nil
	}

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		a, err := s.newAddress(s.generate(s.cfg.LocalPartLength), d, ttl)
		if err != nil {
			return nil, err
		}
		err = s.repo.CreateAddress(ctx, a)
		if err == nil {
			s.log.Info("address provisioned",
				zap.String("address", a.Address),
				zap.Int("ttl_minutes", ttl),
				zap.Int("attempt", attempt),
			)
			return a, nil
		}
		if !errors.Is(err, domain.ErrAddressConflict) {
			return nil, err
		}
	}

	s.log.Warn("address generation exhausted", zap.String("domain", d.Name))
	return nil, fmt.Errorf("%w after %d attempts", domain.ErrAddressExhausted, maxGenerateAttempts)
}

func (s *AddressService) newAddress(local string, d *domain.Domain, ttl int) (*domain.Address, error) {
	full := local + "@" + d.Name
	if err := s.validator.ValidateEmail(full); err != nil {
		return nil, err
	}
	now := s.now()
	return &domain.Address{
		ID:         uuid.NewString(),
		Address:    full,
		LocalPart:  local,
		DomainID:   d.ID,
		DomainName: d.Name,
		Active:     true,
		ExpiresAt:  now.Add(time.Duration(ttl) * time.Minute),
		CreatedAt:  now,
	}, nil
}

// ResolveDeliverable 按规范化后的地址查找可投递的地址。
//
// 地址存在但不可投递时同时返回地址和 ErrAddressExpired，调用方据此决定是否将其停用。
func (s *AddressService) ResolveDeliverable(ctx context.Context, address string) (*domain.Address, error) {
	a, err := s.repo.GetAddressByName(ctx, domain.NormalizeAddress(address))
	if err != nil {
		return nil, err
	}
	if !a.Deliverable(s.now()) {
		return a, domain.ErrAddressExpired
	}
	return a, nil
}

// ExpireIfDue 地址已过期但仍标记有效时将其停用
func (s *AddressService) ExpireIfDue(ctx context.Context, a *domain.Address) (bool, error) {
	now := s.now()
	if !a.Expired(now) {
		return false, nil
	}
	changed, err := s.repo.ExpireAddress(ctx, a.ID, now)
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info("address expired on delivery", zap.String("address", a.Address))
	}
	return changed, nil
}

// Extend 把过期时间改为 now + ttl，只对有效地址生效
func (s *AddressService) Extend(ctx context.Context, id string, ttlMinutes int) (*domain.Address, error) {
	if err := domain.ValidateTTL(ttlMinutes); err != nil {
		return nil, err
	}
	return s.repo.ExtendAddress(ctx, id, s.now().Add(time.Duration(ttlMinutes)*time.Minute))
}

// Deactivate 停用地址，重复调用没有副作用
func (s *AddressService) Deactivate(ctx context.Context, id string) error {
	return s.repo.DeactivateAddress(ctx, id, s.now())
}

// Get 根据 ID 获取地址
func (s *AddressService) Get(ctx context.Context, id string) (*domain.Address, error) {
	return s.repo.GetAddress(ctx, id)
}

// List 分页列出地址
func (s *AddressService) List(ctx context.Context, filter domain.AddressFilter, opts domain.ListOptions) (domain.Page[domain.Address], error) {
	opts = opts.Normalize()
	items, total, err := s.repo.ListAddresses(ctx, filter, opts)
	if err != nil {
		return domain.Page[domain.Address]{}, err
	}
	return domain.NewPage(items, total, opts), nil
}

// Delete 删除地址、邮件与附件。元数据在一个事务里删除，之后回收附件对象。
func (s *AddressService) Delete(ctx context.Context, id string) error {
	locators, err := s.repo.DeleteAddress(ctx, id)
	if err != nil {
		return err
	}
	releaseBlobs(ctx, s.blobs, locators, s.log)
	s.log.Info("address deleted", zap.String("id", id), zap.Int("attachments", len(locators)))
	return nil
}

// releaseBlobs 回收附件对象，失败只记录日志
func releaseBlobs(ctx context.Context, blobs BlobStore, locators []string, log *zap.Logger) {
	if blobs == nil || len(locators) == 0 {
		return
	}
	if _, err := blobs.DeleteAll(ctx, locators); err != nil {
		log.Warn("failed to delete attachment objects", zap.Error(err))
	}
}
