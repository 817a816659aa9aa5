package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/storage"
)

// DomainService 管理可用于创建地址的域名
type DomainService struct {
	repo      storage.DomainRepository
	validator *domain.EmailValidator
	now       Clock
	log       *zap.Logger
}

// NewDomainService 创建域名服务
func NewDomainService(repo storage.DomainRepository, log *zap.Logger) *DomainService {
	return &DomainService{
		repo:      repo,
		validator: domain.NewEmailValidator(),
		now:       utcNow,
		log:       logger.Component(log, "domains"),
	}
}

// CreateDomainInput 添加域名的输入
type CreateDomainInput struct {
	Name      string
	Active    *bool // 默认启用
	IsDefault bool
}

// UpdateDomainInput 更新域名的输入，nil 字段保持不变
type UpdateDomainInput struct {
	Active    *bool
	IsDefault *bool
}

// Seed 确保配置中的域名都已存在，第一个作为默认域名。已存在的域名保持原状。
func (s *DomainService) Seed(ctx context.Context, names []string) error {
	for i, name := range names {
		_, err := s.Create(ctx, CreateDomainInput{Name: name, IsDefault: i == 0})
		switch {
		case err == nil:
			s.log.Info("domain seeded", zap.String("domain", name))
		case errors.Is(err, domain.ErrDomainConflict):
		default:
			return err
		}
	}
	return nil
}

// Create 添加域名
func (s *DomainService) Create(ctx context.Context, input CreateDomainInput) (*domain.Domain, error) {
	name := strings.ToLower(strings.TrimSpace(input.Name))
	if err := s.validator.ValidateDomain(name); err != nil {
		return nil, err
	}

	active := true
	if input.Active != nil {
		active = *input.Active
	}
	d := &domain.Domain{
		ID:        uuid.NewString(),
		Name:      name,
		Active:    active,
		IsDefault: input.IsDefault,
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateDomain(ctx, d); err != nil {
		return nil, err
	}
	if d.IsDefault {
		if err := s.clearDefault(ctx, d.ID); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Get 根据 ID 获取域名
func (s *DomainService) Get(ctx context.Context, id string) (*domain.Domain, error) {
	return s.repo.GetDomain(ctx, id)
}

// List 列出域名
func (s *DomainService) List(ctx context.Context, activeOnly bool) ([]domain.Domain, error) {
	return s.repo.ListDomains(ctx, activeOnly)
}

// Update 修改启用状态或默认标记
func (s *DomainService) Update(ctx context.Context, id string, input UpdateDomainInput) (*domain.Domain, error) {
	d, err := s.repo.GetDomain(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Active != nil {
		d.Active = *input.Active
	}
	if input.IsDefault != nil {
		d.IsDefault = *input.IsDefault
	}
	if err := s.repo.UpdateDomain(ctx, d); err != nil {
		return nil, err
	}
	if d.IsDefault {
		if err := s.clearDefault(ctx, d.ID); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Delete 删除域名，已有地址保留到过期清理
func (s *DomainService) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteDomain(ctx, id)
}

// Pick 选择新地址使用的域名。未指定时从启用的域名中随机选一个。
func (s *DomainService) Pick(ctx context.Context, requested string) (*domain.Domain, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		active, err := s.repo.ListDomains(ctx, true)
		if err != nil {
			return nil, err
		}
		if len(active) == 0 {
			return nil, domain.ErrNoActiveDomain
		}
		d := active[randomIndex(len(active))]
		return &d, nil
	}

	d, err := s.repo.GetDomainByName(ctx, requested)
	if err != nil {
		return nil, err
	}
	if !d.Active {
		return nil, domain.ErrDomainInactive
	}
	return d, nil
}

// Serves 判断域名是否由本服务接收，停用的域名仍接收已有地址的邮件
func (s *DomainService) Serves(ctx context.Context, name string) (bool, error) {
	_, err := s.repo.GetDomainByName(ctx, strings.ToLower(strings.TrimSpace(name)))
	if errors.Is(err, domain.ErrDomainNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// clearDefault 只保留一个默认域名
func (s *DomainService) clearDefault(ctx context.Context, keepID string) error {
	all, err := s.repo.ListDomains(ctx, false)
	if err != nil {
		return err
	}
	for i := range all {
		if all[i].ID == keepID || !all[i].IsDefault {
			continue
		}
		all[i].IsDefault = false
		if err := s.repo.UpdateDomain(ctx, &all[i]); err != nil {
			return err
		}
	}
	return nil
}
