package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tempmail/inbox/internal/domain"
)

// Store 使用内存保存域名、地址与邮件数据，用于开发和测试。
//
// 所有操作在同一把读写锁下完成，条件更新因此天然是原子的。
type Store struct {
	mu sync.RWMutex

	domains      map[string]*domain.Domain
	domainByName map[string]string

	addresses map[string]*domain.Address
	byAddress map[string]string

	messages  map[string]*domain.Message // messageID -> message
	byOwner   map[string]map[string]struct{}
	attachRef map[string][]domain.AttachmentRef // messageID -> 附件，按 Position 排序
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		domains:      make(map[string]*domain.Domain),
		domainByName: make(map[string]string),
		addresses:    make(map[string]*domain.Address),
		byAddress:    make(map[string]string),
		messages:     make(map[string]*domain.Message),
		byOwner:      make(map[string]map[string]struct{}),
		attachRef:    make(map[string][]domain.AttachmentRef),
	}
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error { return nil }

// Close 无需释放资源
func (s *Store) Close() error { return nil }

// ========== Domain Repository ==========

// CreateDomain 保存新域名，名称重复返回 ErrDomainConflict
func (s *Store) CreateDomain(_ context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.domainByName[d.Name]; exists {
		return domain.ErrDomainConflict
	}
	cp := *d
	s.domains[d.ID] = &cp
	s.domainByName[d.Name] = d.ID
	return nil
}

// GetDomain 根据 ID 获取域名
func (s *Store) GetDomain(_ context.Context, id string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[id]
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	cp := *d
	return &cp, nil
}

// GetDomainByName 根据名称获取域名
func (s *Store) GetDomainByName(_ context.Context, name string) (*domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.domainByName[name]
	if !ok {
		return nil, domain.ErrDomainNotFound
	}
	cp := *s.domains[id]
	return &cp, nil
}

// ListDomains 按名称排序返回域名
func (s *Store) ListDomains(_ context.Context, activeOnly bool) ([]domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateDomain 更新域名状态
func (s *Store) UpdateDomain(_ context.Context, d *domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.domains[d.ID]
	if !ok {
		return domain.ErrDomainNotFound
	}
	existing.Active = d.Active
	existing.IsDefault = d.IsDefault
	return nil
}

// DeleteDomain 删除域名，已创建的地址不受影响
func (s *Store) DeleteDomain(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[id]
	if !ok {
		return domain.ErrDomainNotFound
	}
	delete(s.domainByName, d.Name)
	delete(s.domains, id)
	return nil
}

// ========== Address Repository ==========

// CreateAddress 插入新地址
func (s *Store) CreateAddress(_ context.Context, a *domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byAddress[a.Address]; exists {
		return domain.ErrAddressConflict
	}
	cp := *a
	s.addresses[a.ID] = &cp
	s.byAddress[a.Address] = a.ID
	return nil
}

// GetAddress 根据 ID 获取地址
func (s *Store) GetAddress(_ context.Context, id string) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.addresses[id]
	if !ok {
		return nil, domain.ErrAddressNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAddressByName 根据完整地址获取
func (s *Store) GetAddressByName(_ context.Context, address string) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, domain.ErrAddressNotFound
	}
	cp := *s.addresses[id]
	return &cp, nil
}

// ListAddresses 按创建时间倒序分页返回地址
func (s *Store) ListAddresses(_ context.Context, filter domain.AddressFilter, opts domain.ListOptions) ([]domain.Address, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Address, 0)
	for _, a := range s.addresses {
		if filter.DomainID != "" && a.DomainID != filter.DomainID {
			continue
		}
		if filter.Active != nil && a.Active != *filter.Active {
			continue
		}
		matched = append(matched, *a)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, opts), int64(len(matched)), nil
}

// ExtendAddress 仅当地址有效时更新过期时间
func (s *Store) ExtendAddress(_ context.Context, id string, expiresAt time.Time) (*domain.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[id]
	if !ok {
		return nil, domain.ErrAddressNotFound
	}
	if !a.Active {
		return nil, domain.ErrAddressInactive
	}
	a.ExpiresAt = expiresAt
	cp := *a
	return &cp, nil
}

// DeactivateAddress 幂等停用地址
func (s *Store) DeactivateAddress(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[id]
	if !ok {
		return domain.ErrAddressNotFound
	}
	if a.Active {
		a.Active = false
		a.DeactivatedAt = &at
	}
	return nil
}

// ExpireAddress 地址已过期但仍标记有效时将其停用
func (s *Store) ExpireAddress(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[id]
	if !ok {
		return false, domain.ErrAddressNotFound
	}
	if !a.Expired(now) {
		return false, nil
	}
	a.Active = false
	a.DeactivatedAt = &now
	return true, nil
}

// DeleteAddress 级联删除地址下的邮件与附件元数据
func (s *Store) DeleteAddress(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addresses[id]; !ok {
		return nil, domain.ErrAddressNotFound
	}
	var result domain.SweepResult
	s.deleteAddressLocked(id, &result)
	return result.Locators, nil
}

// ========== Message Repository ==========

// SaveMessage 保存邮件与附件元数据
func (s *Store) SaveMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addresses[m.AddressID]; !ok {
		return domain.ErrAddressNotFound
	}

	cp := *m
	cp.Attachments = nil
	s.messages[m.ID] = &cp
	if s.byOwner[m.AddressID] == nil {
		s.byOwner[m.AddressID] = make(map[string]struct{})
	}
	s.byOwner[m.AddressID][m.ID] = struct{}{}

	if len(m.Attachments) > 0 {
		refs := make([]domain.AttachmentRef, len(m.Attachments))
		copy(refs, m.Attachments)
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].Position < refs[j].Position })
		s.attachRef[m.ID] = refs
	}
	return nil
}

// GetMessage 获取指定地址下的邮件
func (s *Store) GetMessage(_ context.Context, addressID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok || m.AddressID != addressID {
		return nil, domain.ErrMessageNotFound
	}
	out := s.withAttachmentsLocked(m)
	return &out, nil
}

// ListMessages 按接收时间倒序分页返回邮件
func (s *Store) ListMessages(_ context.Context, addressID string, opts domain.ListOptions) ([]domain.Message, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[addressID]
	matched := make([]domain.Message, 0, len(ids))
	for id := range ids {
		matched = append(matched, s.withAttachmentsLocked(s.messages[id]))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ReceivedAt.Equal(matched[j].ReceivedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})
	return paginate(matched, opts), int64(len(matched)), nil
}

// MarkMessageRead 修改已读状态
func (s *Store) MarkMessageRead(_ context.Context, addressID, messageID string, read bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok || m.AddressID != addressID {
		return domain.ErrMessageNotFound
	}
	m.Read = read
	return nil
}

// DeleteMessage 删除邮件，返回其附件对象
func (s *Store) DeleteMessage(_ context.Context, addressID, messageID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok || m.AddressID != addressID {
		return nil, domain.ErrMessageNotFound
	}
	var result domain.SweepResult
	s.deleteMessageLocked(messageID, &result)
	return result.Locators, nil
}

// GetAttachment 获取附件元数据
func (s *Store) GetAttachment(_ context.Context, messageID, attachmentID string) (*domain.AttachmentRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ref := range s.attachRef[messageID] {
		if ref.ID == attachmentID {
			cp := ref
			return &cp, nil
		}
	}
	return nil, domain.ErrAttachmentMissing
}

// ========== Sweep Repository ==========

// ExpireAddresses 将所有已过期但仍有效的地址停用
func (s *Store) ExpireAddresses(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.addresses {
		if a.Expired(now) {
			a.Active = false
			at := now
			a.DeactivatedAt = &at
			n++
		}
	}
	return n, nil
}

// PurgeMessagesBefore 删除 cutoff 之前接收的邮件及其附件元数据
func (s *Store) PurgeMessagesBefore(_ context.Context, cutoff time.Time) (domain.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result domain.SweepResult
	for id, m := range s.messages {
		if m.ReceivedAt.Before(cutoff) {
			s.deleteMessageLocked(id, &result)
		}
	}
	return result, nil
}

// PurgeAttachmentsBefore 删除 cutoff 之前创建的附件元数据，不影响所属邮件
func (s *Store) PurgeAttachmentsBefore(_ context.Context, cutoff time.Time) (domain.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result domain.SweepResult
	for messageID, refs := range s.attachRef {
		kept := refs[:0]
		for _, ref := range refs {
			if ref.CreatedAt.Before(cutoff) {
				result.Attachments++
				result.Locators = append(result.Locators, ref.StorageLocator)
				continue
			}
			kept = append(kept, ref)
		}
		if len(kept) == 0 {
			delete(s.attachRef, messageID)
		} else {
			s.attachRef[messageID] = kept
		}
	}
	return result, nil
}

// PurgeInactiveAddresses 删除停用时间早于 cutoff 的地址
func (s *Store) PurgeInactiveAddresses(_ context.Context, cutoff time.Time) (domain.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result domain.SweepResult
	for id, a := range s.addresses {
		if !a.Active && a.DeactivatedAt != nil && a.DeactivatedAt.Before(cutoff) {
			s.deleteAddressLocked(id, &result)
		}
	}
	return result, nil
}

// CollectStatistics 汇总统计信息
func (s *Store) CollectStatistics(_ context.Context, now time.Time) (*domain.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.Statistics{GeneratedAt: now}
	for _, a := range s.addresses {
		switch {
		case a.Deliverable(now):
			stats.ActiveAddresses++
		case a.Expired(now):
			stats.ExpiredAddresses++
		default:
			stats.InactiveAddresses++
		}
	}
	since := now.Add(-24 * time.Hour)
	for _, m := range s.messages {
		stats.TotalMessages++
		if !m.Read {
			stats.UnreadMessages++
		}
		if !m.ReceivedAt.Before(since) {
			stats.MessagesLast24h++
		}
	}
	for _, refs := range s.attachRef {
		for _, ref := range refs {
			stats.Attachments++
			stats.AttachmentBytes += ref.SizeBytes
		}
	}
	return stats, nil
}

// ========== 内部方法 ==========

// deleteMessageLocked 删除邮件与附件元数据，调用方需持有写锁
func (s *Store) deleteMessageLocked(messageID string, result *domain.SweepResult) {
	m, ok := s.messages[messageID]
	if !ok {
		return
	}
	for _, ref := range s.attachRef[messageID] {
		result.Attachments++
		result.Locators = append(result.Locators, ref.StorageLocator)
	}
	delete(s.attachRef, messageID)
	if owned := s.byOwner[m.AddressID]; owned != nil {
		delete(owned, messageID)
	}
	delete(s.messages, messageID)
	result.Messages++
}

// deleteAddressLocked 先删附件，再删邮件，最后删地址
func (s *Store) deleteAddressLocked(id string, result *domain.SweepResult) {
	for messageID := range s.byOwner[id] {
		s.deleteMessageLocked(messageID, result)
	}
	delete(s.byOwner, id)
	if a, ok := s.addresses[id]; ok {
		delete(s.byAddress, a.Address)
	}
	delete(s.addresses, id)
	result.Addresses++
}

func (s *Store) withAttachmentsLocked(m *domain.Message) domain.Message {
	out := *m
	refs := s.attachRef[m.ID]
	out.Attachments = make([]domain.AttachmentRef, len(refs))
	copy(out.Attachments, refs)
	return out
}

func paginate[T any](items []T, opts domain.ListOptions) []T {
	opts = opts.Normalize()
	start := opts.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + opts.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
