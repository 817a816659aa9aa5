package service

import (
	"context"
	"io"

	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/storage"
)

// MessageService 封装收件箱的读取与删除。
type MessageService struct {
	repo      storage.MessageRepository
	addresses storage.AddressRepository
	blobs     BlobStore
	log       *zap.Logger
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(repo storage.MessageRepository, addresses storage.AddressRepository, blobs BlobStore, log *zap.Logger) *MessageService {
	return &MessageService{
		repo:      repo,
		addresses: addresses,
		blobs:     blobs,
		log:       logger.Component(log, "messages"),
	}
}

// List 分页列出地址下的邮件，最新的在前。地址不存在时返回 ErrAddressNotFound。
func (s *MessageService) List(ctx context.Context, addressID string, opts domain.ListOptions) (domain.Page[domain.Message], error) {
	if _, err := s.addresses.GetAddress(ctx, addressID); err != nil {
		return domain.Page[domain.Message]{}, err
	}
	opts = opts.Normalize()
	items, total, err := s.repo.ListMessages(ctx, addressID, opts)
	if err != nil {
		return domain.Page[domain.Message]{}, err
	}
	return domain.NewPage(items, total, opts), nil
}

// Get 获取单封邮件
func (s *MessageService) Get(ctx context.Context, addressID, messageID string) (*domain.Message, error) {
	return s.repo.GetMessage(ctx, addressID, messageID)
}

// MarkRead 设置已读状态
func (s *MessageService) MarkRead(ctx context.Context, addressID, messageID string, read bool) error {
	return s.repo.MarkMessageRead(ctx, addressID, messageID, read)
}

// Delete 删除邮件及其附件
func (s *MessageService) Delete(ctx context.Context, addressID, messageID string) error {
	locators, err := s.repo.DeleteMessage(ctx, addressID, messageID)
	if err != nil {
		return err
	}
	releaseBlobs(ctx, s.blobs, locators, s.log)
	return nil
}

// OpenAttachment 打开附件内容，调用方负责关闭
func (s *MessageService) OpenAttachment(ctx context.Context, addressID, messageID, attachmentID string) (*domain.AttachmentRef, io.ReadCloser, error) {
	if _, err := s.repo.GetMessage(ctx, addressID, messageID); err != nil {
		return nil, nil, err
	}
	ref, err := s.repo.GetAttachment(ctx, messageID, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	if s.blobs == nil {
		return nil, nil, domain.ErrAttachmentMissing
	}
	rc, err := s.blobs.Open(ctx, ref.StorageLocator)
	if err != nil {
		return nil, nil, err
	}
	return ref, rc, nil
}
