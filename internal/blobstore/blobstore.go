// Package blobstore 保存附件二进制内容，支持本地文件系统和 S3 兼容的对象存储。
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tempmail/inbox/internal/config"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("blob not found")

// Backend 附件二进制存储。
//
// Put 返回的 locator 是之后 Open/Delete 使用的唯一引用，可能与传入的 key 不同
// （例如压缩后带有后缀）。Delete 对不存在的对象返回 nil。
//
// key 以 "/" 分层。ListPrefixes 返回 prefix 下一层的名字（不含 prefix 本身），
// DeletePrefix 删除 prefix 下的全部对象并返回删除数量，prefix 不能为空。
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (locator string, err error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) error
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Name() string
}

// ErrEmptyPrefix 拒绝删除整个存储
var ErrEmptyPrefix = errors.New("prefix must not be empty")

// New 根据配置创建存储后端
func New(cfg config.BlobConfig) (Backend, error) {
	switch cfg.Driver {
	case "", "filesystem":
		return NewFilesystem(cfg.Path)
	case "s3":
		return NewS3(S3Options{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
			Compress: cfg.Compress,
		})
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.Driver)
	}
}
