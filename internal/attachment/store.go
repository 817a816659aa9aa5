// Package attachment 负责附件二进制内容的落地与回收。
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/blobstore"
	"tempmail/inbox/internal/domain"
)

// Options 存储调用的超时与重试参数
type Options struct {
	Timeout time.Duration // 单次调用超时
	Retries int           // 失败后的重试次数
	Backoff time.Duration // 第 n 次重试前等待 n*Backoff
	Now     func() time.Time
	Logger  *zap.Logger
}

// Stored 已保存附件的信息
type Stored struct {
	Locator   string
	Filename  string
	SizeBytes int64
}

// Store 附件存储，包装底层 blob 后端并提供文件名清洗、唯一前缀和有限重试
type Store struct {
	backend blobstore.Backend
	opts    Options
	seq     atomic.Uint64
	log     *zap.Logger
}

// NewStore 创建附件存储
func NewStore(backend blobstore.Backend, opts Options) *Store {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, opts: opts, log: log}
}

// Key 生成对象 key：日期分区 + 时钟/序号前缀 + 清洗后的文件名
func (s *Store) Key(filename string) string {
	now := s.opts.Now().UTC()
	return fmt.Sprintf("%s/%d-%06d-%s",
		now.Format("2006/01/02"),
		now.UnixNano(),
		s.seq.Add(1),
		filename,
	)
}

// Store 保存一个附件，失败时按配置重试，每次调用都有超时
func (s *Store) Store(ctx context.Context, data []byte, originalFilename, contentType string) (Stored, error) {
	filename := SanitizeFilename(originalFilename)
	key := s.Key(filename)

	var lastErr error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*s.opts.Backoff); err != nil {
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		locator, err := s.backend.Put(callCtx, key, data, contentType)
		cancel()
		if err == nil {
			return Stored{Locator: locator, Filename: filename, SizeBytes: int64(len(data))}, nil
		}

		lastErr = err
		s.log.Warn("attachment put failed",
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return Stored{}, fmt.Errorf("%w: store attachment %s: %w", domain.ErrStorageUnavailable, filename, lastErr)
}

// Open 读取附件内容
func (s *Store) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	rc, err := s.backend.Open(ctx, locator)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, domain.ErrAttachmentMissing
	}
	return rc, err
}

// Delete 删除附件对象
func (s *Store) Delete(ctx context.Context, locator string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.backend.Delete(callCtx, locator)
}

// DeleteAll 逐个删除附件对象，单个失败不影响其他，返回成功数量和合并后的错误
func (s *Store) DeleteAll(ctx context.Context, locators []string) (int, error) {
	var errs []error
	deleted := 0
	for _, locator := range locators {
		if err := s.Delete(ctx, locator); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", locator, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// 对象 key 的日期分区，依次为年、月、日
var partitionLayouts = []string{"2006", "2006/01", "2006/01/02"}

// PurgeBefore 删除整段时间都早于 cutoff 的日期分区，返回删除的对象数。
//
// 元数据写入前崩溃留下的对象没有任何记录引用，只能按分区回收。
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.purgeLevel(ctx, "", 0, cutoff.UTC())
}

func (s *Store) purgeLevel(ctx context.Context, prefix string, level int, cutoff time.Time) (int, error) {
	names, err := s.backend.ListPrefixes(ctx, prefix)
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, name := range names {
		partition := name
		if prefix != "" {
			partition = prefix + "/" + name
		}
		start, err := time.Parse(partitionLayouts[level], partition)
		if err != nil {
			// 不是本服务写入的目录
			continue
		}

		var end time.Time
		switch level {
		case 0:
			end = start.AddDate(1, 0, 0)
		case 1:
			end = start.AddDate(0, 1, 0)
		default:
			end = start.AddDate(0, 0, 1)
		}

		switch {
		case !end.After(cutoff):
			n, err := s.backend.DeletePrefix(ctx, partition)
			total += n
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if n > 0 {
				s.log.Info("attachment partition purged", zap.String("partition", partition), zap.Int("objects", n))
			}
		case start.Before(cutoff) && level < len(partitionLayouts)-1:
			n, err := s.purgeLevel(ctx, partition, level+1, cutoff)
			total += n
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return total, errors.Join(errs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
