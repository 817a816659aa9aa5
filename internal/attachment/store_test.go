package attachment

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/blobstore"
	"tempmail/inbox/internal/domain"
)

// MockBackend 模拟 blob 存储后端
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, key, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	args := m.Called(ctx, locator)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Delete(ctx context.Context, locator string) error {
	return m.Called(ctx, locator).Error(0)
}

func (m *MockBackend) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (m *MockBackend) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	args := m.Called(ctx, prefix)
	return args.Int(0), args.Error(1)
}

func (m *MockBackend) Name() string { return "mock" }

// blockingBackend 直到上下文结束才返回
type blockingBackend struct{ MockBackend }

func (b *blockingBackend) Put(ctx context.Context, _ string, _ []byte, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) }

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"普通文件名", "report.pdf", "report.pdf"},
		{"空格替换", "my report.pdf", "my_report.pdf"},
		{"去除路径", "../../etc/passwd", "passwd"},
		{"Windows 路径", `C:\Users\a\evil.exe`, "evil.exe"},
		{"变音符号", "résumé.docx", "resume.docx"},
		{"中文字符", "报告.pdf", "_.pdf"},
		{"隐藏文件", ".bashrc", "bashrc"},
		{"特殊字符合并", "a<>:|b.txt", "a_b.txt"},
		{"空字符串", "", "attachment"},
		{"只有非法字符", "???", "attachment"},
		{"控制字符", "a\x00b\nc.txt", "a_b_c.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.input))
		})
	}

	t.Run("超长保留扩展名", func(t *testing.T) {
		got := SanitizeFilename(strings.Repeat("a", 300) + ".pdf")
		assert.Len(t, got, maxFilenameLength)
		assert.True(t, strings.HasSuffix(got, ".pdf"))
	})
}

func TestStore_Key(t *testing.T) {
	s := NewStore(&MockBackend{}, Options{Now: fixedNow})

	first := s.Key("a.txt")
	second := s.Key("a.txt")
	assert.True(t, strings.HasPrefix(first, "2026/03/01/"))
	assert.True(t, strings.HasSuffix(first, "-000001-a.txt"))
	assert.True(t, strings.HasSuffix(second, "-000002-a.txt"))
	assert.NotEqual(t, first, second, "同一时刻同名文件也不会冲突")
}

func TestStore_Store(t *testing.T) {
	ctx := context.Background()

	t.Run("成功保存", func(t *testing.T) {
		backend := &MockBackend{}
		backend.On("Put", mock.Anything, mock.MatchedBy(func(key string) bool {
			return strings.HasSuffix(key, "-my_file.txt")
		}), []byte("hello"), "text/plain").Return("loc-1", nil).Once()

		s := NewStore(backend, Options{Now: fixedNow})
		stored, err := s.Store(ctx, []byte("hello"), "my file.txt", "text/plain")
		require.NoError(t, err)
		assert.Equal(t, "loc-1", stored.Locator)
		assert.Equal(t, "my_file.txt", stored.Filename)
		assert.Equal(t, int64(5), stored.SizeBytes)
		backend.AssertExpectations(t)
	})

	t.Run("失败后重试成功", func(t *testing.T) {
		backend := &MockBackend{}
		backend.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("503")).Twice()
		backend.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("loc-2", nil).Once()

		s := NewStore(backend, Options{Retries: 2, Backoff: time.Millisecond, Now: fixedNow})
		stored, err := s.Store(ctx, []byte("x"), "a.bin", "")
		require.NoError(t, err)
		assert.Equal(t, "loc-2", stored.Locator)
		backend.AssertNumberOfCalls(t, "Put", 3)
	})

	t.Run("重试次数用尽", func(t *testing.T) {
		backend := &MockBackend{}
		backend.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("disk full"))

		s := NewStore(backend, Options{Retries: 1, Backoff: time.Millisecond, Now: fixedNow})
		_, err := s.Store(ctx, []byte("x"), "a.bin", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
		assert.Contains(t, err.Error(), "disk full")
		backend.AssertNumberOfCalls(t, "Put", 2)
	})

	t.Run("单次调用超时", func(t *testing.T) {
		s := NewStore(&blockingBackend{}, Options{Timeout: 20 * time.Millisecond, Now: fixedNow})

		start := time.Now()
		_, err := s.Store(ctx, []byte("x"), "a.bin", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestStore_DeleteAll(t *testing.T) {
	backend := &MockBackend{}
	backend.On("Delete", mock.Anything, "ok-1").Return(nil)
	backend.On("Delete", mock.Anything, "bad").Return(errors.New("denied"))
	backend.On("Delete", mock.Anything, "ok-2").Return(nil)

	s := NewStore(backend, Options{})
	deleted, err := s.DeleteAll(context.Background(), []string{"ok-1", "bad", "ok-2"})
	assert.Equal(t, 2, deleted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestStore_Filesystem(t *testing.T) {
	ctx := context.Background()
	fsys, err := blobstore.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	s := NewStore(fsys, Options{Now: fixedNow})

	stored, err := s.Store(ctx, []byte("content"), "../../secret.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "secret.txt", stored.Filename)
	assert.True(t, strings.HasPrefix(stored.Locator, "2026/03/01/"))

	rc, err := s.Open(ctx, stored.Locator)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "content", string(data))

	require.NoError(t, s.Delete(ctx, stored.Locator))
	_, err = s.Open(ctx, stored.Locator)
	assert.ErrorIs(t, err, domain.ErrAttachmentMissing)
}

func TestStore_PurgeBefore(t *testing.T) {
	ctx := context.Background()

	t.Run("回收没有记录引用的对象", func(t *testing.T) {
		fsys, err := blobstore.NewFilesystem(t.TempDir())
		require.NoError(t, err)

		at := time.Date(2025, 12, 30, 23, 0, 0, 0, time.UTC)
		s := NewStore(fsys, Options{Now: func() time.Time { return at }})

		// 写入对象后没有保存元数据，模拟崩溃
		lastYear, err := s.Store(ctx, []byte("a"), "a.txt", "")
		require.NoError(t, err)
		at = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
		february, err := s.Store(ctx, []byte("b"), "b.txt", "")
		require.NoError(t, err)
		at = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
		sameDay, err := s.Store(ctx, []byte("c"), "c.txt", "")
		require.NoError(t, err)
		at = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
		recent, err := s.Store(ctx, []byte("d"), "d.txt", "")
		require.NoError(t, err)

		// cutoff 落在 3 月 2 日当天，只有整段更早的分区被删除
		purged, err := s.PurgeBefore(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 3, purged)

		for _, locator := range []string{lastYear.Locator, february.Locator, sameDay.Locator} {
			_, err := s.Open(ctx, locator)
			assert.ErrorIs(t, err, domain.ErrAttachmentMissing, locator)
		}
		rc, err := s.Open(ctx, recent.Locator)
		require.NoError(t, err)
		rc.Close()

		// 再次运行没有可删除的对象
		purged, err = s.PurgeBefore(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Zero(t, purged)
	})

	t.Run("跳过无法识别的目录", func(t *testing.T) {
		backend := &MockBackend{}
		backend.On("ListPrefixes", mock.Anything, "").Return([]string{"tmp", "2026"}, nil).Once()
		backend.On("ListPrefixes", mock.Anything, "2026").Return([]string{"02", "xx", "03"}, nil).Once()
		backend.On("DeletePrefix", mock.Anything, "2026/02").Return(4, nil).Once()
		backend.On("ListPrefixes", mock.Anything, "2026/03").Return([]string{"01", "02"}, nil).Once()
		backend.On("DeletePrefix", mock.Anything, "2026/03/01").Return(1, nil).Once()

		s := NewStore(backend, Options{})
		purged, err := s.PurgeBefore(ctx, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 5, purged)
		backend.AssertExpectations(t)
		backend.AssertNotCalled(t, "DeletePrefix", mock.Anything, "2026/03/02")
	})

	t.Run("单个分区失败不影响其他分区", func(t *testing.T) {
		backend := &MockBackend{}
		backend.On("ListPrefixes", mock.Anything, "").Return([]string{"2024", "2025"}, nil).Once()
		backend.On("DeletePrefix", mock.Anything, "2024").Return(0, errors.New("denied")).Once()
		backend.On("DeletePrefix", mock.Anything, "2025").Return(2, nil).Once()

		s := NewStore(backend, Options{})
		purged, err := s.PurgeBefore(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "denied")
		assert.Equal(t, 2, purged)
	})
}
