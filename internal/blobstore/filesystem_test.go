package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/config"
)

func TestFilesystem(t *testing.T) {
	ctx := context.Background()

	t.Run("自动创建根目录", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "new", "nested")
		fsys, err := NewFilesystem(root)
		require.NoError(t, err)
		assert.Equal(t, "filesystem", fsys.Name())

		_, err = os.Stat(root)
		assert.NoError(t, err)
	})

	t.Run("拒绝路径遍历的根目录", func(t *testing.T) {
		_, err := NewFilesystem("../outside")
		assert.Error(t, err)
	})

	t.Run("写入读取删除", func(t *testing.T) {
		fsys, err := NewFilesystem(t.TempDir())
		require.NoError(t, err)

		locator, err := fsys.Put(ctx, "2026/03/01/1-report.pdf", []byte("pdf-bytes"), "application/pdf")
		require.NoError(t, err)
		assert.Equal(t, "2026/03/01/1-report.pdf", locator)

		rc, err := fsys.Open(ctx, locator)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "pdf-bytes", string(data))

		require.NoError(t, fsys.Delete(ctx, locator))
		_, err = fsys.Open(ctx, locator)
		assert.ErrorIs(t, err, ErrNotFound)

		// 重复删除不报错
		assert.NoError(t, fsys.Delete(ctx, locator))
	})

	t.Run("拒绝逃出根目录的key", func(t *testing.T) {
		fsys, err := NewFilesystem(t.TempDir())
		require.NoError(t, err)

		for _, key := range []string{"../escape.txt", "a/../../escape.txt", "", "."} {
			_, err := fsys.Put(ctx, key, []byte("x"), "")
			assert.Error(t, err, "key=%q", key)
		}
	})

	t.Run("按前缀列出和删除", func(t *testing.T) {
		fsys, err := NewFilesystem(t.TempDir())
		require.NoError(t, err)

		for _, key := range []string{"2026/02/27/1-a.txt", "2026/02/28/2-b.txt", "2026/02/28/3-c.txt", "2026/03/01/4-d.txt"} {
			_, err := fsys.Put(ctx, key, []byte("x"), "")
			require.NoError(t, err)
		}

		names, err := fsys.ListPrefixes(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"2026"}, names)
		names, err = fsys.ListPrefixes(ctx, "2026/02")
		require.NoError(t, err)
		assert.Equal(t, []string{"27", "28"}, names)

		// 不存在的目录返回空
		names, err = fsys.ListPrefixes(ctx, "2025")
		require.NoError(t, err)
		assert.Empty(t, names)

		deleted, err := fsys.DeletePrefix(ctx, "2026/02")
		require.NoError(t, err)
		assert.Equal(t, 3, deleted)
		_, err = fsys.Open(ctx, "2026/02/28/2-b.txt")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = fsys.Open(ctx, "2026/03/01/4-d.txt")
		assert.NoError(t, err)

		deleted, err = fsys.DeletePrefix(ctx, "2026/02")
		require.NoError(t, err)
		assert.Zero(t, deleted)

		_, err = fsys.DeletePrefix(ctx, "/")
		assert.ErrorIs(t, err, ErrEmptyPrefix)
		_, err = fsys.DeletePrefix(ctx, "../outside")
		assert.Error(t, err)
	})

	t.Run("取消的上下文", func(t *testing.T) {
		fsys, err := NewFilesystem(t.TempDir())
		require.NoError(t, err)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err = fsys.Put(cancelled, "a.txt", []byte("x"), "")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNew(t *testing.T) {
	t.Run("默认使用文件系统", func(t *testing.T) {
		backend, err := New(config.BlobConfig{Driver: "filesystem", Path: t.TempDir()})
		require.NoError(t, err)
		assert.Equal(t, "filesystem", backend.Name())
	})

	t.Run("S3需要bucket", func(t *testing.T) {
		_, err := New(config.BlobConfig{Driver: "s3"})
		assert.Error(t, err)
	})

	t.Run("S3对象key带前缀", func(t *testing.T) {
		backend, err := New(config.BlobConfig{Driver: "s3", S3Bucket: "mail", S3Region: "us-east-1", S3Prefix: "/attachments/"})
		require.NoError(t, err)
		s3b := backend.(*S3)
		assert.Equal(t, "attachments/2026/03/01/a.bin", s3b.objectKey("2026/03/01/a.bin"))
	})

	t.Run("未知驱动", func(t *testing.T) {
		_, err := New(config.BlobConfig{Driver: "ftp"})
		assert.Error(t, err)
	})
}
