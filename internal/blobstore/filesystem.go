package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem 本地文件系统存储实现
type Filesystem struct {
	root string
}

// NewFilesystem 创建文件系统存储，根目录不存在时自动创建
func NewFilesystem(root string) (*Filesystem, error) {
	if err := validateRoot(root); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}
	normalized := normalizeRoot(root)
	if err := os.MkdirAll(normalized, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Filesystem{root: normalized}, nil
}

// Name 返回后端名称
func (f *Filesystem) Name() string { return "filesystem" }

// Put 先写临时文件再重命名，读者不会看到写了一半的文件
func (f *Filesystem) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := resolveKey(f.root, key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return key, nil
}

// Open 打开对象
func (f *Filesystem) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := resolveKey(f.root, locator)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return file, nil
}

// Delete 删除对象，不存在时忽略
func (f *Filesystem) Delete(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := resolveKey(f.root, locator)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// ListPrefixes 列出 prefix 目录下的子目录，忽略上传中的临时文件
func (f *Filesystem) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := f.root
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		var err error
		if dir, err = resolveKey(f.root, prefix); err != nil {
			return nil, err
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %q: %w", prefix, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeletePrefix 删除 prefix 目录及其中的所有文件
func (f *Filesystem) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	dir, err := resolveKey(f.root, prefix)
	if err != nil {
		return 0, err
	}

	count := 0
	err = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			count++
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to walk %q: %w", prefix, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("failed to delete %q: %w", prefix, err)
	}
	return count, nil
}
