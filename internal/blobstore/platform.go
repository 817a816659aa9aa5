package blobstore

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// validateRoot 验证存储根目录是否安全
func validateRoot(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if len(path) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal detected: %s", path)
	}
	return nil
}

// normalizeRoot 转为绝对路径并清理，大小写不敏感的平台统一小写
func normalizeRoot(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	cleanPath := filepath.Clean(absPath)
	if runtime.GOOS == "windows" {
		cleanPath = strings.ToLower(cleanPath)
	}
	return cleanPath
}

// resolveKey 将对象 key 映射到根目录下的文件路径，拒绝逃出根目录的 key
func resolveKey(root, key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	full := filepath.Join(root, filepath.FromSlash(key))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key escapes storage root: %q", key)
	}
	return full, nil
}
