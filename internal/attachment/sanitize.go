package attachment

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxFilenameLength = 128

// SanitizeFilename 生成可安全落盘的文件名。
//
// 去掉路径部分，去除变音符号，除 [A-Za-z0-9.-] 以外的字符替换为 '_'，
// 连续的 '_' 合并，去掉开头的 '.'，超长时保留扩展名截断。
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		name = ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		if isSafe(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	out = limitLength(out, maxFilenameLength)
	if strings.Trim(out, "_.") == "" {
		return "attachment"
	}
	return out
}

func isSafe(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-'
}

// limitLength 截断文件名，尽量保留扩展名
func limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	ext := path.Ext(s)
	if len(ext) >= maxLen/2 {
		return s[:maxLen]
	}
	return strings.TrimSuffix(s, ext)[:maxLen-len(ext)] + ext
}
