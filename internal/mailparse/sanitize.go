package mailparse

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// 连同内容一起删除的元素
var dropElements = map[string]bool{
	"script":    true,
	"iframe":    true,
	"object":    true,
	"embed":     true,
	"applet":    true,
	"frameset":  true,
	"frame":     true,
	"noscript":  true,
	"noembed":   true,
	"noframes":  true,
	"template":  true,
	"xmp":       true,
	"plaintext": true,
	"base":      true,
	"meta":      true,
	"link":      true,
}

// 取值为 URL 的属性
var urlAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"background": true,
	"poster":     true,
	"cite":       true,
	"longdesc":   true,
	"lowsrc":     true,
	"dynsrc":     true,
	"data":       true,
}

// SanitizeHTML 按浏览器的解析规则建树，删除可执行内容后重新序列化。
//
// svg 和 math 子树的解析规则与 HTML 不同，整棵删除。
func SanitizeHTML(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return ""
	}

	var b strings.Builder
	b.Grow(len(src))
	for _, n := range nodes {
		if removable(n) {
			continue
		}
		clean(n)
		if err := html.Render(&b, n); err != nil {
			return ""
		}
	}
	return b.String()
}

func removable(n *html.Node) bool {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return true
	case html.ElementNode:
		return n.Namespace != "" || dropElements[n.Data]
	}
	return false
}

func clean(n *html.Node) {
	if n.Type == html.ElementNode {
		n.Attr = safeAttrs(n.Attr)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if removable(c) {
			n.RemoveChild(c)
		} else {
			clean(c)
		}
		c = next
	}
}

func safeAttrs(attrs []html.Attribute) []html.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		switch {
		case a.Namespace != "", strings.HasPrefix(key, "on"), key == "srcdoc":
			continue
		case urlAttrs[key] && dangerousURL(a.Val):
			continue
		case key == "style" && dangerousStyle(a.Val):
			continue
		}
		out = append(out, a)
	}
	return out
}

// compact 浏览器会忽略协议名中的空白和控制字符，比较前先去掉
func compact(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r <= ' ' || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

func dangerousURL(v string) bool {
	s := compact(v)
	switch {
	case strings.HasPrefix(s, "javascript:"), strings.HasPrefix(s, "vbscript:"):
		return true
	case strings.HasPrefix(s, "data:"):
		return !strings.HasPrefix(s, "data:image/")
	}
	return false
}

func dangerousStyle(v string) bool {
	s := compact(v)
	for _, bad := range []string{"expression(", "javascript:", "vbscript:", "behavior:", "-moz-binding"} {
		if strings.Contains(s, bad) {
			return true
		}
	}
	return false
}
