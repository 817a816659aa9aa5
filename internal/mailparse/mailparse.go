// Package mailparse 把原始 MIME 或结构化字段整理成统一的邮件内容。
package mailparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"

	"github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"
)

// NoSubject 主题缺失时的占位
const NoSubject = "(no subject)"

// ErrMalformed 原始邮件无法解析
var ErrMalformed = errors.New("malformed message")

// 保留的头部
var keptHeaders = []string{"Message-Id", "Date", "To", "Cc", "Reply-To", "In-Reply-To"}

func init() {
	message.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Part 附件内容
type Part struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Normalized 统一后的邮件
type Normalized struct {
	From        string
	FromName    string
	Subject     string
	Text        string
	HTML        string
	Attachments []Part
	Headers     map[string]string
	Size        int64
}

// Fields webhook 等来源提供的结构化字段
type Fields struct {
	From        string
	Subject     string
	Text        string
	HTML        string
	Headers     map[string]string
	Attachments []Part
}

// ParseRaw 解析原始 MIME 邮件
func ParseRaw(raw []byte) (*Normalized, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	defer reader.Close()

	n := &Normalized{
		Subject: subjectOrPlaceholder(subjectFromHeader(&reader.Header)),
		Headers: make(map[string]string),
		Size:    int64(len(raw)),
	}
	n.From, n.FromName = fromHeader(&reader.Header)
	for _, key := range keptHeaders {
		if v, err := reader.Header.Text(key); err == nil && v != "" {
			n.Headers[key] = v
		}
	}

	var text, html string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		// 结构损坏时保留已经读到的部分
		if err != nil && !(message.IsUnknownCharset(err) && part != nil) {
			break
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			mediaType, params, _ := h.ContentType()
			mediaType = strings.ToLower(mediaType)
			filename := inlineFilename(h, params)
			isBody := filename == "" && (mediaType == "" || strings.HasPrefix(mediaType, "text/"))
			if !isBody {
				if att, ok := readPart(part.Body, filename, mediaType); ok {
					n.Attachments = append(n.Attachments, att)
				}
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch {
			case mediaType == "text/html":
				if html == "" {
					html = string(body)
				}
			case text == "":
				text = string(body)
			}
		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			mediaType, _, _ := h.ContentType()
			if att, ok := readPart(part.Body, filename, strings.ToLower(mediaType)); ok {
				n.Attachments = append(n.Attachments, att)
			}
		}
	}

	n.Text = text
	n.HTML = SanitizeHTML(html)
	return n, nil
}

// FromFields 整理结构化字段，清洗规则与 ParseRaw 一致
func FromFields(f Fields) *Normalized {
	n := &Normalized{
		Subject:     subjectOrPlaceholder(decodeWords(f.Subject)),
		Text:        f.Text,
		HTML:        SanitizeHTML(f.HTML),
		Headers:     make(map[string]string, len(f.Headers)),
		Attachments: make([]Part, 0, len(f.Attachments)),
	}
	n.From, n.FromName = ParseFrom(decodeWords(f.From))
	for k, v := range f.Headers {
		n.Headers[k] = v
	}
	n.Size = int64(len(f.Text) + len(f.HTML))
	for _, att := range f.Attachments {
		if att.ContentType == "" {
			att.ContentType = "application/octet-stream"
		}
		n.Attachments = append(n.Attachments, att)
		n.Size += int64(len(att.Data))
	}
	return n
}

// ParseFrom 解析发件人，依次尝试 RFC 5322、尖括号扫描、整串作为地址
func ParseFrom(value string) (address, name string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	if list, err := mail.ParseAddressList(value); err == nil && len(list) > 0 {
		return list[0].Address, list[0].Name
	}

	if open := strings.LastIndex(value, "<"); open >= 0 {
		if end := strings.Index(value[open:], ">"); end > 1 {
			address = strings.TrimSpace(value[open+1 : open+end])
			name = strings.Trim(strings.TrimSpace(value[:open]), `"' `)
			if address != "" {
				return address, name
			}
		}
	}
	return value, ""
}

// ParseAddresses 解析逗号分隔的地址列表，格式不规范时逐个回退到 ParseFrom
func ParseAddresses(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if addr, _ := ParseFrom(item); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func subjectFromHeader(h *gomail.Header) string {
	if subject, err := h.Subject(); err == nil {
		return subject
	}
	return decodeWords(h.Get("Subject"))
}

func fromHeader(h *gomail.Header) (string, string) {
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		return list[0].Address, list[0].Name
	}
	raw, err := h.Text("From")
	if err != nil {
		raw = h.Get("From")
	}
	return ParseFrom(raw)
}

func subjectOrPlaceholder(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return NoSubject
	}
	return subject
}

func decodeWords(s string) string {
	dec := mime.WordDecoder{CharsetReader: message.CharsetReader}
	if decoded, err := dec.DecodeHeader(s); err == nil {
		return decoded
	}
	return s
}

func inlineFilename(h *gomail.InlineHeader, ctParams map[string]string) string {
	if _, params, err := h.ContentDisposition(); err == nil && params["filename"] != "" {
		return decodeWords(params["filename"])
	}
	return decodeWords(ctParams["name"])
}

func readPart(body io.Reader, filename, mediaType string) (Part, bool) {
	data, err := io.ReadAll(body)
	if err != nil {
		return Part{}, false
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return Part{Filename: filename, ContentType: mediaType, Data: data}, true
}
