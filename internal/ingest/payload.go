package ingest

import (
	"fmt"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/mailparse"
)

// 投递来源
const (
	SourceSMTP    = "smtp"
	SourceWebhook = "webhook"
)

// Payload 一封待投递的邮件，原始 MIME 与结构化字段二选一
type Payload struct {
	Source string
	Raw    []byte
	Fields *mailparse.Fields

	parsed *mailparse.Normalized
}

// PrepareRaw 解析原始邮件，返回的 Payload 可以投递给多个收件人而不重复解析
func PrepareRaw(source string, raw []byte) (Payload, error) {
	n, err := mailparse.ParseRaw(raw)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Source: source, Raw: raw, parsed: n}, nil
}

// Prepared 是否已经解析
func (p Payload) Prepared() bool { return p.parsed != nil }

func (p Payload) normalize() (*mailparse.Normalized, error) {
	switch {
	case p.parsed != nil:
		return p.parsed, nil
	case p.Fields != nil:
		return mailparse.FromFields(*p.Fields), nil
	case len(p.Raw) > 0:
		return mailparse.ParseRaw(p.Raw)
	default:
		return nil, fmt.Errorf("%w: message content", domain.ErrMissingField)
	}
}

func (p Payload) prepare() (Payload, error) {
	if p.parsed != nil {
		return p, nil
	}
	n, err := p.normalize()
	if err != nil {
		return p, err
	}
	p.parsed = n
	return p, nil
}
