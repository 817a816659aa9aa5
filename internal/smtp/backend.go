// Package smtp 把 SMTP 会话转换为收信流水线调用。
//
// 服务只接收邮件，不提供认证和转发：收件人域名必须是本系统管理的域名，
// 其他域名一律以 550 拒绝，不会成为开放中继。
package smtp

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/ingest"
	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/monitoring"
)

// 单次 DATA 处理的最长时间
const dataTimeout = 2 * time.Minute

// Ingester 收信流水线
type Ingester interface {
	IngestAll(ctx context.Context, recipients []string, payload ingest.Payload) ([]ingest.Result, error)
}

// DomainChecker 判断域名是否由本系统管理
type DomainChecker interface {
	Serves(ctx context.Context, name string) (bool, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
type Backend struct {
	ingester      Ingester
	domains       DomainChecker
	limiter       *IPLimiter
	validator     *domain.EmailValidator
	maxRecipients int
	metrics       *monitoring.Metrics
	log           *zap.Logger
}

// BackendOptions 会话限制
type BackendOptions struct {
	MaxRecipients int
	Limiter       *IPLimiter
}

// NewBackend 创建 SMTP Backend。
func NewBackend(ingester Ingester, domains DomainChecker, opts BackendOptions, metrics *monitoring.Metrics, log *zap.Logger) *Backend {
	return &Backend{
		ingester:      ingester,
		domains:       domains,
		limiter:       opts.Limiter,
		validator:     domain.NewEmailValidator(),
		maxRecipients: opts.MaxRecipients,
		metrics:       metrics,
		log:           logger.Component(log, "smtp"),
	}
}

// NewSession 创建新的 SMTP 会话，超过来源 IP 的速率时返回 421
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ip := remoteIP(c)
	if !b.limiter.Allow(ip) {
		b.metrics.RecordRateLimitBlock("smtp")
		b.metrics.RecordSMTPRejection(421)
		b.log.Warn("session rate limited", zap.String("remote_ip", ip))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}

	b.metrics.RecordSMTPSession()
	return &session{
		backend: b,
		log:     b.log.With(zap.String("remote_ip", ip)),
	}, nil
}

type session struct {
	backend    *Backend
	log        *zap.Logger
	from       string
	recipients []string
}

// Mail 接受任意发件人
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 只接受本系统域名下格式正确的地址，地址本身是否存在在 DATA 阶段判断
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.backend.maxRecipients > 0 && len(s.recipients) >= s.backend.maxRecipients {
		return s.reject(452, gosmtp.EnhancedCode{4, 5, 3}, "too many recipients")
	}

	addr := domain.NormalizeAddress(to)
	if err := s.backend.validator.ValidateEmail(addr); err != nil {
		return s.reject(501, gosmtp.EnhancedCode{5, 1, 3}, "invalid recipient address")
	}
	_, host, _ := domain.SplitAddress(addr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	served, err := s.backend.domains.Serves(ctx, host)
	if err != nil {
		s.log.Error("failed to check recipient domain", zap.String("domain", host), zap.Error(err))
		return s.reject(451, gosmtp.EnhancedCode{4, 3, 0}, "temporary failure, try again later")
	}
	if !served {
		return s.reject(550, gosmtp.EnhancedCode{5, 7, 1}, "relay access denied")
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 读取并解析一次邮件，然后逐个收件人投递
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) {
			s.backend.metrics.RecordSMTPRejection(smtpErr.Code)
			return smtpErr
		}
		s.log.Warn("failed to read message", zap.Error(err))
		return s.reject(451, gosmtp.EnhancedCode{4, 3, 0}, "failed to read message")
	}

	payload, err := ingest.PrepareRaw(ingest.SourceSMTP, raw)
	if err != nil {
		s.log.Info("unparseable message", zap.String("from", s.from), zap.Error(err))
		return s.reject(554, gosmtp.EnhancedCode{5, 6, 0}, "message could not be parsed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dataTimeout)
	defer cancel()
	results, err := s.backend.ingester.IngestAll(ctx, s.recipients, payload)
	if err != nil {
		return s.reject(554, gosmtp.EnhancedCode{5, 6, 0}, "message could not be parsed")
	}

	stored, failed := 0, 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
		case res.Outcome == ingest.OutcomeStored:
			stored++
		}
	}
	s.log.Info("message received",
		zap.String("from", s.from),
		zap.Int("recipients", len(results)),
		zap.Int("stored", stored),
		zap.Int("failed", failed),
		zap.Int("size", len(raw)),
	)

	switch {
	case stored > 0:
		return nil
	case failed > 0:
		return s.reject(451, gosmtp.EnhancedCode{4, 3, 0}, "temporary storage failure, try again later")
	default:
		return s.reject(550, gosmtp.EnhancedCode{5, 1, 1}, "recipient address rejected")
	}
}

// Reset 清空信封
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束
func (s *session) Logout() error {
	return nil
}

func (s *session) reject(code int, enhanced gosmtp.EnhancedCode, msg string) error {
	s.backend.metrics.RecordSMTPRejection(code)
	return &gosmtp.SMTPError{Code: code, EnhancedCode: enhanced, Message: msg}
}

func remoteIP(c *gosmtp.Conn) string {
	if c == nil || c.Conn() == nil {
		return ""
	}
	addr := c.Conn().RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
