package smtp

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/ingest"
	"tempmail/inbox/internal/monitoring"
)

// fakeDomains 固定的域名集合
type fakeDomains map[string]bool

func (d fakeDomains) Serves(_ context.Context, name string) (bool, error) {
	if name == "broken.mail" {
		return false, errors.New("database down")
	}
	return d[name], nil
}

// fakeIngester 按收件人返回预设结果
type fakeIngester struct {
	mu       sync.Mutex
	outcomes map[string]ingest.Result
	calls    [][]string
	payloads []ingest.Payload
}

func (f *fakeIngester) IngestAll(_ context.Context, recipients []string, payload ingest.Payload) ([]ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recipients)
	f.payloads = append(f.payloads, payload)

	results := make([]ingest.Result, 0, len(recipients))
	for _, r := range recipients {
		res, ok := f.outcomes[r]
		if !ok {
			res = ingest.Result{Outcome: ingest.OutcomeStored}
		}
		res.Recipient = r
		results = append(results, res)
	}
	return results, nil
}

const sampleMessage = "From: Sender <sender@example.com>\r\n" +
	"To: box@temp.mail\r\n" +
	"Subject: hello\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello there\r\n"

type harness struct {
	addr     string
	ingester *fakeIngester
	metrics  *monitoring.Metrics
}

func startServer(t *testing.T, limiter *IPLimiter) *harness {
	t.Helper()
	ing := &fakeIngester{outcomes: map[string]ingest.Result{
		"gone@temp.mail":    {Outcome: ingest.OutcomeAddressNotFound},
		"expired@temp.mail": {Outcome: ingest.OutcomeAddressExpired},
		"fail@temp.mail":    {Err: errors.New("storage unavailable")},
	}}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	backend := NewBackend(ing, fakeDomains{"temp.mail": true}, BackendOptions{MaxRecipients: 3, Limiter: limiter}, metrics, nil)
	srv := NewServer(config.SMTPConfig{
		Domain:          "mx.temp.mail",
		MaxMessageBytes: 1 << 20,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	}, backend, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
		defer c()
		_ = srv.Shutdown(shutdownCtx)
		assert.NoError(t, <-done)
	})

	return &harness{addr: l.Addr().String(), ingester: ing, metrics: metrics}
}

func dial(t *testing.T, addr string) *gosmtp.Client {
	t.Helper()
	c, err := gosmtp.Dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Hello("client.test"))
	return c
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.True(t, errors.As(err, &smtpErr), "expected SMTP error, got %v", err)
	return smtpErr.Code
}

// send 完成一次投递，返回 DATA 结束时的错误
func send(t *testing.T, c *gosmtp.Client, body string, rcpts ...string) error {
	t.Helper()
	require.NoError(t, c.Mail("sender@example.com", nil))
	for _, r := range rcpts {
		require.NoError(t, c.Rcpt(r, nil))
	}
	w, err := c.Data()
	require.NoError(t, err)
	_, err = w.Write([]byte(body))
	require.NoError(t, err)
	return w.Close()
}

func TestSession_NoAuthAdvertised(t *testing.T) {
	h := startServer(t, nil)
	c := dial(t, h.addr)

	ok, _ := c.Extension("AUTH")
	assert.False(t, ok)
}

func TestSession_Rcpt(t *testing.T) {
	h := startServer(t, nil)

	tests := []struct {
		name string
		rcpt string
		code int
	}{
		{"本系统域名", "Box@Temp.Mail", 0},
		{"外部域名拒绝中继", "someone@gmail.com", 550},
		{"格式错误", "not-an-address", 501},
		{"域名查询失败", "box@broken.mail", 451},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, h.addr)
			require.NoError(t, c.Mail("sender@example.com", nil))
			err := c.Rcpt(tt.rcpt, nil)
			if tt.code == 0 {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, smtpCode(t, err))
		})
	}

	t.Run("超过收件人上限", func(t *testing.T) {
		c := dial(t, h.addr)
		require.NoError(t, c.Mail("sender@example.com", nil))
		for _, r := range []string{"a@temp.mail", "b@temp.mail", "c@temp.mail"} {
			require.NoError(t, c.Rcpt(r, nil))
		}
		assert.Equal(t, 452, smtpCode(t, c.Rcpt("d@temp.mail", nil)))
	})
}

func TestSession_Data(t *testing.T) {
	tests := []struct {
		name  string
		rcpts []string
		code  int
	}{
		{"全部成功", []string{"a@temp.mail", "b@temp.mail"}, 0},
		{"部分收件人不存在", []string{"a@temp.mail", "gone@temp.mail"}, 0},
		{"部分存储失败", []string{"a@temp.mail", "fail@temp.mail"}, 0},
		{"全部不存在或已过期", []string{"gone@temp.mail", "expired@temp.mail"}, 550},
		{"全部存储失败", []string{"fail@temp.mail"}, 451},
		{"存储失败与不存在混合", []string{"fail@temp.mail", "gone@temp.mail"}, 451},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startServer(t, nil)
			c := dial(t, h.addr)

			err := send(t, c, sampleMessage, tt.rcpts...)
			if tt.code == 0 {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.code, smtpCode(t, err))
			}

			h.ingester.mu.Lock()
			defer h.ingester.mu.Unlock()
			require.Len(t, h.ingester.calls, 1)
			assert.Equal(t, tt.rcpts, h.ingester.calls[0])
			assert.True(t, h.ingester.payloads[0].Prepared(), "邮件只解析一次")
			assert.Equal(t, ingest.SourceSMTP, h.ingester.payloads[0].Source)
		})
	}

	t.Run("无法解析的邮件", func(t *testing.T) {
		h := startServer(t, nil)
		c := dial(t, h.addr)

		err := send(t, c, "this is not a mime message\r\n", "a@temp.mail")
		assert.Equal(t, 554, smtpCode(t, err))
		assert.Empty(t, h.ingester.calls)
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SMTPRejections.WithLabelValues("554")))
	})

	t.Run("同一连接投递多封", func(t *testing.T) {
		h := startServer(t, nil)
		c := dial(t, h.addr)

		require.NoError(t, send(t, c, sampleMessage, "a@temp.mail"))
		require.NoError(t, send(t, c, sampleMessage, "b@temp.mail"))
		assert.Len(t, h.ingester.calls, 2)
		assert.Equal(t, []string{"b@temp.mail"}, h.ingester.calls[1], "信封在每封邮件后重置")
	})

	t.Run("邮件过大", func(t *testing.T) {
		h := startServer(t, nil)
		c := dial(t, h.addr)

		big := sampleMessage + strings.Repeat("x", 2<<20) + "\r\n"
		err := send(t, c, big, "a@temp.mail")
		assert.Equal(t, 552, smtpCode(t, err))
	})
}

func TestSession_RateLimit(t *testing.T) {
	h := startServer(t, NewIPLimiter(0.001, 1))

	c := dial(t, h.addr)
	require.NoError(t, c.Mail("sender@example.com", nil))

	c2, err := gosmtp.Dial(h.addr)
	require.NoError(t, err)
	defer c2.Close()
	assert.Equal(t, 421, smtpCode(t, c2.Hello("client.test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RateLimitBlocks.WithLabelValues("smtp")))
}

func TestIPLimiter(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewIPLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "突发额度用完")
	assert.True(t, l.Allow("10.0.0.2"), "不同 IP 互不影响")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "令牌按速率补充")

	now = now.Add(time.Hour)
	assert.Equal(t, 2, l.Prune())
	assert.Equal(t, 0, l.Len())

	var unlimited *IPLimiter
	assert.True(t, unlimited.Allow("10.0.0.1"))
	assert.True(t, NewIPLimiter(0, 0).Allow("10.0.0.1"))
}
