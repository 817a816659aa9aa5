package smtp

import (
	"context"
	"errors"
	"net"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
)

// Server 包装 go-smtp 服务器
type Server struct {
	srv     *gosmtp.Server
	limiter *IPLimiter
	log     *zap.Logger
}

// NewServer 按配置创建 SMTP 服务器
func NewServer(cfg config.SMTPConfig, backend *Backend, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = cfg.ReadTimeout
	srv.WriteTimeout = cfg.WriteTimeout
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.ErrorLog = zap.NewStdLog(log.Named("smtp"))

	return &Server{srv: srv, limiter: backend.limiter, log: log}
}

// ListenAndServe 监听配置的地址，直到 Shutdown
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve 在给定监听器上接受连接，正常关闭时返回 nil
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.log.Info("starting SMTP server",
		zap.String("address", l.Addr().String()),
		zap.String("domain", s.srv.Domain),
	)
	if s.limiter != nil {
		go s.pruneLimiter(ctx)
	}
	err := s.srv.Serve(l)
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 停止接受新连接并等待会话结束
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}
