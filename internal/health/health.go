// Package health 提供存活与就绪检查。
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	checkTimeout      = 3 * time.Second
	maxGoroutines     = 10000
	StatusOK          = "OK"
	statusErrorPrefix = "ERROR: "
)

// Pinger 可探测的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc 适配普通函数
type PingerFunc func(ctx context.Context) error

// Ping 调用 f
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Checker 健康检查器。存活检查只看进程本身，就绪检查包含数据库和 Redis。
type Checker struct {
	handler healthcheck.Handler
	log     *zap.Logger

	mu    sync.RWMutex
	ready map[string]Pinger
}

// NewChecker 创建健康检查器
func NewChecker(log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Checker{
		handler: healthcheck.NewHandler(),
		log:     log,
		ready:   make(map[string]Pinger),
	}
	c.handler.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	return c
}

// AddDependency 注册就绪依赖，例如 database、redis
func (c *Checker) AddDependency(name string, p Pinger) {
	c.mu.Lock()
	c.ready[name] = p
	c.mu.Unlock()

	c.handler.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return p.Ping(ctx)
	}, checkTimeout))
}

// LiveHandler 存活检查
func (c *Checker) LiveHandler() http.HandlerFunc { return c.handler.LiveEndpoint }

// ReadyHandler 就绪检查
func (c *Checker) ReadyHandler() http.HandlerFunc { return c.handler.ReadyEndpoint }

// Check 逐个探测依赖，返回每个依赖的状态以及整体是否健康
func (c *Checker) Check(ctx context.Context) (map[string]string, bool) {
	c.mu.RLock()
	names := make([]string, 0, len(c.ready))
	for name := range c.ready {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		c.mu.RLock()
		p := c.ready[name]
		c.mu.RUnlock()

		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			healthy = false
			results[name] = fmt.Sprintf("%s%v", statusErrorPrefix, err)
			c.log.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			continue
		}
		results[name] = StatusOK
	}
	return results, healthy
}
