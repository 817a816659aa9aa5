package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inbox/internal/monitoring"
)

// Monitoring 指标与 panic 恢复中间件
type Monitoring struct {
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewMonitoring 创建监控中间件
func NewMonitoring(metrics *monitoring.Metrics, log *zap.Logger) *Monitoring {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitoring{metrics: metrics, log: log}
}

// HTTPMetrics 按路由模板记录请求数和耗时
func (m *Monitoring) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// PanicRecovery 恢复 panic 并返回 500
func (m *Monitoring) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				m.metrics.RecordPanic()
				m.log.Error("panic recovered",
					zap.Any("error", r),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("ip", c.ClientIP()),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   gin.H{"code": "internal", "message": "internal server error"},
				})
			}
		}()

		c.Next()
	}
}
