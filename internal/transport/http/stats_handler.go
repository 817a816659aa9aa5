package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inbox/internal/health"
)

// getStatistics 优先返回清理任务缓存的统计，未命中时实时统计
func (h *Handler) getStatistics(c *gin.Context) {
	ctx := c.Request.Context()
	if h.statsCache != nil {
		stats, err := h.statsCache.GetCachedStatistics(ctx)
		if err != nil {
			h.log.Warn("failed to read cached statistics", zap.Error(err))
		} else if stats != nil {
			Success(c, stats)
			return
		}
	}

	stats, err := h.stats.CollectStatistics(ctx)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, stats)
}

// healthHandler 汇总依赖状态
func (h *Handler) healthHandler(checker *health.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		data := gin.H{"timestamp": time.Now().UTC().Format(time.RFC3339)}
		status := http.StatusOK
		if checker != nil {
			results, ok := checker.Check(c.Request.Context())
			data["checks"] = results
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		data["status"] = "ok"
		if status != http.StatusOK {
			data["status"] = "degraded"
		}
		c.JSON(status, Response{Success: status == http.StatusOK, Data: data})
	}
}
