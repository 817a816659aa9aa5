package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultBodyLimit 普通 API 请求
	DefaultBodyLimit = 1 * 1024 * 1024 // 1MB
	// WebhookBodyLimit 入站邮件可能携带附件
	WebhookBodyLimit = 25 * 1024 * 1024 // 25MB
)

// BodySizeLimit 限制请求体大小，limits 按路由覆盖默认值
func BodySizeLimit(defaultLimit int64, limits map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := limits[c.FullPath()]
		if !ok {
			limit = defaultLimit
		}

		if c.Request.ContentLength > limit {
			abortTooLarge(c, limit)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Header("X-Max-Body-Size", strconv.FormatInt(limit, 10))

		c.Next()
	}
}

// IsBodyTooLarge 判断读取请求体时是否超过限制
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func abortTooLarge(c *gin.Context, limit int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "payload_too_large",
			"message": fmt.Sprintf("request body exceeds maximum size of %d bytes", limit),
		},
	})
}
