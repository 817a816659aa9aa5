// Package httptransport 提供 REST API、入站 webhook 和 WebSocket 路由。
package httptransport

import (
	"context"
	"strconv"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/domain"
	"tempmail/inbox/internal/health"
	"tempmail/inbox/internal/ingest"
	"tempmail/inbox/internal/middleware"
	"tempmail/inbox/internal/monitoring"
	"tempmail/inbox/internal/service"
	"tempmail/inbox/internal/websocket"
)

// Ingester 收信流水线
type Ingester interface {
	IngestAll(ctx context.Context, recipients []string, payload ingest.Payload) ([]ingest.Result, error)
}

// StatisticsSource 实时统计
type StatisticsSource interface {
	CollectStatistics(ctx context.Context) (*domain.Statistics, error)
}

// StatisticsCache 清理任务缓存的统计，未命中时返回 nil, nil
type StatisticsCache interface {
	GetCachedStatistics(ctx context.Context) (*domain.Statistics, error)
}

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	domains    *service.DomainService
	addresses  *service.AddressService
	messages   *service.MessageService
	ingester   Ingester
	stats      StatisticsSource
	statsCache StatisticsCache
	log        *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	DomainService   *service.DomainService
	AddressService  *service.AddressService
	MessageService  *service.MessageService
	Ingester        Ingester
	Statistics      StatisticsSource
	StatisticsCache StatisticsCache // 可选
	WebSocketHub    *websocket.Hub  // 可选
	Health          *health.Checker
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	mon := middleware.NewMonitoring(deps.Metrics, log)
	router.Use(middleware.RequestID())
	router.Use(mon.PanicRecovery())
	router.Use(middleware.RequestLogger(log.Named("http")))
	router.Use(mon.HTTPMetrics())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit, map[string]int64{
		"/api/v1/webhooks/:provider": middleware.WebhookBodyLimit,
	}))

	var origins []string
	if deps.Config != nil {
		origins = deps.Config.CORS.AllowedOrigins
	}
	router.Use(gincors.New(corsConfig(origins)))

	h := &Handler{
		domains:    deps.DomainService,
		addresses:  deps.AddressService,
		messages:   deps.MessageService,
		ingester:   deps.Ingester,
		stats:      deps.Statistics,
		statsCache: deps.StatisticsCache,
		log:        log.Named("api"),
	}

	// 健康检查与指标
	router.GET("/health", h.healthHandler(deps.Health))
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	v1 := router.Group("/api/v1")
	{
		domains := v1.Group("/domains")
		domains.GET("", h.listDomains)
		domains.POST("", h.createDomain)
		domains.GET("/:id", h.getDomain)
		domains.PATCH("/:id", h.updateDomain)
		domains.DELETE("/:id", h.deleteDomain)

		addresses := v1.Group("/addresses")
		addresses.POST("", h.createAddress)
		addresses.GET("", h.listAddresses)
		addresses.GET("/:id", h.getAddress)
		addresses.POST("/:id/extend", h.extendAddress)
		addresses.POST("/:id/deactivate", h.deactivateAddress)
		addresses.DELETE("/:id", h.deleteAddress)

		addresses.GET("/:id/messages", h.listMessages)
		addresses.GET("/:id/messages/:messageId", h.getMessage)
		addresses.POST("/:id/messages/:messageId/read", h.markMessageRead)
		addresses.DELETE("/:id/messages/:messageId", h.deleteMessage)
		addresses.GET("/:id/messages/:messageId/attachments/:attachmentId", h.downloadAttachment)

		v1.GET("/stats", h.getStatistics)
		v1.POST("/webhooks/:provider", h.receiveWebhook)
	}

	if deps.WebSocketHub != nil {
		router.GET("/ws/addresses/:id", websocket.HandleWebSocket(deps.WebSocketHub, deps.AddressService))
	}

	return router
}

func corsConfig(origins []string) gincors.Config {
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
		return cfg
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowOrigins = nil
			cfg.AllowAllOrigins = true
			break
		}
	}
	return cfg
}

// listOptions 解析 page/limit 查询参数
func listOptions(c *gin.Context) (domain.ListOptions, bool) {
	opts := domain.ListOptions{Page: 1, Limit: domain.DefaultPageSize}
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, false
		}
		opts.Page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, false
		}
		opts.Limit = n
	}
	return opts.Normalize(), true
}

// boolQuery 解析可选的布尔查询参数
func boolQuery(c *gin.Context, name string) (*bool, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, false
	}
	return &b, true
}
