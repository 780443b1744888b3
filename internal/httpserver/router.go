package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailpipeline/internal/model"
	"mailpipeline/pkg/alert"
	"mailpipeline/pkg/metrics"
	"mailpipeline/pkg/outbox"
	"mailpipeline/pkg/rbac"
)

// AlertSource 由 alert.Dispatcher 实现
type AlertSource interface {
	GetRecentAlerts(limit int) []alert.Alert
}

// MetricsSource 由 metrics.Collector 实现
type MetricsSource interface {
	GetAllMetrics() metrics.Snapshot
}

// OutboxReplayer 由 outbox.ReplayService 实现
type OutboxReplayer interface {
	ListFailed(ctx context.Context, limit int) ([]*outbox.Event, error)
	ReplayEvent(ctx context.Context, eventID int64) error
}

// Trigger 由 scheduler.Scheduler 实现
type Trigger interface {
	RunOnce(ctx context.Context) (model.RunStats, error)
}

// Pinger 就绪检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 函数适配为 Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Deps 路由依赖，Outbox 为 nil 时不注册 outbox 接口
type Deps struct {
	Alerts    AlertSource
	Metrics   MetricsSource
	Gatherer  prometheus.Gatherer
	Outbox    OutboxReplayer
	Trigger   Trigger
	Checks    map[string]Pinger
	JWTSecret string
	Logger    *zap.Logger
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(deps Deps) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(deps.Logger))

	h := &opsHandler{deps: deps}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(deps.JWTSecret))
	{
		auth.GET("/alerts", RequirePermission(rbac.PermissionReadAlerts), h.RecentAlerts)
		auth.GET("/metrics/snapshot", RequirePermission(rbac.PermissionReadMetrics), h.MetricsSnapshot)
		auth.POST("/ingestion/run", RequirePermission(rbac.PermissionTriggerIngest), h.TriggerIngestion)

		if deps.Outbox != nil {
			auth.GET("/outbox/failed", RequirePermission(rbac.PermissionReadOutbox), h.FailedEvents)
			auth.POST("/outbox/:id/replay", RequirePermission(rbac.PermissionReplayOutbox), h.ReplayEvent)
		}
	}

	return &Router{Engine: r}
}

// Server 返回可优雅关闭的 http.Server
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
