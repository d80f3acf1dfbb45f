// Package http 运维 HTTP 接口：健康检查、就绪检查、Prometheus 指标与只读盘口。
package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/pkg/logger"
)

// DepthReader 盘口查询
type DepthReader interface {
	Depth(ctx context.Context, marketID int64, n int) (*domain.Depth, error)
}

// Check 依赖探活，返回 nil 表示可用
type Check func(ctx context.Context) error

const (
	defaultDepth = 20
	maxDepth     = 500
)

// Handler 运维路由
type Handler struct {
	depth       DepthReader
	checks      map[string]Check
	metrics     http.Handler
	metricsPath string
}

// NewHandler metrics 为 nil 时不注册 /metrics
func NewHandler(depth DepthReader, checks map[string]Check, metrics http.Handler) *Handler {
	return &Handler{depth: depth, checks: checks, metrics: metrics, metricsPath: "/metrics"}
}

// WithMetricsPath 修改指标路径，空串保持默认
func (h *Handler) WithMetricsPath(path string) *Handler {
	if path != "" {
		h.metricsPath = path
	}
	return h
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if h.metrics != nil {
		r.GET(h.metricsPath, gin.WrapH(h.metrics))
	}
	v1 := r.Group("/v1")
	{
		v1.GET("/markets/:id/depth", h.GetDepth)
	}
}

// Healthz 进程存活
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz 逐项检查依赖，任一失败返回 503
func (h *Handler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(gin.H, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			logger.Warn(ctx, "readiness check failed", "check", name, "error", err)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	c.JSON(status, gin.H{"checks": results})
}

// GetDepth GET /v1/markets/:id/depth?limit=N
func (h *Handler) GetDepth(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		errorResponse(c, http.StatusBadRequest, string(domain.ReasonUnknownMarket), "invalid market id")
		return
	}
	limit := defaultDepth
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxDepth)
	}

	depth, err := h.depth.Depth(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, depth)
}

func errorResponse(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": msg})
}

// writeError 领域错误按原因码映射 HTTP 状态
func writeError(c *gin.Context, err error) {
	reason := domain.ReasonOf(err)
	status := http.StatusInternalServerError
	switch reason {
	case domain.ReasonUnknownMarket, domain.ReasonOrderNotFound, domain.ReasonPositionNotFound:
		status = http.StatusNotFound
	case domain.ReasonEngineStopped, domain.ReasonPriceUnavailable:
		status = http.StatusServiceUnavailable
	case domain.ReasonUnknown, domain.ReasonInvariant:
	default:
		status = http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	errorResponse(c, status, string(reason), err.Error())
}
