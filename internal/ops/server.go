// Package ops exposes the operator HTTP surface: health, metrics, and a
// token-guarded status endpoint.
package ops

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const operatorContextKey = "stork_operator"

var (
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingStatusSource  = errors.New("status source dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Status is the operator-facing snapshot of the pipeline.
type Status struct {
	PendingLogEntries int64 `json:"pending_log_entries"`
	DirtyUsers        int64 `json:"dirty_users"`
	DirtyDates        int64 `json:"dirty_dates"`
	UptimeSeconds     int64 `json:"uptime_s"`
}

// StatusSource produces the current pipeline snapshot.
type StatusSource interface {
	Status(ctx context.Context) (Status, error)
}

// StatusFunc adapts a closure to StatusSource.
type StatusFunc func(ctx context.Context) (Status, error)

func (f StatusFunc) Status(ctx context.Context) (Status, error) { return f(ctx) }

// Dependencies wires the operator HTTP handler.
type Dependencies struct {
	Tokens   *TokenIssuer
	Status   StatusSource
	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// NewHTTPHandler builds the operator router: /healthz and /metrics are open,
// /api/status requires a bearer token.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Status == nil {
		return nil, errMissingStatusSource
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens: deps.Tokens,
		status: deps.Status,
		logger: logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.GET("/status", handler.handleStatus)

	return router, nil
}

type httpHandler struct {
	tokens *TokenIssuer
	status StatusSource
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	snapshot, err := h.status.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("status snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorContextKey, subject)
	c.Next()
}
