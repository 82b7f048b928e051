package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crypto-ledger/internal/observability"
)

// RouterOptions contains configuration for creating the HTTP router.
type RouterOptions struct {
	Handler *Handler
	Status  func() any // body of GET /status; optional
	Logger  *zap.Logger
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status  string    `json:"status"`
	Uptime  string    `json:"uptime"`
	Started time.Time `json:"started"`
	Poller  any       `json:"poller,omitempty"`
}

// NewRouter builds the gin engine with middleware, the /api group and the
// /health, /metrics and /status service endpoints.
func NewRouter(opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	started := time.Now()

	r := gin.New()
	r.Use(
		RequestID(),
		AccessLog(logger),
		Metrics(),
		Recovery(logger),
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept", RequestIDHeader},
			ExposeHeaders:   []string{RequestIDHeader},
			MaxAge:          12 * time.Hour,
		}),
	)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/metrics", gin.WrapH(observability.Handler()))

	r.GET("/status", func(c *gin.Context) {
		resp := StatusResponse{
			Status:  "running",
			Uptime:  time.Since(started).Round(time.Second).String(),
			Started: started,
		}
		if opts.Status != nil {
			resp.Poller = opts.Status()
		}
		c.JSON(http.StatusOK, resp)
	})

	if opts.Handler != nil {
		opts.Handler.RegisterRoutes(r.Group("/api"))
	}

	return r
}
