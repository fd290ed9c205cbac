package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	"github.com/eztalk/eztalk-proxy/internal/auth"
	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/http/handler"
	"github.com/eztalk/eztalk-proxy/internal/metrics"
	"github.com/gin-gonic/gin"
	gincors "github.com/rs/cors/wrapper/gin"
)

type RouterOptions struct {
	Version      string
	MaxBodySize  int64
	RateLimitRPS float64
	// Verifier enables bearer auth on /chat when set.
	Verifier *auth.Verifier
}

func NewRouter(chatService handler.ChatService, opts RouterOptions, m *metrics.Metrics, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(recovery(logger), accessLog(m, logger), gincors.AllowAll())

	healthHandler := handler.NewHealthHandler(opts.Version)
	chatHandler := handler.NewChatHandler(chatService, opts.MaxBodySize, m, logger)

	router.GET("/health", healthHandler.Health)
	router.GET("/healthz", healthHandler.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	chat := []gin.HandlerFunc{}
	if opts.RateLimitRPS > 0 {
		chat = append(chat, rateLimit(opts.RateLimitRPS))
	}
	if opts.Verifier != nil {
		chat = append(chat, auth.AuthMiddleware(opts.Verifier, logger))
	}
	chat = append(chat, chatHandler.Chat)
	router.POST("/chat", chat...)

	return router
}

func accessLog(m *metrics.Metrics, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		duration := time.Since(start)
		m.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(status), duration.Seconds())

		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", duration,
			"remote", c.ClientIP(),
		)
	}
}

func recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		logger.Error("Panic while serving request", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			domain.NewErrorResponse(http.StatusInternalServerError, "Internal server error"))
	})
}

func rateLimit(max float64) gin.HandlerFunc {
	lmt := tollbooth.NewLimiter(max, nil)
	lmt.SetIPLookup(limiter.IPLookup{
		Name:           "RemoteAddr",
		IndexFromRight: 0,
	})

	return func(c *gin.Context) {
		if httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); httpError != nil {
			c.Header("X-Accel-Buffering", "no")
			c.AbortWithStatusJSON(httpError.StatusCode, domain.NewErrorResponse(httpError.StatusCode, httpError.Message))
			return
		}
		c.Next()
	}
}
