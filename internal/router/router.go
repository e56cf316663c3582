package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"nvct-backend/internal/app"
	"nvct-backend/internal/config"
	"nvct-backend/internal/handlers"
	"nvct-backend/internal/metrics"
	"nvct-backend/internal/middleware"
	"nvct-backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept"
)

// corsMiddleware CORS middleware. An empty allowlist or "*" allows every origin.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowAll := len(cfg.AllowedOrigins) == 0
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		case origin != "":
			logrus.WithFields(logrus.Fields{
				"request_origin": origin,
				"path":           c.Request.URL.Path,
				"method":         c.Request.Method,
				"remote_addr":    c.ClientIP(),
			}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
		}

		c.Header("Access-Control-Allow-Methods", corsAllowMethods)
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		if cfg.AllowCredentials && !allowAll {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Next()
	}
}

// requestLogger access log in logrus instead of gin's default writer, plus
// per-route request metrics
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(elapsed.Seconds())

		entry := logrus.WithFields(logrus.Fields{
			"status":    c.Writer.Status(),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"client_ip": c.ClientIP(),
			"latency":   elapsed.String(),
			"actor":     middleware.Actor(c),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("🌐 [HTTP] request")
		} else {
			entry.Debug("🌐 [HTTP] request")
		}
	}
}

// SetupRouter builds the gin engine over the service container
func SetupRouter(container *app.ServiceContainer) *gin.Engine {
	cfg := container.Config

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), corsMiddleware(cfg.CORS))
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logrus.WithError(err).Warn("⚠️ [Router] invalid trusted proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}

	localhostOnly := middleware.NewLocalhostOnly(cfg.Server.MetricsAllowlist)
	jwtTokens := middleware.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL())
	policy := middleware.NewAuthorizationPolicy(jwtTokens)
	resolve := handlers.NetworkResolver(container.NetworkContext)

	health := handlers.NewHealthHandler(container.DB, container.Redis, container.NATSClient, container.Ledger, container.Contracts, container.Push)
	adminAuth := handlers.NewAdminAuthHandler(container.Credentials, jwtTokens, cfg.Admin.TOTPSecret)
	networks := handlers.NewNetworkHandler(container.Contracts, container.Gate, container.Publisher)
	multisig := handlers.NewMultisigHandler(container.Multisig, container.Gate, container.Credentials, resolve)
	settlements := handlers.NewSettlementHandler(container.Settlements, container.Gate, resolve)
	nvcTokens := handlers.NewTokenHandler(container.Tokens, container.Gate, resolve)
	operations := handlers.NewOperationHandler(container.Gate)
	accounts := handlers.NewAccountHandler(container.Ledger, resolve)
	ws := handlers.NewWebSocketHandler(container.Push)

	// ============ Health & Metrics ============
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/health", health.HealthCheck)
	r.GET("/metrics", localhostOnly.Restrict(), gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/health", health.HealthCheck)
	api.POST("/admin/login", adminAuth.Login)

	// ============ Networks ============
	nets := api.Group("/networks")
	{
		nets.GET("", policy.Require(models.CapabilityRead), networks.List)
		nets.GET("/current", policy.Require(models.CapabilityRead), networks.Current)
		nets.PUT("/current", policy.Require(models.CapabilityAdmin), networks.Switch)
		nets.GET("/:network/contracts/:name", policy.Require(models.CapabilityRead), networks.GetContract)
		nets.PUT("/:network/contracts/:name", policy.Require(models.CapabilityAdmin), networks.UpdateContract)
	}

	// ============ Multisig ============
	ms := api.Group("/multisig/transactions")
	{
		ms.POST("", policy.Require(models.CapabilityMultisigOwner), multisig.Submit)
		ms.GET("", policy.Require(models.CapabilityRead), multisig.List)
		ms.GET("/:id", policy.Require(models.CapabilityRead), multisig.Get)
		ms.POST("/:id/confirm", policy.Require(models.CapabilityMultisigOwner), multisig.Confirm)
		ms.POST("/:id/execute", policy.Require(models.CapabilityMultisigOwner), multisig.Execute)
	}

	// ============ Settlements ============
	st := api.Group("/settlements")
	{
		st.POST("", policy.Require(models.CapabilitySettlementWrite), settlements.Create)
		st.GET("", policy.Require(models.CapabilityRead), settlements.List)
		st.GET("/:id", policy.Require(models.CapabilityRead), settlements.Get)
		st.POST("/:id/poll", policy.Require(models.CapabilityRead), settlements.Poll)
		st.POST("/:id/cancel", policy.Require(models.CapabilitySettlementWrite), settlements.Cancel)
	}

	// ============ NVC Token ============
	tk := api.Group("/tokens")
	{
		tk.POST("/transfer", policy.Require(models.CapabilitySettlementWrite), nvcTokens.Transfer)
		tk.POST("/mint", policy.Require(models.CapabilityAdmin), nvcTokens.Mint)
		tk.POST("/burn", policy.Require(models.CapabilityAdmin), nvcTokens.Burn)
		tk.GET("/:address/balance", policy.Require(models.CapabilityRead), nvcTokens.Balance)
	}

	// ============ Security Gate ============
	ops := api.Group("/operations", policy.Authenticate())
	{
		ops.GET("/:id", operations.Get)
		ops.POST("/:id/code", policy.Require(models.CapabilityAdmin), operations.IssueCode)
		// admin rights are checked against the credential store at confirmation
		ops.POST("/:id/confirm", operations.Confirm)
	}

	api.GET("/accounts/:address/balance", policy.Require(models.CapabilityRead), accounts.Balance)
	api.GET("/ws", policy.Authenticate(), ws.HandleConnection)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "API endpoint not found",
			"code":    "NOT_FOUND",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
