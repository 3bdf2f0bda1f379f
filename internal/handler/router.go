package handler

import (
	"net/http"

	"creditgate/internal/metrics"
	"creditgate/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter wires middleware and routes.
func SetupRouter(h *Handler, mode string, log *zap.Logger) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log.Named("access")))
	r.Use(CORSMiddleware())
	r.Use(metrics.Middleware())

	r.GET("/balance/:id", h.GetBalance)
	r.GET("/auth/:access_token", h.Authenticate)
	r.GET("/tiers", h.ListTiers)
	r.POST("/topup", h.Topup)
	if h.generate != nil {
		r.POST("/generate", h.Generate)
	}

	r.POST("/payment_webhook", h.PaymentWebhook)
	r.POST("/payment_webhook/:secret", h.PaymentWebhook)

	me := r.Group("/me", h.sessions.Middleware(response.Unauthorized))
	{
		me.GET("", h.Me)
		me.GET("/transactions", h.MyTransactions)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())

	return r
}
