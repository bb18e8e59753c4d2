package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eidos-exchange/eidos-bridge/internal/middleware"
)

// RouterConfig 路由依赖，未配置的处理器对应的路由不注册
type RouterConfig struct {
	Webhook     *WebhookHandler
	Charges     *ChargeHandler
	Campaigns   *CampaignHandler
	Admin       *AdminHandler
	Health      *HealthHandler
	AdminToken  string
	CORSOrigins []string
}

// NewRouter 创建 gin 路由
func NewRouter(cfg *RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.Trace(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.Metrics(),
		cors.New(corsConfig(cfg.CORSOrigins)),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Health != nil {
		r.GET("/health", cfg.Health.Ready)
		r.GET("/health/live", cfg.Health.Live)
	}

	if cfg.Webhook != nil {
		r.POST("/webhook", cfg.Webhook.Receive)
	}
	if cfg.Charges != nil {
		r.POST("/charges", cfg.Charges.CreateCharge)
		r.GET("/status/:pixId", cfg.Charges.GetStatus)
	}
	if cfg.Campaigns != nil {
		r.GET("/campaigns", cfg.Campaigns.ListCampaigns)
		r.GET("/campaigns/:address", cfg.Campaigns.GetCampaign)
		r.GET("/campaigns/:address/progress", cfg.Campaigns.GetProgress)
	}

	admin := r.Group("/admin", middleware.AdminAuth(cfg.AdminToken))
	if cfg.Admin != nil {
		admin.POST("/mints/:correlationId/retry", cfg.Admin.RetryMint)
	}
	if cfg.Campaigns != nil {
		admin.POST("/campaigns", cfg.Campaigns.CreateCampaign)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.TraceIDHeader},
		ExposeHeaders: []string{"Content-Length", middleware.TraceIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
