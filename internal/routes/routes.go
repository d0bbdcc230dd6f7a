package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"udensfiltri/internal/handlers"
	"udensfiltri/internal/middleware"
	"udensfiltri/internal/throttle"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Auth         *handlers.AuthHandler
	Orders       *handlers.OrderHandler
	Parser       middleware.AccessParser
	AccessCookie string
	Gate         throttle.Gate
	Log          *zap.Logger
}

func SetupRoutes(r *gin.Engine, d Deps) *gin.Engine {
	requireAuth := middleware.AuthMiddleware(d.Parser, d.AccessCookie)
	optionalAuth := middleware.OptionalAuth(d.Parser, d.AccessCookie)

	// ---- service
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// ---- auth
	auth := r.Group("/auth")
	{
		auth.POST("/request-code/", optionalAuth, d.Auth.RequestCode)
		auth.POST("/register/", d.Auth.Register)
		auth.POST("/login/", d.Auth.Login)
		auth.POST("/refresh/", d.Auth.Refresh)

		auth.POST("/logout/", requireAuth, d.Auth.Logout)
		auth.GET("/me/", requireAuth, d.Auth.Me)
		auth.PATCH("/profile/", requireAuth, d.Auth.Profile)
		auth.POST("/change-email/", requireAuth, d.Auth.ChangeEmail)
		auth.POST("/change-phone/", requireAuth, d.Auth.ChangePhone)
		auth.POST("/change-password/", requireAuth, d.Auth.ChangePassword)
	}

	// ---- orders
	orders := r.Group("/orders")
	{
		orders.GET("/", requireAuth, d.Orders.List)
		orders.GET("/:id/", requireAuth, d.Orders.Get)
		// гость допускается, если включён allow_guest_checkout; решает сервис
		orders.POST("/payments/create-checkout-session/",
			optionalAuth,
			middleware.Throttle(d.Gate, throttle.ScopeCheckoutUser, middleware.ByUserOrClientIP, d.Log),
			d.Orders.CreateCheckoutSession,
		)
		orders.POST("/payments/webhook/", d.Orders.Webhook)
	}

	return r
}
