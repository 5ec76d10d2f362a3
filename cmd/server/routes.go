package main

import (
	"github.com/gin-gonic/gin"
	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/handlers"
	"github.com/mpetrov/chatgate/backend/internal/middleware"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// The token gate runs on every request: it validates bearer tokens when
	// present and annotates the context, leaving rejection to RequireAuth.
	r.Use(middleware.TokenGate(svc.tokenService, cfg.Tokens.PublicPrefixes))

	// Rate limiter for credential-bearing routes
	authLimiter := middleware.NewRateLimiter(5, 10)

	// Health check
	r.GET("/health", handlers.Health)

	// Websocket entry point (token gate already resolved the user)
	r.GET("/ws", svc.realtimeHandler.HandleWS)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public, rate limited)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/login", svc.authHandler.Login)
			auth.POST("/register", svc.authHandler.Register)
			auth.POST("/refresh", svc.authHandler.Refresh)
			auth.GET("/config", svc.authHandler.GetAuthConfig)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.RequireAuth())
		{
			protected.GET("/auth/me", svc.authHandler.GetCurrentUser)
			protected.POST("/auth/logout", svc.authHandler.Logout)
			protected.POST("/auth/logout-all", svc.authHandler.LogoutAll)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)
			protected.GET("/auth/sessions", svc.authHandler.ListSessions)
			protected.DELETE("/auth/sessions/:id", svc.authHandler.RevokeSession)
		}

		// Admin only routes
		admin := api.Group("/admin")
		admin.Use(middleware.RequireAuth(), middleware.AdminRequired())
		{
			admin.GET("/presence", svc.realtimeHandler.ListOnline)
			admin.GET("/audit-logs", svc.auditHandler.List)
		}
	}
}
