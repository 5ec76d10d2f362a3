package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		logger.Init(level)
	} else if cfg.Server.Mode == "debug" {
		logger.Init("debug")
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize all dependencies
	svc := bootstrap(cfg)
	defer svc.shutdown()

	// Create router and register routes
	r := gin.New()
	registerRoutes(r, cfg, svc)

	// Start server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logger.Infof("Server starting on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
