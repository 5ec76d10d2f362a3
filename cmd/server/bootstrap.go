package main

import (
	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/handlers"
	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/internal/services"
	"github.com/mpetrov/chatgate/backend/internal/utils"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	tokenService    *services.TokenService
	auditQueue      services.AuditQueue
	auditWorker     *services.AuditWorker
	maintenance     *services.MaintenanceService
	authHandler     *handlers.AuthHandler
	realtimeHandler *handlers.RealtimeHandler
	auditHandler    *handlers.AuditHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	db := models.GetDB()

	// Initialize audit trail
	services.InitAuditLogger(db)
	auditService := services.NewAuditService(db)

	// Redis is optional: without it the blacklist runs on the database alone
	// and usage accounting falls back to the in-process queue.
	rdb := services.InitRedis(&cfg.Redis)

	blacklist := services.NewBlacklistService(db, rdb)
	tokenService := services.NewTokenService(db, blacklist, &cfg.JWT, &cfg.Tokens)

	// Usage accounting queue (asynq if Redis is enabled, otherwise sync mode)
	auditQueue := services.InitAuditQueue(cfg)
	if syncQueue, ok := auditQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(auditService.ApplyUsage)
	}
	tokenService.SetQueue(auditQueue)

	// Start async worker if Redis is enabled
	var auditWorker *services.AuditWorker
	if cfg.Redis.Enabled {
		auditWorker = services.InitAuditWorker(&cfg.Redis)
		if auditWorker != nil {
			auditWorker.SetProcessor(auditService.ApplyUsage)
			if err := auditWorker.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start audit worker")
			}
		}
	}

	// Hourly maintenance: blacklist pruning, expired-token sweep, audit retention
	maintenance := services.NewMaintenanceService(db, blacklist)
	if err := maintenance.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start maintenance scheduler")
	}

	// Create default admin user
	authHandler := handlers.NewAuthHandler(db, cfg, tokenService)
	if err := authHandler.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		tokenService:    tokenService,
		auditQueue:      auditQueue,
		auditWorker:     auditWorker,
		maintenance:     maintenance,
		authHandler:     authHandler,
		realtimeHandler: handlers.NewRealtimeHandler(),
		auditHandler:    handlers.NewAuditHandler(db),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.maintenance.Stop()
	logger.Info().Msg("Maintenance scheduler stopped")

	if s.auditWorker != nil {
		s.auditWorker.Stop()
	}
	if s.auditQueue != nil {
		s.auditQueue.Close()
	}
}
