package services

import (
	"context"
	"strconv"
	"time"

	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// expiredSweepGrace keeps just-expired rows untouched for a while so the
// stored revoked_at/reason audit trail only captures clearly dead tokens.
const expiredSweepGrace = 24 * time.Hour

// MaintenanceService runs the out-of-band housekeeping the hot path never
// does: blacklist pruning, marking long-expired rows, audit retention.
type MaintenanceService struct {
	db        *gorm.DB
	blacklist *BlacklistService
	audit     *AuditService
	configSvc *SystemConfigService
	scheduler *cron.Cron
}

func NewMaintenanceService(db *gorm.DB, blacklist *BlacklistService) *MaintenanceService {
	return &MaintenanceService{
		db:        db,
		blacklist: blacklist,
		audit:     NewAuditService(db),
		configSvc: NewSystemConfigService(db),
	}
}

// Start schedules the hourly maintenance run.
func (s *MaintenanceService) Start() error {
	s.scheduler = cron.New()
	if _, err := s.scheduler.AddFunc("@hourly", s.Run); err != nil {
		return err
	}
	s.scheduler.Start()
	logger.Infof("[Maintenance] scheduler started (hourly)")
	return nil
}

// Stop halts the scheduler.
func (s *MaintenanceService) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Run executes one maintenance pass.
func (s *MaintenanceService) Run() {
	ctx := context.Background()

	if n, err := s.blacklist.Prune(ctx); err != nil {
		logger.Warnf("[Maintenance] blacklist prune failed: %v", err)
	} else if n > 0 {
		logger.Infof("[Maintenance] pruned %d expired blacklist entries", n)
	}

	if n, err := s.sweepExpiredTokens(ctx); err != nil {
		logger.Warnf("[Maintenance] expired-token sweep failed: %v", err)
	} else if n > 0 {
		logger.Infof("[Maintenance] marked %d expired tokens revoked", n)
	}

	days := s.auditRetentionDays()
	if n, err := s.audit.PurgeOlderThan(days); err != nil {
		logger.Warnf("[Maintenance] audit purge failed: %v", err)
	} else if n > 0 {
		logger.Infof("[Maintenance] purged %d audit rows older than %d days", n, days)
	}
}

// sweepExpiredTokens marks rows that expired past the grace window. Expiry
// is still computed at validation time; this only settles the stored state
// for the audit trail.
func (s *MaintenanceService) sweepExpiredTokens(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-expiredSweepGrace)
	res := s.db.WithContext(ctx).
		Model(&models.Token{}).
		Where("revoked_at IS NULL AND expires_at <= ?", cutoff).
		Updates(map[string]interface{}{
			"revoked_at":     time.Now(),
			"revoked_reason": models.RevokeReasonExpired,
		})
	return res.RowsAffected, res.Error
}

func (s *MaintenanceService) auditRetentionDays() int {
	value := s.configSvc.GetWithDefault("audit_retention_days", "90")
	days, err := strconv.Atoi(value)
	if err != nil || days <= 0 {
		return 90
	}
	return days
}
