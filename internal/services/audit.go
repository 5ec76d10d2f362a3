package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mpetrov/chatgate/backend/internal/models"
	"gorm.io/gorm"
)

var auditDB *gorm.DB

// InitAuditLogger wires the global audit sink. Called once at bootstrap.
func InitAuditLogger(db *gorm.DB) {
	auditDB = db
}

// LogSecurityEvent writes an audit row. Best effort: failures are swallowed,
// the owning operation has already completed.
func LogSecurityEvent(event string, userID, tokenID *uint, ip, userAgent string, extra interface{}) {
	if auditDB == nil {
		return
	}

	var detail string
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			detail = string(b)
		}
	}

	entry := &models.AuditLog{
		Event:     event,
		UserID:    userID,
		TokenID:   tokenID,
		IP:        ip,
		UserAgent: userAgent,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	auditDB.Create(entry)
}

// AuditService applies queued usage records and serves the audit trail.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// ApplyUsage increments the usage counter and refreshes last-used fields on
// one token row. Runs on the queue worker, never on the validation path.
func (s *AuditService) ApplyUsage(ctx context.Context, task *UsageTask) error {
	updates := map[string]interface{}{
		"usage_count":  gorm.Expr("usage_count + 1"),
		"last_used_at": task.UsedAt,
	}
	if task.IP != "" {
		updates["last_used_ip"] = task.IP
	}
	if task.UserAgent != "" {
		updates["last_used_ua"] = task.UserAgent
	}

	return s.db.WithContext(ctx).
		Model(&models.Token{}).
		Where("id = ?", task.TokenID).
		Updates(updates).Error
}

type AuditListRequest struct {
	Page     int    `form:"page" binding:"min=0"`
	PageSize int    `form:"page_size" binding:"min=0,max=100"`
	Event    string `form:"event"`
	UserID   uint   `form:"user_id"`
}

type AuditListResponse struct {
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Items    []models.AuditLog `json:"items"`
}

// List returns a page of the audit trail, newest first.
func (s *AuditService) List(req *AuditListRequest) (*AuditListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var logs []models.AuditLog
	var total int64

	query := s.db.Model(&models.AuditLog{})
	if req.Event != "" {
		query = query.Where("event = ?", req.Event)
	}
	if req.UserID > 0 {
		query = query.Where("user_id = ?", req.UserID)
	}

	query.Count(&total)

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("created_at DESC").Find(&logs).Error; err != nil {
		return nil, err
	}

	return &AuditListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

// PurgeOlderThan drops audit rows past the retention window.
func (s *AuditService) PurgeOlderThan(days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := s.db.Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	return res.RowsAffected, res.Error
}
