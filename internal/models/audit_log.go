package models

import "time"

// AuditLog records security-relevant events: logins, rotations, revocations,
// revoke-all sweeps. Token values never appear here, only row IDs.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Event     string    `gorm:"size:100;index" json:"event"` // login, rotate, revoke, revoke-all, ...
	UserID    *uint     `gorm:"index" json:"user_id"`
	TokenID   *uint     `gorm:"index" json:"token_id"`
	IP        string    `gorm:"size:64" json:"ip"`
	UserAgent string    `gorm:"size:500" json:"user_agent"`
	Detail    string    `gorm:"type:text" json:"detail"` // JSON extra data
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }
