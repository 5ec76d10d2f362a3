package models

import "time"

// TokenKind distinguishes the two credential kinds. Access tokens are
// self-contained JWTs and never persisted individually; only refresh rows
// reach the store.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Revocation reasons recorded on a token row. Revoked is terminal.
const (
	RevokeReasonRotated   = "rotated"
	RevokeReasonManual    = "manual"
	RevokeReasonLogout    = "logout"
	RevokeReasonRevokeAll = "revoke-all"
	RevokeReasonExpired   = "expired-cleanup"
)

// Token is one issued refresh credential. Rows are never deleted on
// revocation; they stay behind for the audit trail.
type Token struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	Kind          TokenKind  `gorm:"size:16;not null;default:refresh" json:"kind"`
	TokenHash     string     `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:32" json:"revoked_reason,omitempty"`
	Metadata      string     `gorm:"type:text" json:"-"` // serialized TokenMetadata
	UsageCount    uint       `gorm:"not null;default:0" json:"usage_count"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	LastUsedIP    string     `gorm:"size:64" json:"last_used_ip,omitempty"`
	LastUsedUA    string     `gorm:"size:255" json:"last_used_ua,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Token) TableName() string { return "tokens" }

// Revoked reports whether the row has reached its terminal state.
func (t *Token) Revoked() bool {
	return t.RevokedAt != nil
}

// ExpiredAt treats expires_at == now as already expired; validity requires
// strictly now < expires_at.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ActiveAt reports whether the token passes the stored-state checks at the
// given instant. Blacklist membership is checked separately.
func (t *Token) ActiveAt(now time.Time) bool {
	return !t.Revoked() && !t.ExpiredAt(now)
}

// Meta deserializes the attached metadata. Corrupt metadata degrades to the
// empty value rather than failing the owning operation.
func (t *Token) Meta() TokenMetadata {
	return DecodeTokenMetadata(t.Metadata)
}

// SetMeta validates and serializes metadata onto the row.
func (t *Token) SetMeta(m TokenMetadata) error {
	encoded, err := m.Encode()
	if err != nil {
		return err
	}
	t.Metadata = encoded
	return nil
}
