package models

import "time"

// TokenBlacklist is the append-only fast-reject set. Entries reference token
// hashes rather than token rows, so a blacklisting survives even if the
// originating row is ever purged. Presence alone is sufficient to reject.
type TokenBlacklist struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TokenHash string    `gorm:"uniqueIndex;size:64;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"` // prune boundary only
	CreatedAt time.Time `json:"created_at"`
}

func (TokenBlacklist) TableName() string { return "token_blacklist" }
