package services

import (
	"context"
	"time"

	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const blacklistKeyPrefix = "chatgate:blacklist:"

// BlacklistService is the fast-reject set consulted before any token-store
// lookup. The database row is authoritative; Redis, when available, is a
// read-through accelerator keyed on the token hash with a TTL matching the
// token's remaining lifetime.
type BlacklistService struct {
	db  *gorm.DB
	rdb *redis.Client // nil when Redis is disabled or unreachable
}

func NewBlacklistService(db *gorm.DB, rdb *redis.Client) *BlacklistService {
	return &BlacklistService{db: db, rdb: rdb}
}

// Add records a token hash as rejected. Idempotent: re-adding an existing
// hash is a no-op. The Redis write is best effort.
func (s *BlacklistService) Add(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	entry := models.TokenBlacklist{TokenHash: tokenHash, ExpiresAt: expiresAt}
	if err := s.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		FirstOrCreate(&entry).Error; err != nil {
		return err
	}
	s.cacheSet(ctx, tokenHash, expiresAt)
	return nil
}

// AddTx records a hash inside an existing transaction. The Redis write must
// happen after commit via CachePropagate so a rolled-back revocation never
// poisons the cache.
func (s *BlacklistService) AddTx(tx *gorm.DB, tokenHash string, expiresAt time.Time) error {
	entry := models.TokenBlacklist{TokenHash: tokenHash, ExpiresAt: expiresAt}
	return tx.Where("token_hash = ?", tokenHash).FirstOrCreate(&entry).Error
}

// CachePropagate pushes an already-committed entry into the Redis fast path.
func (s *BlacklistService) CachePropagate(ctx context.Context, tokenHash string, expiresAt time.Time) {
	s.cacheSet(ctx, tokenHash, expiresAt)
}

// Contains reports whether the hash is blacklisted. A Redis hit answers
// immediately; a miss or Redis error falls through to the database.
func (s *BlacklistService) Contains(ctx context.Context, tokenHash string) (bool, error) {
	if s.rdb != nil {
		n, err := s.rdb.Exists(ctx, blacklistKeyPrefix+tokenHash).Result()
		if err == nil && n > 0 {
			return true, nil
		}
		// miss or error: database decides
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.TokenBlacklist{}).
		Where("token_hash = ?", tokenHash).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Prune deletes entries whose guarded token has itself expired. Expired
// tokens fail validation on their own, so dropping their entries is safe.
func (s *BlacklistService) Prune(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&models.TokenBlacklist{})
	return res.RowsAffected, res.Error
}

func (s *BlacklistService) cacheSet(ctx context.Context, tokenHash string, expiresAt time.Time) {
	if s.rdb == nil {
		return
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.rdb.Set(ctx, blacklistKeyPrefix+tokenHash, "1", ttl).Err(); err != nil {
		logger.Warnf("[Blacklist] redis set failed for hash prefix %s: %v", tokenHash[:8], err)
	}
}
