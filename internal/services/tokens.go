package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/internal/utils"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
	"gorm.io/gorm"
)

var (
	// ErrInvalidToken covers every rotation failure: unknown value, revoked,
	// expired, blacklisted, or losing a concurrent rotation. One error class
	// so callers cannot probe which condition failed.
	ErrInvalidToken = errors.New("invalid refresh token")

	// ErrIssuance is returned when the store rejects a new token row.
	ErrIssuance = errors.New("token issuance failed")
)

// ClientInfo is the per-request context attached to token operations. Passed
// explicitly, never read from ambient state.
type ClientInfo struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// TokenPair is one issued access/refresh pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        uint      `json:"session_id"`
}

// TokenService owns the token lifecycle: issuance, validation, rotation and
// revocation. All state transitions go through conditional updates keyed on
// the row's current revoked state, so concurrent transitions have exactly
// one winner.
type TokenService struct {
	db          *gorm.DB
	blacklist   *BlacklistService
	audit       *AuditService
	queue       AuditQueue // nil means usage records apply in-process
	jwtConfig   *config.JWTConfig
	tokenConfig *config.TokenConfig
	configSvc   *SystemConfigService
	sign        func(userID uint, username, role string, sessionID uint, expireHours int) (string, error)
}

func NewTokenService(db *gorm.DB, blacklist *BlacklistService, jwtCfg *config.JWTConfig, tokCfg *config.TokenConfig) *TokenService {
	return &TokenService{
		db:          db,
		blacklist:   blacklist,
		audit:       NewAuditService(db),
		jwtConfig:   jwtCfg,
		tokenConfig: tokCfg,
		configSvc:   NewSystemConfigService(db),
		sign:        utils.GenerateToken,
	}
}

// SetQueue routes usage-audit records through the given queue instead of
// applying them in-process.
func (s *TokenService) SetQueue(q AuditQueue) {
	s.queue = q
}

// IssuePair mints a new access/refresh pair for the user. The refresh value
// is stored hashed; the access token is a signed JWT carrying the refresh
// row's id as its session reference and is never persisted.
func (s *TokenService) IssuePair(ctx context.Context, user *models.User, client ClientInfo) (*TokenPair, error) {
	accessHours := s.accessTokenExpireHours()
	refreshHours := s.refreshTokenExpireHours()

	raw, hash, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	now := time.Now()
	row := models.Token{
		UserID:    user.ID,
		Kind:      models.TokenKindRefresh,
		TokenHash: hash,
		ExpiresAt: now.Add(time.Duration(refreshHours) * time.Hour),
	}
	meta := models.TokenMetadata{IP: client.IP, UserAgent: client.UserAgent, DeviceID: client.DeviceID}
	if err := row.SetMeta(meta); err != nil {
		// Descriptive context only: a bad client IP must not block issuance.
		logger.Warnf("[Tokens] dropping invalid metadata: %v", err)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	access, err := s.sign(user.ID, user.Username, user.Role, row.ID, accessHours)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:     raw,
		RefreshExpiresAt: row.ExpiresAt,
		SessionID:        row.ID,
	}, nil
}

// ValidateRefreshToken is the boolean security gate: true iff the value is
// not blacklisted, a row exists with matching value and owner, the row is
// not revoked, and now is strictly before expiry. A success schedules a
// best-effort usage update that never influences the returned result. The
// error return carries storage failures only, after one transparent retry;
// the caller must treat it as a rejection (fail closed).
func (s *TokenService) ValidateRefreshToken(ctx context.Context, raw string, userID uint, client ClientInfo) (bool, error) {
	if raw == "" {
		return false, nil
	}
	hash := hashRefreshToken(raw)

	blacklisted, err := s.containsWithRetry(ctx, hash)
	if err != nil {
		return false, err
	}
	if blacklisted {
		return false, nil
	}

	row, err := s.findByHashWithRetry(ctx, hash)
	if err != nil {
		return false, err
	}
	if row == nil || row.UserID != userID || !row.ActiveAt(time.Now()) {
		return false, nil
	}

	s.recordUsage(row.ID, client)
	return true, nil
}

// ValidateSession answers the per-request gate check for an access token's
// embedded session id. Same conditions as refresh validation, without the
// usage side effect: gate traffic is not refresh usage.
func (s *TokenService) ValidateSession(ctx context.Context, sessionID, userID uint) (bool, error) {
	row, err := s.findByIDWithRetry(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if row == nil || row.UserID != userID {
		return false, nil
	}

	blacklisted, err := s.containsWithRetry(ctx, row.TokenHash)
	if err != nil {
		return false, err
	}
	if blacklisted {
		return false, nil
	}

	return row.ActiveAt(time.Now()), nil
}

// Rotate exchanges a valid refresh token for a new pair. The old row is
// revoked with reason "rotated" through a conditional update so that of two
// concurrent rotations of the same token exactly one wins; the loser gets
// ErrInvalidToken, indistinguishable from a token that never existed.
func (s *TokenService) Rotate(ctx context.Context, raw string, client ClientInfo) (*TokenPair, *models.User, error) {
	if raw == "" {
		return nil, nil, ErrInvalidToken
	}
	hash := hashRefreshToken(raw)

	blacklisted, err := s.containsWithRetry(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	if blacklisted {
		return nil, nil, ErrInvalidToken
	}

	row, err := s.findByHashWithRetry(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	if row == nil || !row.ActiveAt(time.Now()) {
		return nil, nil, ErrInvalidToken
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, row.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, nil, ErrInvalidToken
	}

	accessHours := s.accessTokenExpireHours()
	refreshHours := s.refreshTokenExpireHours()

	newRaw, newHash, err := generateRefreshToken()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	now := time.Now()
	newRow := models.Token{
		UserID:    user.ID,
		Kind:      models.TokenKindRefresh,
		TokenHash: newHash,
		ExpiresAt: now.Add(time.Duration(refreshHours) * time.Hour),
	}
	meta := models.TokenMetadata{IP: client.IP, UserAgent: client.UserAgent, DeviceID: client.DeviceID}
	if err := newRow.SetMeta(meta); err != nil {
		logger.Warnf("[Tokens] dropping invalid metadata: %v", err)
	}

	var access string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Token{}).
			Where("id = ? AND revoked_at IS NULL", row.ID).
			Updates(map[string]interface{}{
				"revoked_at":     now,
				"revoked_reason": models.RevokeReasonRotated,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent rotation already revoked this row.
			return ErrInvalidToken
		}
		if err := s.blacklist.AddTx(tx, hash, row.ExpiresAt); err != nil {
			return err
		}
		if err := tx.Create(&newRow).Error; err != nil {
			return err
		}
		// Sign inside the transaction: a signing failure rolls the whole
		// exchange back and the old token stays live.
		signed, signErr := s.sign(user.ID, user.Username, user.Role, newRow.ID, accessHours)
		if signErr != nil {
			return fmt.Errorf("%w: %v", ErrIssuance, signErr)
		}
		access = signed
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, nil, ErrInvalidToken
		}
		if errors.Is(err, ErrIssuance) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("rotate token: %w", err)
	}

	s.blacklist.CachePropagate(ctx, hash, row.ExpiresAt)
	LogSecurityEvent("rotate", &user.ID, &row.ID, client.IP, client.UserAgent, map[string]interface{}{
		"new_token_id": newRow.ID,
	})

	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:     newRaw,
		RefreshExpiresAt: newRow.ExpiresAt,
		SessionID:        newRow.ID,
	}, &user, nil
}

// Revoke marks the matching row revoked and blacklists the value for defense
// in depth. Idempotent: revoking an already-revoked or unknown token is a
// no-op, and the value gets blacklisted either way.
func (s *TokenService) Revoke(ctx context.Context, raw, reason string, client ClientInfo) error {
	if raw == "" {
		return nil
	}
	hash := hashRefreshToken(raw)

	row, err := s.findByHashWithRetry(ctx, hash)
	if err != nil {
		return err
	}

	now := time.Now()
	if row == nil {
		// Blacklist entries reference values, not rows: a value with no row
		// still gets rejected from here on.
		ttl := time.Duration(s.refreshTokenExpireHours()) * time.Hour
		return s.blacklist.Add(ctx, hash, now.Add(ttl))
	}

	var freshlyRevoked bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Token{}).
			Where("id = ? AND revoked_at IS NULL", row.ID).
			Updates(map[string]interface{}{
				"revoked_at":     now,
				"revoked_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		freshlyRevoked = res.RowsAffected > 0
		return s.blacklist.AddTx(tx, hash, row.ExpiresAt)
	})
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	s.blacklist.CachePropagate(ctx, hash, row.ExpiresAt)
	if freshlyRevoked {
		LogSecurityEvent("revoke", &row.UserID, &row.ID, client.IP, client.UserAgent, map[string]interface{}{
			"reason": reason,
		})
	}
	return nil
}

// RevokeSession revokes one of the user's own sessions by row id. Ownership
// is enforced; unknown or foreign ids are a no-op.
func (s *TokenService) RevokeSession(ctx context.Context, userID, tokenID uint, reason string, client ClientInfo) error {
	var row models.Token
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", tokenID, userID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load token: %w", err)
	}

	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Token{}).
			Where("id = ? AND revoked_at IS NULL", row.ID).
			Updates(map[string]interface{}{
				"revoked_at":     now,
				"revoked_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		return s.blacklist.AddTx(tx, row.TokenHash, row.ExpiresAt)
	})
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	s.blacklist.CachePropagate(ctx, row.TokenHash, row.ExpiresAt)
	LogSecurityEvent("revoke", &userID, &row.ID, client.IP, client.UserAgent, map[string]interface{}{
		"reason": reason,
	})
	return nil
}

// RevokeAllForUser revokes every live token the user owns and blacklists
// each value, all in one transaction. A token issued concurrently either
// commits before the snapshot (and is revoked here) or serializes after the
// transaction entirely.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uint, reason string, client ClientInfo) (int, error) {
	var rows []models.Token
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND revoked_at IS NULL", userID).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uint, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}

		res := tx.Model(&models.Token{}).
			Where("id IN ? AND revoked_at IS NULL", ids).
			Updates(map[string]interface{}{
				"revoked_at":     now,
				"revoked_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}

		for _, r := range rows {
			if err := s.blacklist.AddTx(tx, r.TokenHash, r.ExpiresAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}

	for _, r := range rows {
		s.blacklist.CachePropagate(ctx, r.TokenHash, r.ExpiresAt)
	}
	if len(rows) > 0 {
		LogSecurityEvent("revoke-all", &userID, nil, client.IP, client.UserAgent, map[string]interface{}{
			"reason": reason,
			"count":  len(rows),
		})
	}
	return len(rows), nil
}

// ListUserSessions returns the user's live sessions, most recently used first.
func (s *TokenService) ListUserSessions(ctx context.Context, userID uint) ([]models.Token, error) {
	var rows []models.Token
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("last_used_at DESC, created_at DESC").
		Find(&rows).Error
	return rows, err
}

// --- internals ---

// recordUsage schedules the usage-counter and last-used update. Through the
// queue when one is wired, in-process otherwise. Failures are logged and
// dropped: the validation verdict is already out.
func (s *TokenService) recordUsage(tokenID uint, client ClientInfo) {
	task := &UsageTask{
		TokenID:   tokenID,
		UsedAt:    time.Now(),
		IP:        client.IP,
		UserAgent: client.UserAgent,
	}
	if s.queue != nil {
		if err := s.queue.Enqueue(task); err != nil {
			logger.Warnf("[Tokens] usage enqueue failed: %v", err)
		}
		return
	}
	if err := s.audit.ApplyUsage(context.Background(), task); err != nil {
		logger.Warnf("[Tokens] usage update failed: %v", err)
	}
}

// containsWithRetry retries the blacklist lookup once on storage failure.
func (s *TokenService) containsWithRetry(ctx context.Context, hash string) (bool, error) {
	found, err := s.blacklist.Contains(ctx, hash)
	if err == nil {
		return found, nil
	}
	found, err = s.blacklist.Contains(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("blacklist lookup: %w", err)
	}
	return found, nil
}

func (s *TokenService) findByHashWithRetry(ctx context.Context, hash string) (*models.Token, error) {
	return s.findWithRetry(ctx, "token_hash = ?", hash)
}

func (s *TokenService) findByIDWithRetry(ctx context.Context, id uint) (*models.Token, error) {
	return s.findWithRetry(ctx, "id = ?", id)
}

// findWithRetry performs a point lookup with one transparent retry on
// storage failure. Not-found is a clean miss, not an error.
func (s *TokenService) findWithRetry(ctx context.Context, query string, arg interface{}) (*models.Token, error) {
	lookup := func() (*models.Token, error) {
		var row models.Token
		if err := s.db.WithContext(ctx).Where(query, arg).First(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}

	row, err := lookup()
	if err == nil {
		return row, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	row, err = lookup()
	if err == nil {
		return row, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("token lookup: %w", err)
}

func (s *TokenService) accessTokenExpireHours() int {
	defaultHours := s.jwtConfig.ExpireHour
	value := s.configSvc.GetWithDefault("auth_access_token_expire_hours", strconv.Itoa(defaultHours))
	hours, err := strconv.Atoi(value)
	if err != nil || hours <= 0 {
		return defaultHours
	}
	return hours
}

func (s *TokenService) refreshTokenExpireHours() int {
	defaultHours := s.tokenConfig.RefreshExpireHour
	value := s.configSvc.GetWithDefault("auth_refresh_token_expire_hours", strconv.Itoa(defaultHours))
	hours, err := strconv.Atoi(value)
	if err != nil || hours <= 0 {
		return defaultHours
	}
	return hours
}

func generateRefreshToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, 32)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(randomBytes)
	tokenHash = hashRefreshToken(token)
	return token, tokenHash, nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
