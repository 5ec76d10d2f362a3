package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/middleware"
	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/internal/services"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
	"github.com/mpetrov/chatgate/backend/pkg/response"
	"gorm.io/gorm"
)

type AuthHandler struct {
	authService *services.AuthService
	tokens      *services.TokenService
	presence    *services.PresenceDirectory
	ldapEnabled bool
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, tokens *services.TokenService) *AuthHandler {
	return &AuthHandler{
		authService: services.NewAuthService(db, &cfg.LDAP, tokens),
		tokens:      tokens,
		presence:    services.GetPresence(),
		ldapEnabled: cfg.LDAP.Enabled,
	}
}

// refreshTokenFromRequest reads the refresh credential from the
// X-Refresh-Token header, falling back to the JSON body.
func refreshTokenFromRequest(c *gin.Context) string {
	if token := c.GetHeader("X-Refresh-Token"); token != "" {
		return token
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return ""
	}
	return body.RefreshToken
}

// Login handles user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req, middleware.ClientInfo(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.ErrorBody{Error: err.Error()})
		return
	}

	response.Success(c, result)
}

// Register creates a new local account
// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Register(c.Request.Context(), &req, middleware.ClientInfo(c))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Created(c, result)
}

// Refresh rotates a refresh token for a new pair
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	raw := refreshTokenFromRequest(c)

	pair, _, err := h.tokens.Rotate(c.Request.Context(), raw, middleware.ClientInfo(c))
	if err != nil {
		if errors.Is(err, services.ErrInvalidToken) {
			response.Unauthorized(c)
			return
		}
		logger.Error().Err(err).Msg("token rotation failed")
		response.ServerError(c)
		return
	}

	response.Success(c, pair)
}

// Logout revokes the presented refresh token
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	raw := refreshTokenFromRequest(c)

	if err := h.tokens.Revoke(c.Request.Context(), raw, models.RevokeReasonLogout, middleware.ClientInfo(c)); err != nil {
		logger.Error().Err(err).Msg("logout revoke failed")
		response.ServerError(c)
		return
	}

	response.Success(c, gin.H{"message": "logged out successfully"})
}

// LogoutAll revokes every session of the current user and drops their live
// connections
// POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID := middleware.GetUserID(c)

	count, err := h.tokens.RevokeAllForUser(c.Request.Context(), userID, models.RevokeReasonRevokeAll, middleware.ClientInfo(c))
	if err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("revoke-all failed")
		response.ServerError(c)
		return
	}

	h.presence.CloseAll(userID)

	response.Success(c, gin.H{"revoked": count})
}

// GetCurrentUser returns the current logged-in user
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.authService.GetUserByID(middleware.GetUserID(c))
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}

	response.Success(c, user)
}

// GetAuthConfig returns authentication configuration
// GET /api/auth/config
func (h *AuthHandler) GetAuthConfig(c *gin.Context) {
	response.Success(c, gin.H{
		"ldap_enabled": h.ldapEnabled,
	})
}

// ChangePassword rotates the password and kills all sessions
// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req services.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.authService.ChangePassword(c.Request.Context(), userID, &req, middleware.ClientInfo(c)); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.presence.CloseAll(userID)

	response.Success(c, gin.H{"message": "password changed"})
}

// SessionInfo is one live session as shown to its owner. The token value
// never leaves the store.
type SessionInfo struct {
	ID         uint    `json:"id"`
	CreatedAt  string  `json:"created_at"`
	ExpiresAt  string  `json:"expires_at"`
	LastUsedAt *string `json:"last_used_at,omitempty"`
	UsageCount uint    `json:"usage_count"`
	IP         string  `json:"ip,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
	DeviceID   string  `json:"device_id,omitempty"`
	Current    bool    `json:"current"`
}

// ListSessions returns the caller's live sessions
// GET /api/auth/sessions
func (h *AuthHandler) ListSessions(c *gin.Context) {
	userID := middleware.GetUserID(c)
	currentSession := middleware.GetSessionID(c)

	rows, err := h.tokens.ListUserSessions(c.Request.Context(), userID)
	if err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("session list failed")
		response.ServerError(c)
		return
	}

	sessions := make([]SessionInfo, 0, len(rows))
	for _, row := range rows {
		meta := row.Meta()
		info := SessionInfo{
			ID:         row.ID,
			CreatedAt:  row.CreatedAt.Format("2006-01-02 15:04:05"),
			ExpiresAt:  row.ExpiresAt.Format("2006-01-02 15:04:05"),
			UsageCount: row.UsageCount,
			IP:         meta.IP,
			UserAgent:  meta.UserAgent,
			DeviceID:   meta.DeviceID,
			Current:    row.ID == currentSession,
		}
		if row.LastUsedAt != nil {
			value := row.LastUsedAt.Format("2006-01-02 15:04:05")
			info.LastUsedAt = &value
		}
		sessions = append(sessions, info)
	}

	response.Success(c, gin.H{"sessions": sessions})
}

// RevokeSession revokes one of the caller's sessions
// DELETE /api/auth/sessions/:id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}

	userID := middleware.GetUserID(c)
	if err := h.tokens.RevokeSession(c.Request.Context(), userID, uint(id), models.RevokeReasonManual, middleware.ClientInfo(c)); err != nil {
		logger.Error().Err(err).Uint("user_id", userID).Msg("session revoke failed")
		response.ServerError(c)
		return
	}

	response.Success(c, gin.H{"message": "session revoked"})
}

// CreateAdminIfNotExists creates default admin user
func (h *AuthHandler) CreateAdminIfNotExists() error {
	return h.authService.CreateAdminIfNotExists()
}
