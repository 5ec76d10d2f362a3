package services

import (
	"context"
	"errors"
	"time"

	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/internal/utils"
	"github.com/mpetrov/chatgate/backend/pkg/logger"
	"gorm.io/gorm"
)

type AuthService struct {
	db          *gorm.DB
	ldapService *LDAPService
	tokens      *TokenService
}

func NewAuthService(db *gorm.DB, ldapCfg *config.LDAPConfig, tokens *TokenService) *AuthService {
	return &AuthService{
		db:          db,
		ldapService: NewLDAPService(ldapCfg),
		tokens:      tokens,
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	AuthType string `json:"auth_type"` // local, ldap
	DeviceID string `json:"device_id"`
}

type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=100"`
	Password    string `json:"password" binding:"required,min=6"`
	Email       string `json:"email" binding:"omitempty,email"`
	DisplayName string `json:"display_name"`
}

type LoginResult struct {
	Tokens *TokenPair   `json:"tokens"`
	User   *models.User `json:"user"`
}

// Login authenticates a user and issues a fresh token pair.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest, client ClientInfo) (*LoginResult, error) {
	var user *models.User
	var err error

	// Default to local auth if not specified
	if req.AuthType == "" {
		req.AuthType = "local"
	}

	switch req.AuthType {
	case "local":
		user, err = s.localAuth(req.Username, req.Password)
	case "ldap":
		user, err = s.ldapAuth(req.Username, req.Password)
	default:
		return nil, errors.New("invalid auth type")
	}

	if err != nil {
		return nil, err
	}

	client.DeviceID = req.DeviceID
	pair, err := s.tokens.IssuePair(ctx, user, client)
	if err != nil {
		return nil, err
	}

	// Update last login time; best effort, the login already succeeded.
	now := time.Now()
	user.LastLogin = &now
	if err := s.db.Save(user).Error; err != nil {
		logger.Warnf("[Auth] last login update failed for user %d: %v", user.ID, err)
	}

	LogSecurityEvent("login", &user.ID, &pair.SessionID, client.IP, client.UserAgent, map[string]interface{}{
		"auth_type": req.AuthType,
	})

	return &LoginResult{Tokens: pair, User: user}, nil
}

// Register creates a local account and logs it straight in.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest, client ClientInfo) (*LoginResult, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("username already taken")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	user := models.User{
		Username:    req.Username,
		Password:    hashed,
		Email:       req.Email,
		DisplayName: displayName,
		Role:        "user",
		AuthType:    "local",
		IsActive:    true,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}

	pair, err := s.tokens.IssuePair(ctx, &user, client)
	if err != nil {
		return nil, err
	}

	LogSecurityEvent("register", &user.ID, &pair.SessionID, client.IP, client.UserAgent, nil)

	return &LoginResult{Tokens: pair, User: &user}, nil
}

func (s *AuthService) localAuth(username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ? AND auth_type = ?", username, "local").First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("invalid username or password")
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, errors.New("user is disabled")
	}

	if !utils.CheckPassword(password, user.Password) {
		return nil, errors.New("invalid username or password")
	}

	return &user, nil
}

func (s *AuthService) ldapAuth(username, password string) (*models.User, error) {
	// Authenticate against LDAP
	ldapUser, err := s.ldapService.Authenticate(username, password)
	if err != nil {
		return nil, err
	}

	// Find or create user in database
	var user models.User
	err = s.db.Where("username = ? AND auth_type = ?", ldapUser.Username, "ldap").First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Create new LDAP user
		user = models.User{
			Username:    ldapUser.Username,
			Email:       ldapUser.Email,
			DisplayName: ldapUser.DisplayName,
			Role:        "user",
			AuthType:    "ldap",
			IsActive:    true,
			Verified:    true,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, errors.New("user is disabled")
	}

	// Update user info from LDAP
	user.Email = ldapUser.Email
	user.DisplayName = ldapUser.DisplayName
	s.db.Save(&user)

	return &user, nil
}

// GetUserByID retrieves a user by ID
func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateAdminIfNotExists creates default admin user if not exists
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	s.db.Model(&models.User{}).Where("role = ?", "admin").Count(&count)

	if count == 0 {
		hashedPassword, err := utils.HashPassword("admin")
		if err != nil {
			return err
		}

		admin := models.User{
			Username:    "admin",
			Password:    hashedPassword,
			DisplayName: "Administrator",
			Role:        "admin",
			AuthType:    "local",
			IsActive:    true,
			Verified:    true,
		}

		return s.db.Create(&admin).Error
	}

	return nil
}

func (s *AuthService) IsLDAPEnabled() bool {
	return s.ldapService.IsEnabled()
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ChangePassword rotates the password and revokes every outstanding session:
// a credential change invalidates all prior tokens.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, req *ChangePasswordRequest, client ClientInfo) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return errors.New("user not found")
	}

	if user.AuthType != "local" {
		return errors.New("LDAP users cannot change password here")
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return errors.New("incorrect old password")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	user.Password = hashedPassword
	if err := s.db.Save(&user).Error; err != nil {
		return err
	}

	_, err = s.tokens.RevokeAllForUser(ctx, userID, models.RevokeReasonRevokeAll, client)
	return err
}
