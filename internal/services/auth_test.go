package services

import (
	"context"
	"testing"

	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/models"
	"gorm.io/gorm"
)

func newTestAuthService(t *testing.T) (*AuthService, *TokenService, *gorm.DB) {
	t.Helper()

	tokens, db := newTestTokenService(t)
	auth := NewAuthService(db, &config.LDAPConfig{Enabled: false}, tokens)
	return auth, tokens, db
}

func TestRegisterAndLogin(t *testing.T) {
	auth, _, db := newTestAuthService(t)
	ctx := context.Background()

	result, err := auth.Register(ctx, &RegisterRequest{
		Username: "alice",
		Password: "secret-pass",
		Email:    "alice@example.com",
	}, testClient)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if result.Tokens == nil || result.Tokens.RefreshToken == "" {
		t.Fatal("registration should issue a token pair")
	}
	if result.User.Role != "user" {
		t.Errorf("new user role = %q, expected %q", result.User.Role, "user")
	}

	login, err := auth.Login(ctx, &LoginRequest{
		Username: "alice",
		Password: "secret-pass",
	}, testClient)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if login.Tokens.RefreshToken == result.Tokens.RefreshToken {
		t.Error("each login must mint a fresh pair")
	}
	if login.User.LastLogin == nil {
		t.Error("LastLogin should be stamped")
	}

	// The stamp is persisted, not just set on the returned struct.
	var stored models.User
	if err := db.First(&stored, login.User.ID).Error; err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	if stored.LastLogin == nil {
		t.Error("LastLogin should be written to the store")
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	auth, _, _ := newTestAuthService(t)
	ctx := context.Background()

	req := &RegisterRequest{Username: "alice", Password: "secret-pass"}
	if _, err := auth.Register(ctx, req, testClient); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := auth.Register(ctx, req, testClient); err == nil {
		t.Error("duplicate username should be rejected")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	auth, _, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret-pass"}, testClient); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := auth.Login(ctx, &LoginRequest{Username: "alice", Password: "wrong"}, testClient); err == nil {
		t.Error("wrong password should be rejected")
	}
	if _, err := auth.Login(ctx, &LoginRequest{Username: "nobody", Password: "secret-pass"}, testClient); err == nil {
		t.Error("unknown user should be rejected")
	}
}

func TestLogin_DisabledUser(t *testing.T) {
	auth, _, db := newTestAuthService(t)
	ctx := context.Background()

	result, err := auth.Register(ctx, &RegisterRequest{Username: "alice", Password: "secret-pass"}, testClient)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := db.Model(result.User).Update("is_active", false).Error; err != nil {
		t.Fatalf("failed to disable user: %v", err)
	}

	if _, err := auth.Login(ctx, &LoginRequest{Username: "alice", Password: "secret-pass"}, testClient); err == nil {
		t.Error("disabled user should not log in")
	}
}

func TestChangePassword_RevokesSessions(t *testing.T) {
	auth, tokens, _ := newTestAuthService(t)
	ctx := context.Background()

	result, err := auth.Register(ctx, &RegisterRequest{Username: "alice", Password: "old-secret"}, testClient)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	userID := result.User.ID

	err = auth.ChangePassword(ctx, userID, &ChangePasswordRequest{
		OldPassword: "old-secret",
		NewPassword: "new-secret",
	}, testClient)
	if err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}

	// The pair issued at registration is dead.
	ok, err := tokens.ValidateRefreshToken(ctx, result.Tokens.RefreshToken, userID, testClient)
	if err != nil || ok {
		t.Errorf("old session after password change: ok=%v err=%v", ok, err)
	}

	if _, err := auth.Login(ctx, &LoginRequest{Username: "alice", Password: "old-secret"}, testClient); err == nil {
		t.Error("old password should no longer work")
	}
	if _, err := auth.Login(ctx, &LoginRequest{Username: "alice", Password: "new-secret"}, testClient); err != nil {
		t.Errorf("new password should work: %v", err)
	}
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	auth, _, _ := newTestAuthService(t)
	ctx := context.Background()

	result, err := auth.Register(ctx, &RegisterRequest{Username: "alice", Password: "old-secret"}, testClient)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err = auth.ChangePassword(ctx, result.User.ID, &ChangePasswordRequest{
		OldPassword: "not-the-old-secret",
		NewPassword: "new-secret",
	}, testClient)
	if err == nil {
		t.Error("wrong old password should be rejected")
	}
}

func TestCreateAdminIfNotExists(t *testing.T) {
	auth, _, db := newTestAuthService(t)

	if err := auth.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("CreateAdminIfNotExists() error = %v", err)
	}
	// Idempotent.
	if err := auth.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("second CreateAdminIfNotExists() error = %v", err)
	}

	var count int64
	if err := db.Table("users").Where("role = ?", "admin").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("admin count = %d, expected 1", count)
	}
}
