package services

import (
	"fmt"
	"testing"

	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/internal/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	utils.SetJWTSecret("test-secret-for-service-testing")
}

// openTestDB opens an isolated in-memory database with the full schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=10000", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Token{},
		&models.TokenBlacklist{},
		&models.AuditLog{},
		&models.SystemConfig{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// newTestTokenService wires a TokenService without Redis and without a queue,
// so usage records apply synchronously.
func newTestTokenService(t *testing.T) (*TokenService, *gorm.DB) {
	t.Helper()

	db := openTestDB(t)
	blacklist := NewBlacklistService(db, nil)
	jwtCfg := &config.JWTConfig{Secret: "test-secret-for-service-testing", ExpireHour: 1}
	tokCfg := &config.TokenConfig{RefreshExpireHour: 720}
	return NewTokenService(db, blacklist, jwtCfg, tokCfg), db
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := utils.HashPassword("test-password-123")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := models.User{
		Username:    username,
		Password:    hashed,
		DisplayName: username,
		Role:        "user",
		AuthType:    "local",
		IsActive:    true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to create user %q: %v", username, err)
	}
	return &user
}
