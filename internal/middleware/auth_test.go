package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mpetrov/chatgate/backend/internal/config"
	"github.com/mpetrov/chatgate/backend/internal/models"
	"github.com/mpetrov/chatgate/backend/internal/services"
	"github.com/mpetrov/chatgate/backend/internal/utils"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("test-secret-for-middleware-testing")
}

type gateFixture struct {
	db     *gorm.DB
	tokens *services.TokenService
	user   *models.User
	pair   *services.TokenPair
	router *gin.Engine
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	err = db.AutoMigrate(&models.User{}, &models.Token{}, &models.TokenBlacklist{}, &models.AuditLog{}, &models.SystemConfig{})
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	user := &models.User{Username: "alice", Role: "user", AuthType: "local", IsActive: true}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	blacklist := services.NewBlacklistService(db, nil)
	tokens := services.NewTokenService(db, blacklist,
		&config.JWTConfig{Secret: "test-secret-for-middleware-testing", ExpireHour: 1},
		&config.TokenConfig{RefreshExpireHour: 720})

	pair, err := tokens.IssuePair(context.Background(), user, services.ClientInfo{})
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	router := gin.New()
	router.Use(TokenGate(tokens, []string{"/public"}))
	router.GET("/public/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/open", func(c *gin.Context) {
		c.JSON(200, gin.H{"user_id": GetUserID(c)})
	})
	protected := router.Group("", RequireAuth())
	protected.GET("/protected", func(c *gin.Context) {
		c.JSON(200, gin.H{"user_id": GetUserID(c), "session_id": GetSessionID(c)})
	})
	admin := router.Group("", RequireAuth(), AdminRequired())
	admin.GET("/admin", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return &gateFixture{db: db, tokens: tokens, user: user, pair: pair, router: router}
}

func (f *gateFixture) request(t *testing.T, path, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func TestTokenGate_PublicPrefixSkipped(t *testing.T) {
	f := newGateFixture(t)

	// Even garbage credentials pass on a public prefix.
	w := f.request(t, "/public/ping", "Bearer not-a-token")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, expected %d", w.Code, http.StatusOK)
	}
}

func TestTokenGate_NoHeaderPassesThrough(t *testing.T) {
	f := newGateFixture(t)

	// The gate lets anonymous requests through; RequireAuth rejects them.
	w := f.request(t, "/open", "")
	if w.Code != http.StatusOK {
		t.Errorf("open route status = %d, expected %d", w.Code, http.StatusOK)
	}

	w = f.request(t, "/protected", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("protected route status = %d, expected %d", w.Code, http.StatusUnauthorized)
	}
}

func TestTokenGate_MalformedHeaders(t *testing.T) {
	f := newGateFixture(t)

	cases := []string{
		"Bearer not-a-token",
		"Basic dXNlcjpwYXNz",
		"Bearer",
		"bearer lowercase-scheme",
	}

	for _, header := range cases {
		w := f.request(t, "/protected", header)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, expected %d", header, w.Code, http.StatusUnauthorized)
			continue
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("header %q: invalid body: %v", header, err)
		}
		if body["error"] != "Invalid token" {
			t.Errorf("header %q: error = %q, expected %q", header, body["error"], "Invalid token")
		}
	}
}

func TestTokenGate_ValidToken(t *testing.T) {
	f := newGateFixture(t)

	w := f.request(t, "/protected", "Bearer "+f.pair.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var body struct {
		UserID    uint `json:"user_id"`
		SessionID uint `json:"session_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.UserID != f.user.ID {
		t.Errorf("user_id = %d, expected %d", body.UserID, f.user.ID)
	}
	if body.SessionID != f.pair.SessionID {
		t.Errorf("session_id = %d, expected %d", body.SessionID, f.pair.SessionID)
	}
}

func TestTokenGate_RevokedSession(t *testing.T) {
	f := newGateFixture(t)

	err := f.tokens.Revoke(context.Background(), f.pair.RefreshToken, models.RevokeReasonLogout, services.ClientInfo{})
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	// The still-unexpired access token dies with its session.
	w := f.request(t, "/protected", "Bearer "+f.pair.AccessToken)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, expected %d", w.Code, http.StatusUnauthorized)
	}
}

func TestTokenGate_StorageFailureIsServerError(t *testing.T) {
	f := newGateFixture(t)

	// Sanity: the credential works while the store is up.
	w := f.request(t, "/protected", "Bearer "+f.pair.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("baseline status = %d, expected %d", w.Code, http.StatusOK)
	}

	// Take the token store out from under the gate.
	if err := f.db.Exec("DROP TABLE tokens").Error; err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	w = f.request(t, "/protected", "Bearer "+f.pair.AccessToken)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, expected %d", w.Code, http.StatusInternalServerError)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["error"] != "Internal server error" {
		t.Errorf("error = %q, expected %q", body["error"], "Internal server error")
	}
}

func TestAdminRequired(t *testing.T) {
	f := newGateFixture(t)

	// Regular user is rejected.
	w := f.request(t, "/admin", "Bearer "+f.pair.AccessToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, expected %d", w.Code, http.StatusForbidden)
	}

	// Admin passes.
	adminToken, err := utils.GenerateToken(f.user.ID, f.user.Username, "admin", f.pair.SessionID, 1)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	w = f.request(t, "/admin", "Bearer "+adminToken)
	if w.Code != http.StatusOK {
		t.Errorf("admin status = %d, expected %d", w.Code, http.StatusOK)
	}
}
