package services

import (
	"context"
	"testing"
	"time"

	"github.com/mpetrov/chatgate/backend/internal/models"
)

func TestMaintenanceRun(t *testing.T) {
	db := openTestDB(t)
	blacklist := NewBlacklistService(db, nil)
	svc := NewMaintenanceService(db, blacklist)
	ctx := context.Background()

	// Expired blacklist entry plus a live one.
	if err := blacklist.Add(ctx, "expired-hash", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := blacklist.Add(ctx, "live-hash", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// Token expired past the grace window, one just expired, one live.
	longDead := models.Token{UserID: 1, TokenHash: "h1", ExpiresAt: time.Now().Add(-48 * time.Hour)}
	justDead := models.Token{UserID: 1, TokenHash: "h2", ExpiresAt: time.Now().Add(-time.Minute)}
	live := models.Token{UserID: 1, TokenHash: "h3", ExpiresAt: time.Now().Add(time.Hour)}
	for _, row := range []*models.Token{&longDead, &justDead, &live} {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("failed to create token: %v", err)
		}
	}

	// Audit row past the default retention window.
	stale := models.AuditLog{Event: "login", CreatedAt: time.Now().AddDate(0, 0, -120)}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("failed to create audit row: %v", err)
	}

	svc.Run()

	if found, _ := blacklist.Contains(ctx, "expired-hash"); found {
		t.Error("expired blacklist entry should be pruned")
	}
	if found, _ := blacklist.Contains(ctx, "live-hash"); !found {
		t.Error("live blacklist entry should survive")
	}

	var got models.Token
	if err := db.First(&got, longDead.ID).Error; err != nil {
		t.Fatalf("token row not found: %v", err)
	}
	if !got.Revoked() || got.RevokedReason == nil || *got.RevokedReason != models.RevokeReasonExpired {
		t.Errorf("long-expired token should be settled, got revoked=%v reason=%v", got.Revoked(), got.RevokedReason)
	}

	// Rows inside the grace window keep their stored state. GORM folds a
	// reused destination's primary key into the WHERE clause, so reset it
	// before each lookup.
	got = models.Token{}
	if err := db.First(&got, justDead.ID).Error; err != nil {
		t.Fatalf("token row not found: %v", err)
	}
	if got.Revoked() {
		t.Error("just-expired token should be left for a later sweep")
	}

	got = models.Token{}
	if err := db.First(&got, live.ID).Error; err != nil {
		t.Fatalf("token row not found: %v", err)
	}
	if got.Revoked() {
		t.Error("live token must be untouched")
	}

	var auditCount int64
	if err := db.Model(&models.AuditLog{}).Count(&auditCount).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if auditCount != 0 {
		t.Errorf("stale audit rows = %d, expected 0", auditCount)
	}
}

func TestMaintenanceStartStop(t *testing.T) {
	db := openTestDB(t)
	svc := NewMaintenanceService(db, NewBlacklistService(db, nil))

	if err := svc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	svc.Stop()

	// Stop on a never-started service must not panic.
	NewMaintenanceService(db, NewBlacklistService(db, nil)).Stop()
}
