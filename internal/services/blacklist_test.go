package services

import (
	"context"
	"testing"
	"time"
)

func TestBlacklistAddContains(t *testing.T) {
	db := openTestDB(t)
	svc := NewBlacklistService(db, nil)
	ctx := context.Background()

	hash := hashRefreshToken("some-token-value")

	found, err := svc.Contains(ctx, hash)
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if found {
		t.Error("hash should not be blacklisted yet")
	}

	if err := svc.Add(ctx, hash, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	found, err = svc.Contains(ctx, hash)
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if !found {
		t.Error("hash should be blacklisted after Add")
	}
}

func TestBlacklistAdd_Idempotent(t *testing.T) {
	db := openTestDB(t)
	svc := NewBlacklistService(db, nil)
	ctx := context.Background()

	hash := hashRefreshToken("some-token-value")
	expiry := time.Now().Add(time.Hour)

	if err := svc.Add(ctx, hash, expiry); err != nil {
		t.Fatalf("first Add() error = %v", err)
	}
	if err := svc.Add(ctx, hash, expiry); err != nil {
		t.Fatalf("second Add() error = %v", err)
	}

	found, err := svc.Contains(ctx, hash)
	if err != nil || !found {
		t.Errorf("hash should remain blacklisted: found=%v err=%v", found, err)
	}
}

func TestBlacklistPrune(t *testing.T) {
	db := openTestDB(t)
	svc := NewBlacklistService(db, nil)
	ctx := context.Background()

	expired := hashRefreshToken("expired-token")
	live := hashRefreshToken("live-token")

	if err := svc.Add(ctx, expired, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := svc.Add(ctx, live, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	pruned, err := svc.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, expected 1", pruned)
	}

	if found, _ := svc.Contains(ctx, expired); found {
		t.Error("expired entry should be gone")
	}
	if found, _ := svc.Contains(ctx, live); !found {
		t.Error("live entry should survive pruning")
	}
}
