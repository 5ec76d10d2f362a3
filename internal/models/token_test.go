package models

import (
	"testing"
	"time"
)

func TestTokenExpiredAt_Boundary(t *testing.T) {
	now := time.Now()
	token := Token{ExpiresAt: now}

	// expires_at == now is already expired; validity needs now < expires_at.
	if !token.ExpiredAt(now) {
		t.Error("token at its expiry instant should count as expired")
	}
	if token.ExpiredAt(now.Add(-time.Nanosecond)) {
		t.Error("token just before expiry should not be expired")
	}
	if !token.ExpiredAt(now.Add(time.Nanosecond)) {
		t.Error("token past expiry should be expired")
	}
}

func TestTokenActiveAt(t *testing.T) {
	now := time.Now()

	live := Token{ExpiresAt: now.Add(time.Hour)}
	if !live.ActiveAt(now) {
		t.Error("unrevoked, unexpired token should be active")
	}

	revokedAt := now.Add(-time.Minute)
	revoked := Token{ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt}
	if revoked.ActiveAt(now) {
		t.Error("revoked token should not be active")
	}
	if !revoked.Revoked() {
		t.Error("Revoked() should report the terminal state")
	}

	expired := Token{ExpiresAt: now.Add(-time.Hour)}
	if expired.ActiveAt(now) {
		t.Error("expired token should not be active")
	}
}

func TestTokenMetadata_Validate(t *testing.T) {
	cases := []struct {
		name  string
		ip    string
		valid bool
	}{
		{"empty ip", "", true},
		{"ipv4", "10.0.0.5", true},
		{"ipv6", "2001:db8::1", true},
		{"out of range", "999.1.1.1", false},
		{"not an ip", "example.com", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := TokenMetadata{IP: tc.ip}.Validate()
			if tc.valid && err != nil {
				t.Errorf("Validate() error = %v, expected nil", err)
			}
			if !tc.valid && err == nil {
				t.Error("Validate() should have failed")
			}
		})
	}
}

func TestTokenMetadata_RoundTrip(t *testing.T) {
	meta := TokenMetadata{
		IP:        "10.0.0.5",
		UserAgent: "test-agent",
		DeviceID:  "device-1",
		Extra:     map[string]string{"app_version": "2.1.0"},
	}

	var token Token
	if err := token.SetMeta(meta); err != nil {
		t.Fatalf("SetMeta() error = %v", err)
	}

	got := token.Meta()
	if got.IP != meta.IP || got.UserAgent != meta.UserAgent || got.DeviceID != meta.DeviceID {
		t.Errorf("round-tripped metadata = %+v, expected %+v", got, meta)
	}
	if got.Extra["app_version"] != "2.1.0" {
		t.Errorf("Extra lost in round trip: %+v", got.Extra)
	}
}

func TestTokenMetadata_RejectsInvalidIP(t *testing.T) {
	var token Token
	if err := token.SetMeta(TokenMetadata{IP: "999.1.1.1"}); err == nil {
		t.Error("SetMeta() should reject an invalid IP")
	}
	if token.Metadata != "" {
		t.Error("rejected metadata must not be stored")
	}
}

func TestDecodeTokenMetadata_CorruptDegradesToZero(t *testing.T) {
	got := DecodeTokenMetadata("{not json")
	if !got.IsZero() {
		t.Errorf("corrupt metadata should decode to zero value, got %+v", got)
	}
	if !DecodeTokenMetadata("").IsZero() {
		t.Error("empty metadata should decode to zero value")
	}
}
