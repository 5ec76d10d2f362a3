package models

import (
	"encoding/json"
	"fmt"
	"net"
)

// TokenMetadata is descriptive context attached to a token row: where and on
// what device the credential was minted. It never participates in the
// pass/fail decision.
type TokenMetadata struct {
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	DeviceID  string            `json:"device_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Validate checks that IP, when present, is an IPv4 or IPv6 literal.
func (m TokenMetadata) Validate() error {
	if m.IP != "" && net.ParseIP(m.IP) == nil {
		return fmt.Errorf("invalid metadata ip: %q", m.IP)
	}
	return nil
}

// Encode validates and serializes the metadata for inline storage.
func (m TokenMetadata) Encode() (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m.IsZero() {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeTokenMetadata parses stored metadata. Any decode failure degrades to
// the empty value so a corrupt row never blocks token operations.
func DecodeTokenMetadata(s string) TokenMetadata {
	if s == "" {
		return TokenMetadata{}
	}
	var m TokenMetadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return TokenMetadata{}
	}
	return m
}

// IsZero reports whether no metadata fields are set.
func (m TokenMetadata) IsZero() bool {
	return m.IP == "" && m.UserAgent == "" && m.DeviceID == "" && len(m.Extra) == 0
}
