package model

import "time"

// DeviceMetadata is informational only; it never participates in
// session validation.
type DeviceMetadata struct {
	DeviceName string `json:"deviceName,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	IPAddress  string `json:"ipAddress,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
}

// Session holds one access/refresh credential pair for a user. Token
// and RefreshToken are opaque secrets returned exactly once at mint or
// rotation time; the store keeps them only as lookup keys.
type Session struct {
	Token            string         `json:"accessToken"`
	RefreshToken     string         `json:"refreshToken"`
	UserID           string         `json:"userId"`
	CreatedAt        time.Time      `json:"createdAt"`
	ExpiresAt        time.Time      `json:"expiresAt"`
	RefreshExpiresAt time.Time      `json:"refreshExpiresAt"`
	LastActivity     time.Time      `json:"lastActivity"`
	IsActive         bool           `json:"isActive"`
	Device           DeviceMetadata `json:"device"`
}

// ValidAt reports whether the access credential is usable at t. A
// revoked session is never valid regardless of expiry.
func (s *Session) ValidAt(t time.Time) bool {
	return s.IsActive && t.Before(s.ExpiresAt)
}

// RefreshValidAt reports whether the refresh credential is usable at t.
func (s *Session) RefreshValidAt(t time.Time) bool {
	return s.IsActive && t.Before(s.RefreshExpiresAt)
}
