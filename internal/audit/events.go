package audit

import "time"

// EventType identifies an audit event. Values are stable wire names
// consumed by the statistics pipeline.
type EventType string

const (
	EventCodeRequested    EventType = "code_requested"
	EventDeliveryFailed   EventType = "delivery_failed"
	EventCodeVerified     EventType = "code_verified"
	EventChallengeBlocked EventType = "challenge_blocked"
	EventSessionMinted    EventType = "session_minted"
	EventSessionRevoked   EventType = "session_revoked"
	EventSessionRefreshed EventType = "session_refreshed"
)

// Event is one audit record. Phone numbers never appear in clear: only
// the deterministic hash is carried, which is what support tooling
// searches by.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	At          time.Time `json:"at"`
	PhoneHash   string    `json:"phoneHash,omitempty"`
	Purpose     string    `json:"purpose,omitempty"`
	ChallengeID string    `json:"challengeId,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	DeliveryRef string    `json:"deliveryRef,omitempty"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}
