package model

import "time"

// User is the identity a verified phone number resolves to. Only the
// fields this service owns are modeled; profile data lives elsewhere.
type User struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"accountId"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	PhoneVerifiedAt *time.Time `json:"phoneVerifiedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
}
