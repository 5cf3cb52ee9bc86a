package service

import "fmt"

// ErrorKind is the machine-readable failure class returned to API
// clients.
type ErrorKind string

const (
	KindInvalidPhoneFormat ErrorKind = "INVALID_PHONE_FORMAT"
	KindCooldownActive     ErrorKind = "COOLDOWN_ACTIVE"
	KindNotReachable       ErrorKind = "NOT_REACHABLE_ON_CHANNEL"
	KindServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"
	KindDeliveryTimeout    ErrorKind = "DELIVERY_TIMEOUT"
	KindDeliveryFailed     ErrorKind = "DELIVERY_FAILED"
	KindNoActiveChallenge  ErrorKind = "NO_ACTIVE_CHALLENGE"
	KindAlreadyResolved    ErrorKind = "ALREADY_RESOLVED"
	KindCodeExpired        ErrorKind = "CODE_EXPIRED"
	KindInvalidCode        ErrorKind = "INVALID_CODE"
	KindMaxAttemptsReached ErrorKind = "MAX_ATTEMPTS_REACHED"
	KindSessionInvalid     ErrorKind = "SESSION_INVALID"
	KindInternal           ErrorKind = "INTERNAL"
)

// Error is the service-level failure envelope. RemainingAttempts and
// CooldownSeconds are hints for clients; -1 means not applicable.
type Error struct {
	Kind              ErrorKind
	Message           string
	RemainingAttempts int
	CooldownSeconds   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:              kind,
		Message:           message,
		RemainingAttempts: -1,
		CooldownSeconds:   -1,
	}
}
