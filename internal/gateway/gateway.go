package gateway

import "context"

// ErrorKind classifies delivery failures for the orchestration layer.
// Expected failure states come back inside results, never as panics or
// opaque errors, so callers can decide whether to keep or supersede the
// ledger entry.
type ErrorKind string

const (
	ErrNone               ErrorKind = ""
	ErrServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"
	ErrNotReachable       ErrorKind = "NOT_REACHABLE_ON_CHANNEL"
	ErrTimeout            ErrorKind = "TIMEOUT"
	ErrMalformedResponse  ErrorKind = "MALFORMED_RESPONSE"
	ErrUnknown            ErrorKind = "UNKNOWN"
)

// CheckResult reports whether a destination can receive messages on the
// channel. Reference carries the channel-side identity (e.g. a JID)
// when available, for audit only.
type CheckResult struct {
	Reachable bool
	Reference string
	Err       ErrorKind
	Detail    string
}

// SendResult reports the outcome of one message transmission. Reference
// is the channel's message id, kept for troubleshooting.
type SendResult struct {
	Delivered bool
	Reference string
	Err       ErrorKind
	Detail    string
}

// Gateway abstracts the external delivery channel. Implementations must
// bound every call with their own timeout, independent of the caller's
// request deadline.
type Gateway interface {
	CheckReachable(ctx context.Context, phone string) CheckResult
	Send(ctx context.Context, phone, message string) SendResult
}
