package ledger

import "time"

// CooldownPolicy throttles code issuance per (phone, purpose). The
// window is measured from the latest entry's creation time regardless
// of its status, so a failed or expired challenge still counts.
type CooldownPolicy struct {
	Window time.Duration
}

// Remaining returns how much of the window is left at now; zero or
// negative means a new code may be issued.
func (p CooldownPolicy) Remaining(lastIssued, now time.Time) time.Duration {
	return p.Window - now.Sub(lastIssued)
}

func (p CooldownPolicy) CanIssue(lastIssued, now time.Time) bool {
	return p.Remaining(lastIssued, now) <= 0
}
