package engine

import "time"

const (
	DefaultMaxShareAge           = 300 * time.Second
	DefaultSessionStaleThreshold = 60 * time.Second
)

type Verdict int

const (
	Accept Verdict = iota
	RejectStale
	RejectForeignSession
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case RejectStale:
		return "stale"
	case RejectForeignSession:
		return "foreign_session"
	default:
		return "unknown"
	}
}

// Err maps a rejection to its sentinel. Accept maps to nil.
func (v Verdict) Err() error {
	switch v {
	case RejectStale:
		return ErrStaleMessage
	case RejectForeignSession:
		return ErrForeignSessionMessage
	default:
		return nil
	}
}

type Limits struct {
	MaxShareAge           time.Duration
	SessionStaleThreshold time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxShareAge:           DefaultMaxShareAge,
		SessionStaleThreshold: DefaultSessionStaleThreshold,
	}
}

// Validate classifies msg against the current session. Sender clock skew is
// not compensated: a sent_at in the future is simply young.
func Validate(msg SkinShareMessage, ctx *SessionContext, now time.Time, lim Limits) Verdict {
	age := now.Sub(msg.SentAt)

	if ctx == nil {
		if age > lim.MaxShareAge {
			return RejectStale
		}
		return Accept
	}

	// The claimed session is irrelevant; senders may not know it yet.
	if age > lim.SessionStaleThreshold {
		return RejectForeignSession
	}
	return Accept
}
