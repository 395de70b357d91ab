package engine

import (
	"time"

	"golang.org/x/time/rate"
)

const DefaultDebounceWindow = time.Second

// Debouncer limits outbound shares to one per window across all champions.
// The limiter holds a single token refilled once per window; a suppressed
// attempt does not consume it.
type Debouncer struct {
	window   time.Duration
	limiter  *rate.Limiter
	sent     []SentShareRecord
	bypassed bool
}

func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		limiter: newWindowLimiter(window),
	}
}

func newWindowLimiter(window time.Duration) *rate.Limiter {
	if window <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(window), 1)
}

// ShouldSend reports whether a share for championID may go out at now, and
// records it when it may.
func (d *Debouncer) ShouldSend(championID int, now time.Time) bool {
	if !d.limiter.AllowN(now, 1) {
		return false
	}
	d.sent = append(d.sent, SentShareRecord{ChampionID: championID, SentAt: now})
	return true
}

// SendImmediate is the once-per-phase-entry fast path. It returns false once
// the bypass has been spent; callers then fall back to ShouldSend.
func (d *Debouncer) SendImmediate(championID int, now time.Time) bool {
	if d.bypassed {
		return false
	}
	d.bypassed = true
	// Always succeeds; it moves the window start to now.
	d.limiter.ReserveN(now, 1)
	d.sent = append(d.sent, SentShareRecord{ChampionID: championID, SentAt: now})
	return true
}

// BypassAvailable reports whether SendImmediate would still bypass.
func (d *Debouncer) BypassAvailable() bool { return !d.bypassed }

func (d *Debouncer) LastSentAt() (time.Time, bool) {
	if len(d.sent) == 0 {
		return time.Time{}, false
	}
	return d.sent[len(d.sent)-1].SentAt, true
}

func (d *Debouncer) Records() []SentShareRecord {
	out := make([]SentShareRecord, len(d.sent))
	copy(out, d.sent)
	return out
}

// Reset forgets every record and re-arms the fast path.
func (d *Debouncer) Reset() {
	d.limiter = newWindowLimiter(d.window)
	d.sent = nil
	d.bypassed = false
}
