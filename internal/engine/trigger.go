package engine

import "time"

const DefaultSwiftPlayWait = 6 * time.Second

const (
	ReasonThreshold = "threshold"
	ReasonReroll    = "reroll"
	ReasonTimeout   = "timeout"
)

// Policy is the per-mode part of the trigger. Each GameMode has exactly one.
type Policy interface {
	Mode() GameMode
	// Satisfied is the mode's threshold over expected friends.
	Satisfied(shared, expected int) bool
	// Rearms reports whether a reroll after a trigger may trigger again.
	Rearms() bool
	// Wait is how long after session entry the trigger fires regardless of
	// the threshold. Zero means never.
	Wait() time.Duration
}

// Every seat is chosen independently, so partial information is wrong for
// the missing seats.
type normalPolicy struct{}

func (normalPolicy) Mode() GameMode                      { return ModeNormal }
func (normalPolicy) Satisfied(shared, expected int) bool { return shared == expected }
func (normalPolicy) Rearms() bool                        { return false }
func (normalPolicy) Wait() time.Duration                 { return 0 }

type aramPolicy struct{}

func (aramPolicy) Mode() GameMode                      { return ModeARAM }
func (aramPolicy) Satisfied(shared, expected int) bool { return shared > 0 }
func (aramPolicy) Rearms() bool                        { return true }
func (aramPolicy) Wait() time.Duration                 { return 0 }

// Champions are assigned progressively and matchmaking may finish before
// everyone has shared, so a majority is enough.
type swiftPlayPolicy struct{ wait time.Duration }

func (swiftPlayPolicy) Mode() GameMode                      { return ModeSwiftPlay }
func (swiftPlayPolicy) Satisfied(shared, expected int) bool { return shared*2 >= expected }
func (swiftPlayPolicy) Rearms() bool                        { return false }
func (p swiftPlayPolicy) Wait() time.Duration               { return p.wait }

// PolicyFor returns the policy of mode. Unknown modes fall back to Normal,
// which waits for every friend.
func PolicyFor(mode GameMode, swiftPlayWait time.Duration) Policy {
	switch mode {
	case ModeARAM:
		return aramPolicy{}
	case ModeSwiftPlay:
		return swiftPlayPolicy{wait: swiftPlayWait}
	default:
		return normalPolicy{}
	}
}

// Inputs is one observation of the cache and the local selection.
type Inputs struct {
	Shared   int
	Expected int
	HasLocal bool
	// Reroll is set when this observation follows a champion change.
	Reroll bool
	Now    time.Time
}

type Decision struct {
	Fire   bool
	Reason string
	// Err is ErrMissingLocalSelection when shares exist but the trigger
	// cannot arm without the local selection.
	Err error
}

// Trigger is the Idle -> Armed -> Triggered machine for one session.
type Trigger struct {
	policy    Policy
	sessionID string
	state     InjectionState
	deadline  time.Time
	rearmGap  time.Duration
	lastFired time.Time
	pending   bool
	fired     int
}

// NewTrigger starts Idle. rearmGap is the minimum time between a trigger and
// a reroll re-trigger.
func NewTrigger(ctx SessionContext, policy Policy, rearmGap time.Duration) *Trigger {
	t := &Trigger{
		policy:    policy,
		sessionID: ctx.SessionID,
		state:     StateIdle,
		rearmGap:  rearmGap,
	}
	if w := policy.Wait(); w > 0 {
		t.deadline = ctx.EnteredAt.Add(w)
	}
	return t
}

func (t *Trigger) State() InjectionState { return t.state }
func (t *Trigger) SessionID() string     { return t.sessionID }
func (t *Trigger) Mode() GameMode        { return t.policy.Mode() }
func (t *Trigger) Fired() int            { return t.fired }
func (t *Trigger) LastFired() time.Time  { return t.lastFired }

// Deadline is the forced-fire time, zero when the mode has none.
func (t *Trigger) Deadline() time.Time { return t.deadline }

// Evaluate advances the machine on one observation and reports whether the
// injection collaborator should be invoked now.
func (t *Trigger) Evaluate(in Inputs) Decision {
	if in.Reroll && t.state == StateTriggered && t.policy.Rearms() {
		t.state = StateArmed
		t.pending = true
	}

	// No friends present and sharing: inert, not an error.
	if in.Expected == 0 {
		return Decision{}
	}

	switch t.state {
	case StateTriggered:
		return Decision{}
	case StateIdle:
		if in.Shared == 0 {
			return Decision{}
		}
		if !in.HasLocal {
			return Decision{Err: ErrMissingLocalSelection}
		}
		t.state = StateArmed
	}

	if !in.HasLocal {
		return Decision{Err: ErrMissingLocalSelection}
	}

	var reason string
	switch {
	case t.pending:
		if in.Now.Sub(t.lastFired) < t.rearmGap || !t.policy.Satisfied(in.Shared, in.Expected) {
			return Decision{}
		}
		reason = ReasonReroll
	case t.policy.Satisfied(in.Shared, in.Expected):
		reason = ReasonThreshold
	case !t.deadline.IsZero() && !in.Now.Before(t.deadline) && in.Shared > 0:
		reason = ReasonTimeout
	default:
		return Decision{}
	}

	t.state = StateTriggered
	t.lastFired = in.Now
	t.pending = false
	t.fired++
	return Decision{Fire: true, Reason: reason}
}
