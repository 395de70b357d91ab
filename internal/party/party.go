package party

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
)

type Phase string

const (
	PhaseNone        Phase = "None"
	PhaseLobby       Phase = "Lobby"
	PhaseMatchmaking Phase = "Matchmaking"
	PhaseReadyCheck  Phase = "ReadyCheck"
	PhaseChampSelect Phase = "ChampSelect"
	PhaseGameStart   Phase = "GameStart"
	PhaseInProgress  Phase = "InProgress"
	PhaseEndOfGame   Phase = "EndOfGame"
)

// LobbyState is one reading of the lobby-state collaborator.
type LobbyState struct {
	Phase            Phase
	Mode             engine.GameMode
	Local            *engine.LocalSelection
	PresentFriendIDs []string
}

// Sender is the outbound half of the transport collaborator.
type Sender interface {
	Send(ctx context.Context, msg engine.SkinShareMessage) error
}

// Injector applies aggregated selections. Apply must be idempotent.
type Injector interface {
	Apply(ctx context.Context, inj engine.Injection) error
}

type Config struct {
	LocalPlayerID  string
	Limits         engine.Limits
	DebounceWindow time.Duration
	SwiftPlayWait  time.Duration
	// EffectTimeout bounds each Send/Apply call.
	EffectTimeout time.Duration
}

func DefaultConfig(localPlayerID string) Config {
	return Config{
		LocalPlayerID:  localPlayerID,
		Limits:         engine.DefaultLimits(),
		DebounceWindow: engine.DefaultDebounceWindow,
		SwiftPlayWait:  engine.DefaultSwiftPlayWait,
		EffectTimeout:  3 * time.Second,
	}
}

type Msg interface{ isPartyMsg() }

// Inbound is a share delivered by the transport.
type Inbound struct {
	Msg engine.SkinShareMessage
}

func (Inbound) isPartyMsg() {}

// LobbyUpdate is one successful poll, with the roster read at the same tick.
type LobbyUpdate struct {
	State   LobbyState
	Friends []engine.PairedFriend
}

func (LobbyUpdate) isPartyMsg() {}

// PollFailed still counts as a tick so timers and rerolls are re-evaluated.
type PollFailed struct {
	Err error
}

func (PollFailed) isPartyMsg() {}

type swiftDeadline struct {
	SessionID string
}

func (swiftDeadline) isPartyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isPartyMsg() {}

type Shutdown struct{}

func (Shutdown) isPartyMsg() {}

// ErrStopped is returned by State once the loop has exited.
var ErrStopped = errors.New("party engine stopped")

// View is a copy of the loop's state, safe to hand out.
type View struct {
	Active         bool
	SessionID      string
	Mode           engine.GameMode
	Phase          Phase
	EnteredAt      time.Time
	InjectionState engine.InjectionState
	Fired          int
	Expected       int
	Shared         int
	Local          *engine.LocalSelection
	Shares         map[string]engine.ShareCacheEntry
	Sent           []engine.SentShareRecord
}

type effect struct {
	send   *engine.SkinShareMessage
	inject *engine.Injection
}

// Engine is the party synchronization loop. One goroutine owns the session,
// the share cache, the debouncer and the trigger; everything else talks to
// it through the inbox. Sends and injections run on a separate goroutine.
type Engine struct {
	inbox    chan Msg
	effects  chan effect
	cfg      Config
	clock    clockwork.Clock
	log      *zap.Logger
	sender   Sender
	injector Injector

	phase      Phase
	session    *engine.SessionContext
	cache      *engine.ShareCache
	debouncer  *engine.Debouncer
	trigger    *engine.Trigger
	local      *engine.LocalSelection
	expected   map[string]struct{}
	swiftTimer clockwork.Timer

	// lastChampion survives polls without a selection; 0 outside a session.
	lastChampion int

	// current mirrors session.SessionID for the effects goroutine.
	current atomic.Pointer[string]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, cfg Config, clock clockwork.Clock, sender Sender, injector Injector, log *zap.Logger) *Engine {
	ctx, cancel := context.WithCancel(parent)

	e := &Engine{
		inbox:     make(chan Msg, 64),
		effects:   make(chan effect, 16),
		cfg:       cfg,
		clock:     clock,
		log:       log.Named("party"),
		sender:    sender,
		injector:  injector,
		phase:     PhaseNone,
		cache:     engine.NewShareCache(""),
		debouncer: engine.NewDebouncer(cfg.DebounceWindow),
		expected:  map[string]struct{}{},
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go e.loop()
	go e.runEffects()
	return e
}

// Inbox lets the poller, transports and tests post messages.
func (e *Engine) Inbox() chan<- Msg { return e.inbox }

// Done is closed once the loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Deliver posts an inbound share, giving up if the engine stopped.
func (e *Engine) Deliver(msg engine.SkinShareMessage) {
	e.post(Inbound{Msg: msg})
}

// State asks the loop for a View.
func (e *Engine) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	select {
	case e.inbox <- GetState{Reply: reply}:
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-e.done:
		return View{}, ErrStopped
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-e.done:
		return View{}, ErrStopped
	}
}

func (e *Engine) post(m Msg) {
	select {
	case e.inbox <- m:
	case <-e.ctx.Done():
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			e.shutdown()
			return

		case m := <-e.inbox:
			switch msg := m.(type) {
			case Inbound:
				e.handleInbound(msg.Msg)

			case LobbyUpdate:
				e.handleLobby(msg)

			case PollFailed:
				e.log.Warn("lobby poll failed", zap.Error(msg.Err))
				e.evaluate(false)

			case swiftDeadline:
				// A timer from an earlier session must not fire into this one.
				if e.session == nil || e.session.SessionID != msg.SessionID {
					break
				}
				e.evaluate(false)

			case GetState:
				msg.Reply <- e.view()

			case Shutdown:
				e.shutdown()
				return
			}
		}
	}
}

func (e *Engine) shutdown() {
	if e.session != nil {
		e.endSession("shutdown")
	}
	e.cancel()
}

func (e *Engine) handleInbound(msg engine.SkinShareMessage) {
	if err := engine.CheckMessage(msg); err != nil {
		e.log.Warn("dropping share", zap.Error(err))
		return
	}
	if msg.FromFriendID == e.cfg.LocalPlayerID {
		return
	}

	now := e.clock.Now()
	if v := engine.Validate(msg, e.session, now, e.cfg.Limits); v != engine.Accept {
		e.log.Debug("discarding share",
			zap.String("friend_id", msg.FromFriendID),
			zap.Error(v.Err()),
			zap.Duration("age", now.Sub(msg.SentAt)))
		return
	}

	res := e.cache.Record(engine.ShareCacheEntry{
		FriendID:   msg.FromFriendID,
		Message:    msg,
		ReceivedAt: now,
	})
	if !res.Stored {
		e.log.Debug("ignoring older share", zap.String("friend_id", msg.FromFriendID))
		return
	}

	e.log.Debug("share recorded",
		zap.String("session_id", e.cache.SessionID()),
		zap.String("friend_id", msg.FromFriendID),
		zap.Int("champion_id", msg.ChampionID),
		zap.Int("skin_id", msg.SkinID),
		zap.Bool("champion_changed", res.ChampionChanged))

	e.evaluate(res.ChampionChanged)
}

func (e *Engine) handleLobby(u LobbyUpdate) {
	e.expected = expectedFriends(u.State.PresentFriendIDs, u.Friends)

	mode, ok := engine.ParseGameMode(string(u.State.Mode))
	if !ok {
		mode = engine.ModeNormal
	}

	inSelect := u.State.Phase == PhaseChampSelect
	switch {
	case inSelect && e.session != nil && mode != e.session.Mode:
		e.endSession("mode changed")
		e.startSession(mode)
	case inSelect && e.session == nil:
		e.startSession(mode)
	case !inSelect && e.session != nil:
		e.endSession(string(u.State.Phase))
	}
	e.phase = u.State.Phase

	reroll := false
	if e.session != nil {
		reroll = e.updateLocal(u.State.Local)
	}
	e.evaluate(reroll)
}

// startSession clears all per-session state. Shares received before any
// session existed are the one exception: those still fresh under the
// in-session age rule seed the new cache.
func (e *Engine) startSession(mode engine.GameMode) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	sid := id.String()
	now := e.clock.Now()

	ctx := &engine.SessionContext{SessionID: sid, Mode: mode, EnteredAt: now}
	early := e.cache.All()

	e.cache.Reset(sid)
	e.debouncer.Reset()
	e.local = nil
	e.lastChampion = 0
	e.session = ctx
	e.current.Store(&sid)
	e.trigger = engine.NewTrigger(*ctx, engine.PolicyFor(mode, e.cfg.SwiftPlayWait), e.cfg.DebounceWindow)

	kept := 0
	for _, entry := range early {
		if engine.Validate(entry.Message, ctx, now, e.cfg.Limits) == engine.Accept {
			e.cache.Record(entry)
			kept++
		}
	}

	if wait := e.trigger.Deadline(); !wait.IsZero() {
		e.swiftTimer = e.clock.AfterFunc(wait.Sub(now), func() {
			e.post(swiftDeadline{SessionID: sid})
		})
	}

	e.log.Info("session started",
		zap.String("session_id", sid),
		zap.String("mode", string(mode)),
		zap.Int("carried_shares", kept),
		zap.Int("dropped_shares", len(early)-kept))
}

func (e *Engine) endSession(reason string) {
	if e.swiftTimer != nil {
		e.swiftTimer.Stop()
		e.swiftTimer = nil
	}

	e.log.Info("session ended",
		zap.String("session_id", e.session.SessionID),
		zap.String("reason", reason),
		zap.Int("triggers", e.trigger.Fired()))

	e.session = nil
	e.current.Store(nil)
	e.trigger = nil
	e.local = nil
	e.lastChampion = 0
	e.cache.Reset("")
	e.debouncer.Reset()
}

// updateLocal records the local selection, announces changes and reports
// whether the local champion was rerolled.
func (e *Engine) updateLocal(sel *engine.LocalSelection) bool {
	if sel == nil {
		e.local = nil
		return false
	}
	if e.local != nil && e.local.Equal(*sel) {
		return false
	}

	reroll := e.lastChampion != 0 && e.lastChampion != sel.ChampionID
	e.lastChampion = sel.ChampionID
	c := *sel
	e.local = &c
	e.announce(c)
	return reroll
}

func (e *Engine) announce(sel engine.LocalSelection) {
	now := e.clock.Now()

	var ok bool
	if e.session.Mode != engine.ModeNormal && e.debouncer.BypassAvailable() {
		ok = e.debouncer.SendImmediate(sel.ChampionID, now)
	} else {
		ok = e.debouncer.ShouldSend(sel.ChampionID, now)
	}
	if !ok {
		e.log.Debug("reshare suppressed", zap.Int("champion_id", sel.ChampionID))
		return
	}

	msg := engine.NewSelection(e.cfg.LocalPlayerID, sel, now)
	e.emit(effect{send: &msg})
}

func (e *Engine) evaluate(reroll bool) {
	if e.session == nil || e.trigger == nil {
		return
	}

	now := e.clock.Now()
	before := e.trigger.State()
	d := e.trigger.Evaluate(engine.Inputs{
		Shared:   e.cache.CountShared(e.expected),
		Expected: len(e.expected),
		HasLocal: e.local != nil,
		Reroll:   reroll,
		Now:      now,
	})

	if d.Err != nil && before == engine.StateIdle {
		e.log.Debug("trigger blocked", zap.Error(d.Err))
	}
	if !d.Fire {
		return
	}

	inj := engine.Injection{
		SessionID: e.session.SessionID,
		Mode:      e.session.Mode,
		Local:     *e.local,
		Shares:    e.cache.All(),
		Reason:    d.Reason,
		FiredAt:   now,
	}
	e.log.Info("injection triggered",
		zap.String("session_id", inj.SessionID),
		zap.String("mode", string(inj.Mode)),
		zap.String("reason", inj.Reason),
		zap.Int("shares", len(inj.Shares)))
	e.emit(effect{inject: &inj})
}

func (e *Engine) emit(eff effect) {
	select {
	case e.effects <- eff:
	case <-e.ctx.Done():
	}
}

func (e *Engine) isCurrent(sessionID string) bool {
	cur := e.current.Load()
	return cur != nil && *cur == sessionID
}

func (e *Engine) runEffects() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case eff := <-e.effects:
			e.apply(eff)
		}
	}
}

func (e *Engine) apply(eff effect) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.EffectTimeout)
	defer cancel()

	switch {
	case eff.inject != nil:
		inj := eff.inject
		if !e.isCurrent(inj.SessionID) {
			e.log.Debug("dropping injection for ended session", zap.String("session_id", inj.SessionID))
			return
		}
		if err := e.injector.Apply(ctx, *inj); err != nil {
			e.log.Warn("injection failed",
				zap.String("session_id", inj.SessionID),
				zap.Error(fmt.Errorf("%w: %w", engine.ErrCollaboratorUnavailable, err)))
		}

	case eff.send != nil:
		if err := e.sender.Send(ctx, *eff.send); err != nil {
			e.log.Warn("share send failed",
				zap.Int("champion_id", eff.send.ChampionID),
				zap.Error(fmt.Errorf("%w: %w", engine.ErrCollaboratorUnavailable, err)))
		}
	}
}

func (e *Engine) view() View {
	v := View{
		Phase:    e.phase,
		Expected: len(e.expected),
		Shared:   e.cache.CountShared(e.expected),
		Shares:   e.cache.All(),
		Sent:     e.debouncer.Records(),
	}
	if e.session != nil {
		v.Active = true
		v.SessionID = e.session.SessionID
		v.Mode = e.session.Mode
		v.EnteredAt = e.session.EnteredAt
	}
	if e.trigger != nil {
		v.InjectionState = e.trigger.State()
		v.Fired = e.trigger.Fired()
	}
	if e.local != nil {
		c := *e.local
		v.Local = &c
	}
	return v
}

// expectedFriends is present ∩ paired ∩ sharing.
func expectedFriends(present []string, friends []engine.PairedFriend) map[string]struct{} {
	sharing := make(map[string]bool, len(friends))
	for _, f := range friends {
		if f.ShareEnabled {
			sharing[f.FriendID] = true
		}
	}

	out := make(map[string]struct{}, len(present))
	for _, id := range present {
		if sharing[id] {
			out[id] = struct{}{}
		}
	}
	return out
}
