package party

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type fakeSender struct{ ch chan engine.SkinShareMessage }

func (f *fakeSender) Send(ctx context.Context, msg engine.SkinShareMessage) error {
	select {
	case f.ch <- msg:
	case <-ctx.Done():
	}
	return nil
}

type fakeInjector struct{ ch chan engine.Injection }

func (f *fakeInjector) Apply(ctx context.Context, inj engine.Injection) error {
	select {
	case f.ch <- inj:
	case <-ctx.Done():
	}
	return nil
}

type harness struct {
	e     *Engine
	clock *clockwork.FakeClock
	sent  chan engine.SkinShareMessage
	injs  chan engine.Injection
}

// gatedSender holds the effects goroutine inside Send until gate closes.
type gatedSender struct {
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedSender) Send(ctx context.Context, msg engine.SkinShareMessage) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
	}
	return nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithSender(t, nil)
}

func newHarnessWithSender(t *testing.T, sender Sender) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		clock: clockwork.NewFakeClockAt(t0),
		sent:  make(chan engine.SkinShareMessage, 16),
		injs:  make(chan engine.Injection, 16),
	}
	if sender == nil {
		sender = &fakeSender{ch: h.sent}
	}
	h.e = New(ctx, DefaultConfig("me"), h.clock, sender, &fakeInjector{ch: h.injs}, zap.NewNop())

	t.Cleanup(func() {
		cancel()
		<-h.e.Done()
	})
	return h
}

// sync returns once every message posted before it has been handled.
func (h *harness) sync(t *testing.T) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := h.e.State(ctx)
	require.NoError(t, err)
	return v
}

func (h *harness) lobby(phase Phase, mode engine.GameMode, local *engine.LocalSelection, present ...string) {
	friends := make([]engine.PairedFriend, 0, len(present))
	for _, id := range present {
		friends = append(friends, engine.PairedFriend{FriendID: id, DisplayName: id, ShareEnabled: true})
	}
	h.e.Inbox() <- LobbyUpdate{
		State:   LobbyState{Phase: phase, Mode: mode, Local: local, PresentFriendIDs: present},
		Friends: friends,
	}
}

func (h *harness) share(from string, champ, skin int, sentAt time.Time) {
	h.e.Deliver(engine.SkinShareMessage{FromFriendID: from, ChampionID: champ, SkinID: skin, SentAt: sentAt})
}

func sel(champ, skin int) *engine.LocalSelection {
	return &engine.LocalSelection{ChampionID: champ, SkinID: skin}
}

// helper: receive one value with a timeout so tests never hang
func recv[T any](t *testing.T, ch <-chan T, within time.Duration) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func recvNone[T any](t *testing.T, ch <-chan T, within time.Duration) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("expected nothing within %v, got %+v", within, v)
	case <-time.After(within):
	}
}

func TestEngine_EndToEnd_FiresOnceLocalSelectionKnown(t *testing.T) {
	h := newHarness(t)

	h.lobby(PhaseChampSelect, engine.ModeNormal, nil, "f1")
	h.share("f1", 64, 12, t0)
	v := h.sync(t)
	require.True(t, v.Active)
	assert.Equal(t, engine.StateIdle, v.InjectionState)
	recvNone(t, h.injs, 50*time.Millisecond)

	h.clock.Advance(time.Second)
	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(103, 5), "f1")

	inj := recv(t, h.injs, time.Second)
	assert.Equal(t, v.SessionID, inj.SessionID)
	assert.Equal(t, t0.Add(time.Second), inj.FiredAt)
	assert.Equal(t, 103, inj.Local.ChampionID)
	require.Contains(t, inj.Shares, "f1")
	assert.Equal(t, 64, inj.Shares["f1"].Message.ChampionID)
	assert.Equal(t, 12, inj.Shares["f1"].Message.SkinID)

	assert.Equal(t, engine.StateTriggered, h.sync(t).InjectionState)
}

func TestEngine_Normal_FiresOnThirdShare(t *testing.T) {
	h := newHarness(t)
	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(1, 0), "f1", "f2", "f3")

	h.share("f1", 10, 1, t0)
	h.share("f2", 20, 1, t0)
	h.share("f2", 20, 2, t0.Add(time.Millisecond))
	v := h.sync(t)
	assert.Equal(t, 2, v.Shared)
	assert.Equal(t, engine.StateArmed, v.InjectionState)
	recvNone(t, h.injs, 50*time.Millisecond)

	h.share("f3", 30, 1, t0)
	inj := recv(t, h.injs, time.Second)
	assert.Len(t, inj.Shares, 3)
	assert.Equal(t, engine.ReasonThreshold, inj.Reason)

	h.share("f3", 31, 1, t0.Add(time.Second))
	h.sync(t)
	recvNone(t, h.injs, 50*time.Millisecond)
}

func TestEngine_ARAM_RerollRetriggersAfterWindow(t *testing.T) {
	h := newHarness(t)
	h.lobby(PhaseChampSelect, engine.ModeARAM, sel(1, 0), "f1", "f2")

	h.share("f1", 10, 1, t0)
	first := recv(t, h.injs, time.Second)
	assert.Equal(t, 10, first.Shares["f1"].Message.ChampionID)

	h.clock.Advance(300 * time.Millisecond)
	h.share("f1", 20, 4, t0.Add(300*time.Millisecond))
	v := h.sync(t)
	assert.Equal(t, engine.StateArmed, v.InjectionState)
	recvNone(t, h.injs, 50*time.Millisecond)

	h.clock.Advance(700 * time.Millisecond)
	h.e.Inbox() <- PollFailed{}

	second := recv(t, h.injs, time.Second)
	assert.Equal(t, engine.ReasonReroll, second.Reason)
	assert.Equal(t, 20, second.Shares["f1"].Message.ChampionID)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestEngine_ARAM_LocalRerollRetriggers(t *testing.T) {
	h := newHarness(t)
	h.lobby(PhaseChampSelect, engine.ModeARAM, sel(1, 0), "f1")
	h.share("f1", 10, 1, t0)

	first := recv(t, h.injs, time.Second)
	assert.Equal(t, 1, first.Local.ChampionID)

	t.Run("direct swap", func(t *testing.T) {
		h.clock.Advance(time.Second)
		h.lobby(PhaseChampSelect, engine.ModeARAM, sel(2, 0), "f1")

		inj := recv(t, h.injs, time.Second)
		assert.Equal(t, engine.ReasonReroll, inj.Reason)
		assert.Equal(t, 2, inj.Local.ChampionID)
	})

	t.Run("swap seen through an empty poll", func(t *testing.T) {
		h.clock.Advance(time.Second)
		h.lobby(PhaseChampSelect, engine.ModeARAM, nil, "f1")
		h.sync(t)
		recvNone(t, h.injs, 50*time.Millisecond)

		h.lobby(PhaseChampSelect, engine.ModeARAM, sel(3, 0), "f1")

		inj := recv(t, h.injs, time.Second)
		assert.Equal(t, engine.ReasonReroll, inj.Reason)
		assert.Equal(t, 3, inj.Local.ChampionID)
		assert.Equal(t, first.SessionID, inj.SessionID)
		assert.Equal(t, 3, h.sync(t).Fired)
	})
}

func TestEngine_InjectionForEndedSessionIsDropped(t *testing.T) {
	gs := &gatedSender{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	h := newHarnessWithSender(t, gs)

	// The announce of sel(1) parks the effects goroutine in Send.
	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(1, 0), "f1")
	recv(t, gs.entered, time.Second)

	h.share("f1", 10, 1, t0)
	v := h.sync(t)
	require.Equal(t, engine.StateTriggered, v.InjectionState)

	h.lobby(PhaseLobby, engine.ModeNormal, nil, "f1")
	require.False(t, h.sync(t).Active)

	close(gs.gate)
	recvNone(t, h.injs, 200*time.Millisecond)
}

func TestEngine_SwiftPlay(t *testing.T) {
	t.Run("majority of four", func(t *testing.T) {
		h := newHarness(t)
		h.lobby(PhaseChampSelect, engine.ModeSwiftPlay, sel(1, 0), "f1", "f2", "f3", "f4")

		h.share("f1", 10, 1, t0)
		h.sync(t)
		recvNone(t, h.injs, 50*time.Millisecond)

		h.share("f2", 20, 1, t0)
		inj := recv(t, h.injs, time.Second)
		assert.Len(t, inj.Shares, 2)
	})

	t.Run("fires at timeout", func(t *testing.T) {
		h := newHarness(t)
		h.lobby(PhaseChampSelect, engine.ModeSwiftPlay, sel(1, 0), "f1", "f2", "f3", "f4")
		h.share("f1", 10, 1, t0)
		h.sync(t)

		h.clock.Advance(5 * time.Second)
		h.sync(t)
		recvNone(t, h.injs, 50*time.Millisecond)

		h.clock.Advance(time.Second)
		inj := recv(t, h.injs, time.Second)
		assert.Equal(t, engine.ReasonTimeout, inj.Reason)
		assert.Equal(t, t0.Add(6*time.Second), inj.FiredAt)
	})

	t.Run("leaving cancels the wait", func(t *testing.T) {
		h := newHarness(t)
		h.lobby(PhaseChampSelect, engine.ModeSwiftPlay, sel(1, 0), "f1", "f2", "f3", "f4")
		h.share("f1", 10, 1, t0)
		h.sync(t)

		h.lobby(PhaseLobby, "", nil, "f1", "f2", "f3", "f4")
		h.sync(t)
		h.clock.Advance(10 * time.Second)
		h.sync(t)
		recvNone(t, h.injs, 50*time.Millisecond)
	})
}

func TestEngine_SessionBoundaryClearsEverything(t *testing.T) {
	h := newHarness(t)

	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(1, 0), "f1", "f2")
	h.share("f1", 10, 1, t0)
	a := h.sync(t)
	require.Len(t, a.Shares, 1)
	require.Len(t, a.Sent, 1)
	assert.Equal(t, engine.StateArmed, a.InjectionState)
	recv(t, h.sent, time.Second)

	h.lobby(PhaseInProgress, engine.ModeNormal, nil, "f1", "f2")
	gone := h.sync(t)
	assert.False(t, gone.Active)
	assert.Empty(t, gone.Shares)
	assert.Empty(t, gone.Sent)
	assert.Equal(t, engine.StateIdle, gone.InjectionState)

	h.clock.Advance(2 * time.Minute)
	h.lobby(PhaseChampSelect, engine.ModeNormal, nil, "f1", "f2")
	// A leftover from session A, delivered late.
	h.share("f1", 10, 1, t0)
	b := h.sync(t)
	assert.True(t, b.Active)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.Empty(t, b.Shares)
	assert.Empty(t, b.Sent)
	assert.Equal(t, engine.StateIdle, b.InjectionState)
}

func TestEngine_ModeChangeStartsNewSession(t *testing.T) {
	h := newHarness(t)

	h.lobby(PhaseChampSelect, engine.ModeNormal, nil, "f1")
	h.share("f1", 10, 1, t0)
	a := h.sync(t)

	h.lobby(PhaseChampSelect, engine.ModeARAM, nil, "f1")
	b := h.sync(t)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.Equal(t, engine.ModeARAM, b.Mode)
	assert.Empty(t, b.Shares, "fresh session does not inherit session entries")
}

func TestEngine_PreSessionSharesCarryOver(t *testing.T) {
	h := newHarness(t)

	h.share("f1", 64, 12, t0)
	h.share("f2", 22, 3, t0.Add(-100*time.Second))
	pre := h.sync(t)
	assert.False(t, pre.Active)
	assert.Len(t, pre.Shares, 2, "no-session rule keeps anything under five minutes")

	h.clock.Advance(10 * time.Second)
	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(1, 0), "f1")

	inj := recv(t, h.injs, time.Second)
	assert.Contains(t, inj.Shares, "f1")
	assert.NotContains(t, inj.Shares, "f2", "older than the session threshold")
}

func TestEngine_InboundFiltering(t *testing.T) {
	h := newHarness(t)
	h.lobby(PhaseChampSelect, engine.ModeNormal, nil, "f1", "f2")

	h.share("", 10, 1, t0)
	h.share("me", 10, 1, t0)
	h.share("f1", 64, 12, t0.Add(2*time.Second))
	h.share("f1", 99, 1, t0.Add(time.Second))
	h.share("f2", 10, 1, t0.Add(-61*time.Second))

	v := h.sync(t)
	require.Len(t, v.Shares, 1)
	assert.Equal(t, 64, v.Shares["f1"].Message.ChampionID)
}

func TestEngine_ExpectedExcludesAbsentAndNonSharing(t *testing.T) {
	h := newHarness(t)
	h.e.Inbox() <- LobbyUpdate{
		State: LobbyState{Phase: PhaseChampSelect, Mode: engine.ModeNormal, Local: sel(1, 0), PresentFriendIDs: []string{"f1", "f2", "stranger"}},
		Friends: []engine.PairedFriend{
			{FriendID: "f1", ShareEnabled: true},
			{FriendID: "f2", ShareEnabled: false},
			{FriendID: "f3", ShareEnabled: true},
		},
	}
	h.share("f1", 10, 1, t0)

	inj := recv(t, h.injs, time.Second)
	assert.Contains(t, inj.Shares, "f1")
	assert.Equal(t, 1, h.sync(t).Expected)
}

func TestEngine_NoExpectedFriendsIsInert(t *testing.T) {
	h := newHarness(t)
	h.lobby(PhaseChampSelect, engine.ModeARAM, sel(1, 0))
	h.share("f1", 10, 1, t0)
	v := h.sync(t)
	assert.Equal(t, engine.StateIdle, v.InjectionState)
	recvNone(t, h.injs, 50*time.Millisecond)
}

func TestEngine_ReshareDebounce(t *testing.T) {
	h := newHarness(t)

	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(1, 0))
	first := recv(t, h.sent, time.Second)
	assert.Equal(t, "me", first.FromFriendID)
	assert.Equal(t, 1, first.ChampionID)

	h.clock.Advance(500 * time.Millisecond)
	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(2, 0))
	h.sync(t)
	recvNone(t, h.sent, 50*time.Millisecond)

	h.clock.Advance(time.Second)
	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(3, 0))
	third := recv(t, h.sent, time.Second)
	assert.Equal(t, 3, third.ChampionID)
	assert.Equal(t, t0.Add(1500*time.Millisecond), third.SentAt)

	assert.Len(t, h.sync(t).Sent, 2)

	// Unchanged selection on later polls is not a change.
	h.clock.Advance(5 * time.Second)
	h.lobby(PhaseChampSelect, engine.ModeNormal, sel(3, 0))
	h.sync(t)
	recvNone(t, h.sent, 50*time.Millisecond)
}

func TestEngine_FastPathBypassesOncePerEntry(t *testing.T) {
	h := newHarness(t)

	h.lobby(PhaseChampSelect, engine.ModeARAM, sel(1, 0))
	recv(t, h.sent, time.Second)

	h.clock.Advance(200 * time.Millisecond)
	h.lobby(PhaseChampSelect, engine.ModeARAM, sel(2, 0))
	h.sync(t)
	recvNone(t, h.sent, 50*time.Millisecond)

	h.lobby(PhaseLobby, "", nil)
	h.lobby(PhaseChampSelect, engine.ModeARAM, sel(3, 0))
	again := recv(t, h.sent, time.Second)
	assert.Equal(t, 3, again.ChampionID, "re-entry re-arms the fast path")
}

func TestEngine_ShutdownStopsLoop(t *testing.T) {
	h := newHarness(t)
	h.lobby(PhaseChampSelect, engine.ModeSwiftPlay, sel(1, 0), "f1", "f2", "f3")
	h.sync(t)

	h.e.Inbox() <- Shutdown{}
	select {
	case <-h.e.Done():
	case <-time.After(time.Second):
		t.Fatalf("engine did not stop")
	}

	_, err := h.e.State(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
