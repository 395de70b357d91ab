package party

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
)

const DefaultPollInterval = 500 * time.Millisecond

// LobbySource is the lobby-state collaborator.
type LobbySource interface {
	Fetch(ctx context.Context) (LobbyState, error)
}

// Roster is the pairing collaborator. It is read, never written.
type Roster interface {
	Friends() []engine.PairedFriend
}

// Poller reads the lobby state every interval and posts it to the engine.
type Poller struct {
	source   LobbySource
	roster   Roster
	inbox    chan<- Msg
	clock    clockwork.Clock
	interval time.Duration
	// budget bounds a single Fetch; it never exceeds the interval.
	budget time.Duration
	log    *zap.Logger
}

func NewPoller(source LobbySource, roster Roster, inbox chan<- Msg, clock clockwork.Clock, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		roster:   roster,
		inbox:    inbox,
		clock:    clock,
		interval: interval,
		budget:   interval * 4 / 5,
		log:      log.Named("poller"),
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("lobby poller started", zap.Duration("interval", p.interval))
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			p.Poll(ctx)
		}
	}
}

// Poll performs one tick.
func (p *Poller) Poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.budget)
	state, err := p.source.Fetch(fetchCtx)
	cancel()

	var m Msg
	if err != nil {
		m = PollFailed{Err: fmt.Errorf("%w: lobby state: %w", engine.ErrCollaboratorUnavailable, err)}
	} else {
		m = LobbyUpdate{State: state, Friends: p.roster.Friends()}
	}

	select {
	case p.inbox <- m:
	case <-ctx.Done():
	}
}
