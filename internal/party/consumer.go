package party

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
)

// Transport is the transport collaborator. Run blocks, handing every decoded
// share to deliver, until ctx is done or the connection drops.
type Transport interface {
	Sender
	Run(ctx context.Context, deliver func(engine.SkinShareMessage)) error
}

// Consume runs t and reconnects after retry whenever it drops.
func Consume(ctx context.Context, t Transport, e *Engine, clock clockwork.Clock, retry time.Duration, log *zap.Logger) error {
	log = log.Named("consumer")
	for {
		err := t.Run(ctx, e.Deliver)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errors.New("connection closed")
		}
		log.Warn("transport dropped, reconnecting",
			zap.Duration("retry", retry),
			zap.Error(fmt.Errorf("%w: %w", engine.ErrCollaboratorUnavailable, err)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(retry):
		}
	}
}
