// Package natsbus is the NATS transport. Every player publishes its shares on
// <prefix>.<player id> and subscribes to <prefix>.*.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
	"github.com/DoyleJ11/lol-party-sync/internal/types"
)

var ErrNotConnected = errors.New("nats not connected")

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "party.skins",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

type Bus struct {
	cfg  Config
	self string
	log  *zap.Logger

	mu sync.Mutex
	nc *nats.Conn
}

func New(cfg Config, self string, log *zap.Logger) *Bus {
	return &Bus{cfg: cfg, self: self, log: log.Named("nats")}
}

// Subject is where id publishes.
func (b *Bus) Subject(id string) string {
	return b.cfg.SubjectPrefix + "." + token(id)
}

// token makes id safe to use as a single subject token.
func token(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, id)
}

// Run connects, subscribes and blocks until ctx is done or the connection
// is closed for good.
func (b *Bus) Run(ctx context.Context, deliver func(engine.SkinShareMessage)) error {
	closed := make(chan struct{})
	var once sync.Once

	opts := []nats.Option{
		nats.Name("partysync-" + b.self),
		nats.MaxReconnects(b.cfg.MaxReconnects),
		nats.ReconnectWait(b.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			b.log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			once.Do(func() { close(closed) })
		}),
	}

	nc, err := nats.Connect(b.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(b.cfg.SubjectPrefix+".*", func(m *nats.Msg) {
		msg, err := types.Decode(m.Data)
		if err != nil {
			b.log.Warn("dropping NATS payload", zap.String("subject", m.Subject), zap.Error(err))
			return
		}
		deliver(msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	b.setConn(nc)
	defer b.setConn(nil)
	b.log.Info("NATS subscribed", zap.String("subject", sub.Subject))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-closed:
		return errors.New("NATS connection closed")
	}
}

// Send publishes msg and waits for the server to acknowledge the flush.
func (b *Bus) Send(ctx context.Context, msg engine.SkinShareMessage) error {
	nc := b.conn()
	if nc == nil {
		return ErrNotConnected
	}

	payload, err := types.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode share: %w", err)
	}
	if err := nc.Publish(b.Subject(msg.FromFriendID), payload); err != nil {
		return fmt.Errorf("publish share: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		return nc.Flush()
	}
	return nc.FlushWithContext(ctx)
}

func (b *Bus) setConn(nc *nats.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nc = nc
}

func (b *Bus) conn() *nats.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nc
}
