// Package ws is the websocket chat-relay transport.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lol-party-sync/internal/engine"
	"github.com/DoyleJ11/lol-party-sync/internal/types"
)

var ErrNotConnected = errors.New("relay not connected")

const (
	DefaultPingInterval = 15 * time.Second
	writeTimeout        = 3 * time.Second
)

type Client struct {
	url          string
	header       map[string]string
	pingInterval time.Duration
	log          *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, log *zap.Logger) *Client {
	return &Client{
		url:          url,
		header:       map[string]string{},
		pingInterval: DefaultPingInterval,
		log:          log.Named("ws"),
	}
}

// SetHeader adds a header sent with the dial request.
func (c *Client) SetHeader(key, value string) { c.header[key] = value }

func (c *Client) SetPingInterval(d time.Duration) { c.pingInterval = d }

// Run dials the relay and delivers every share it reads until the
// connection drops or ctx is done.
func (c *Client) Run(ctx context.Context, deliver func(engine.SkinShareMessage)) error {
	opts := &websocket.DialOptions{HTTPHeader: map[string][]string{}}
	for k, v := range c.header {
		opts.HTTPHeader[k] = []string{v}
	}

	conn, _, err := websocket.Dial(ctx, c.url, opts)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c.setConn(conn)
	defer c.setConn(nil)
	c.log.Info("relay connected", zap.String("url", c.url))

	// Pinger goroutine
	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.keepAlive(pingCtx, conn)

	// Reader loop
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return fmt.Errorf("relay closed: %w", err)
			}
			return fmt.Errorf("read relay: %w", err)
		}

		msg, err := types.Decode(data)
		if err != nil {
			c.log.Warn("dropping relay payload", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		deliver(msg)
	}
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	if c.pingInterval <= 0 {
		return
	}
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Warn("relay ping failed", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

// Send writes msg to the relay, which fans it out to paired friends.
func (c *Client) Send(ctx context.Context, msg engine.SkinShareMessage) error {
	conn := c.getConn()
	if conn == nil {
		return ErrNotConnected
	}

	payload, err := types.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode share: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) getConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}
