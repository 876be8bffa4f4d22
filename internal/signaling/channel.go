package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the read side of one websocket connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Header           http.Header
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header.Clone())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// BearerHeader builds the handshake header for an API key.
func BearerHeader(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

type Config struct {
	URL    string
	Dialer Dialer
	Policy ReconnectPolicy
	Logger *slog.Logger
}

// Channel is a push channel that reconnects on its own until the policy
// runs out. Handlers run on the reader goroutine in arrival order and must
// not block or call Disconnect.
type Channel struct {
	url    string
	dialer Dialer
	policy ReconnectPolicy
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	handlers map[Kind][]Handler
	conn     Conn
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewChannel(cfg Config) *Channel {
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Channel{
		url:      cfg.URL,
		dialer:   cfg.Dialer,
		policy:   cfg.Policy,
		log:      cfg.Logger.With("component", "signaling"),
		sleep:    sleepCtx,
		state:    StateDisconnected,
		handlers: map[Kind][]Handler{},
	}
}

// On subscribes h to events of kind.
func (c *Channel) On(kind Kind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], h)
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop and returns at once. Calling it while
// the loop is running is a no-op; after reconnectFailed it starts over with a
// fresh attempt budget.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, done)
	return nil
}

// Disconnect stops the loop, closes the connection and waits for the reader
// to exit.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done

	c.transition(StateDisconnected, Event{Kind: KindDisconnected})
	c.log.Info("signaling disconnected")
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.transition(StateConnecting, Event{Kind: KindConnecting})

	var (
		backoff = c.policy.NewBackoff()
		attempt int
	)
	for {
		conn, err := c.dialer.Dial(ctx, c.url)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err == nil {
			attempt = 0
			backoff = c.policy.NewBackoff()

			// Cancellation must unblock the read even when Disconnect saw no
			// conn to close.
			unwatch := context.AfterFunc(ctx, func() { _ = conn.Close() })

			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.transition(StateConnected, Event{Kind: KindConnected})
			c.log.Info("signaling connected", "url", c.url)

			err = c.read(ctx, conn)
			unwatch()

			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("signaling connection lost", "err", err)
			c.transition(StateDisconnected, Event{Kind: KindDisconnected, Err: err})
		} else {
			c.log.Warn("signaling dial failed", "attempt", attempt, "err", err)
		}

		delay, stop := backoff.Next()
		if stop {
			c.log.Error("signaling reconnect attempts exhausted", "attempts", attempt, "err", err)
			c.release(done)
			c.transition(StateError, Event{Kind: KindReconnectFailed, Err: err})
			return
		}
		attempt++
		c.transition(StateReconnecting, Event{Kind: KindReconnecting, Attempt: attempt, Delay: delay})
		if err := c.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// release lets a later Connect start a new loop once this one has given up.
func (c *Channel) release(done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == done {
		c.cancel()
		c.cancel, c.done = nil, nil
	}
}

func (c *Channel) read(ctx context.Context, conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ev, err := decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownMessage) {
				c.log.Debug("signaling message ignored", "err", err)
			} else {
				c.log.Warn("signaling message dropped", "err", err)
			}
			continue
		}
		c.emit(ev)
	}
}

func (c *Channel) transition(s State, ev Event) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	ev.State = s
	c.emit(ev)
}

func (c *Channel) emit(ev Event) {
	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[ev.Kind]...)
	if ev.State == "" {
		ev.State = c.state
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
