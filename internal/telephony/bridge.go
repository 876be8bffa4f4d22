package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrBridgeClosed = errors.New("telephony: softphone bridge closed")

type bridgeRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type bridgeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// bridgeFrame is either a reply (ID set) or a pushed event (Event set).
type bridgeFrame struct {
	ID    string       `json:"id,omitempty"`
	Error *bridgeError `json:"error,omitempty"`

	DeviceEvent
}

// BridgeDevice drives a local softphone sidecar over a websocket. Requests
// are matched to replies by id; anything carrying an event name is pushed to
// the listener in arrival order. The connection is dialed lazily and redialed
// after it drops.
type BridgeDevice struct {
	url     string
	dialer  websocket.Dialer
	timeout time.Duration
	log     *slog.Logger

	seq atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan bridgeFrame
	listener DeviceListener

	writeMu sync.Mutex
}

type BridgeConfig struct {
	URL            string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func NewBridgeDevice(cfg BridgeConfig) *BridgeDevice {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BridgeDevice{
		url:     cfg.URL,
		dialer:  websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		timeout: cfg.RequestTimeout,
		log:     cfg.Logger.With("component", "softphone_bridge"),
		pending: map[string]chan bridgeFrame{},
	}
}

func (b *BridgeDevice) SetListener(l DeviceListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = l
}

func (b *BridgeDevice) Register(ctx context.Context, token string) error {
	return b.call(ctx, "register", map[string]string{"token": token})
}

func (b *BridgeDevice) UpdateToken(ctx context.Context, token string) error {
	return b.call(ctx, "updateToken", map[string]string{"token": token})
}

func (b *BridgeDevice) Connect(ctx context.Context, callID string, params map[string]string) error {
	return b.call(ctx, "connect", map[string]any{"callId": callID, "params": params})
}

func (b *BridgeDevice) Disconnect(ctx context.Context, callID string) error {
	return b.call(ctx, "disconnect", map[string]string{"callId": callID})
}

func (b *BridgeDevice) Mute(ctx context.Context, callID string, muted bool) error {
	return b.call(ctx, "mute", map[string]any{"callId": callID, "muted": muted})
}

// PlayIncoming rings the local alert for an inbound offer.
func (b *BridgeDevice) PlayIncoming(ctx context.Context) error {
	return b.call(ctx, "playSound", map[string]string{"name": "incoming"})
}

// Destroy unregisters the softphone and closes the bridge.
func (b *BridgeDevice) Destroy(ctx context.Context) error {
	err := b.call(ctx, "destroy", nil)

	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if errors.Is(err, ErrBridgeClosed) {
		return nil
	}
	return err
}

func (b *BridgeDevice) call(ctx context.Context, method string, params any) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	conn, err := b.ensureConn(ctx)
	if err != nil {
		return err
	}

	id := strconv.FormatUint(b.seq.Add(1), 10)
	reply := make(chan bridgeFrame, 1)
	b.mu.Lock()
	b.pending[id] = reply
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	err = conn.WriteJSON(bridgeRequest{ID: id, Method: method, Params: params})
	b.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("telephony: bridge write %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("telephony: bridge %s: %w", method, ctx.Err())
	case f, ok := <-reply:
		if !ok {
			return ErrBridgeClosed
		}
		if f.Error != nil {
			return &DeviceErr{Code: f.Error.Code, Message: f.Error.Message}
		}
		return nil
	}
}

func (b *BridgeDevice) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, nil
	}

	conn, resp, err := b.dialer.DialContext(ctx, b.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("telephony: dial softphone bridge: %w", err)
	}
	b.conn = conn
	go b.readLoop(conn)
	b.log.Info("softphone bridge connected", "url", b.url)
	return conn, nil
}

func (b *BridgeDevice) readLoop(conn *websocket.Conn) {
	for {
		var f bridgeFrame
		if err := conn.ReadJSON(&f); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				b.log.Warn("softphone bridge frame dropped", "err", err)
				continue
			}
			b.closeConn(conn, err)
			return
		}

		if f.Kind != "" {
			b.mu.Lock()
			l := b.listener
			b.mu.Unlock()
			if l != nil {
				l(f.DeviceEvent)
			}
			continue
		}

		b.mu.Lock()
		reply, ok := b.pending[f.ID]
		b.mu.Unlock()
		if !ok {
			b.log.Debug("softphone bridge reply without request", "id", f.ID)
			continue
		}
		select {
		case reply <- f:
		default:
			b.log.Debug("softphone bridge duplicate reply dropped", "id", f.ID)
		}
	}
}

// closeConn fails in-flight requests and reports the loss as a device error
// so the session moves out of registered.
func (b *BridgeDevice) closeConn(conn *websocket.Conn, cause error) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	b.conn = nil
	pending := b.pending
	b.pending = map[string]chan bridgeFrame{}
	l := b.listener
	b.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		close(ch)
	}
	b.log.Warn("softphone bridge lost", "err", cause)
	if l != nil {
		l(DeviceEvent{Kind: DeviceError, Message: "softphone bridge lost"})
	}
}
