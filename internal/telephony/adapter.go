package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

type EventKind string

const (
	EventRegistered        EventKind = "registered"
	EventRegistrationError EventKind = "registrationError"
	EventTokenWillExpire   EventKind = "tokenWillExpire"
	EventTokenExpired      EventKind = "tokenExpired"
	EventCallAccepted      EventKind = "callAccepted"
	EventCallDisconnected  EventKind = "callDisconnected"
	EventCallError         EventKind = "callError"
	EventCallMuted         EventKind = "callMuted"
)

type Event struct {
	Kind EventKind

	// CallID is the id passed to Connect.
	CallID string
	// ProviderCallID is the provider-assigned id, set on callAccepted.
	ProviderCallID string
	Muted          bool

	Err          error
	TokenExpired bool
}

type Handler func(Event)

var (
	ErrCallIDRequired = errors.New("telephony: call id is required")
	ErrUnknownCall    = errors.New("telephony: unknown call")
	ErrNoDestination  = errors.New("telephony: conference id or destination is required")
)

// ConnectParams describes one call to place through the endpoint.
// Inbound offers join their conference; outbound dials carry the
// destination and the outbound flag the backend uses for its call records.
type ConnectParams struct {
	CallID       string
	ConferenceID string
	To           string
	Outbound     bool
}

func (p ConnectParams) deviceParams() (map[string]string, error) {
	if p.Outbound {
		if strings.TrimSpace(p.To) == "" {
			return nil, ErrNoDestination
		}
		return map[string]string{"To": p.To, "outbound": "true"}, nil
	}
	if strings.TrimSpace(p.ConferenceID) == "" {
		return nil, ErrNoDestination
	}
	return map[string]string{"conference": p.ConferenceID}, nil
}

// Adapter turns device callbacks into typed events and hands out call
// handles. It tracks which calls are live and drops events for any other.
type Adapter struct {
	device Device
	log    *slog.Logger

	mu       sync.Mutex
	handlers map[EventKind][]Handler
	live     map[string]struct{}
}

func NewAdapter(device Device, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	a := &Adapter{
		device:   device,
		log:      log.With("component", "telephony"),
		handlers: map[EventKind][]Handler{},
		live:     map[string]struct{}{},
	}
	device.SetListener(a.onDeviceEvent)
	return a
}

func (a *Adapter) On(kind EventKind, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[kind] = append(a.handlers[kind], h)
}

func (a *Adapter) Register(ctx context.Context, token string) error {
	if err := a.device.Register(ctx, token); err != nil {
		return fmt.Errorf("telephony: register: %w", err)
	}
	return nil
}

// UpdateToken swaps the token on the live endpoint without touching calls.
func (a *Adapter) UpdateToken(ctx context.Context, token string) error {
	if err := a.device.UpdateToken(ctx, token); err != nil {
		return fmt.Errorf("telephony: update token: %w", err)
	}
	return nil
}

func (a *Adapter) Connect(ctx context.Context, p ConnectParams) (*CallHandle, error) {
	if strings.TrimSpace(p.CallID) == "" {
		return nil, ErrCallIDRequired
	}
	params, err := p.deviceParams()
	if err != nil {
		return nil, err
	}

	// Track before dialing so an accept racing the reply is not dropped.
	a.mu.Lock()
	a.live[p.CallID] = struct{}{}
	a.mu.Unlock()

	if err := a.device.Connect(ctx, p.CallID, params); err != nil {
		a.forget(p.CallID)
		return nil, fmt.Errorf("telephony: connect: %w", err)
	}
	return &CallHandle{adapter: a, id: p.CallID}, nil
}

// Handle returns the handle of a live call.
func (a *Adapter) Handle(callID string) (*CallHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.live[callID]; !ok {
		return nil, false
	}
	return &CallHandle{adapter: a, id: callID}, true
}

// Destroy unregisters the endpoint and forgets every call.
func (a *Adapter) Destroy(ctx context.Context) error {
	a.mu.Lock()
	a.live = map[string]struct{}{}
	a.mu.Unlock()
	if err := a.device.Destroy(ctx); err != nil {
		return fmt.Errorf("telephony: destroy: %w", err)
	}
	return nil
}

func (a *Adapter) forget(callID string) {
	a.mu.Lock()
	delete(a.live, callID)
	a.mu.Unlock()
}

func (a *Adapter) isLive(callID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.live[callID]
	return ok
}

func (a *Adapter) onDeviceEvent(de DeviceEvent) {
	var ev Event
	switch de.Kind {
	case DeviceRegistered:
		ev = Event{Kind: EventRegistered}
	case DeviceTokenWillExpire:
		ev = Event{Kind: EventTokenWillExpire}
	case DeviceTokenExpired:
		ev = Event{Kind: EventTokenExpired, TokenExpired: true}
	case DeviceError:
		err := &DeviceErr{Code: de.Code, Message: de.Message}
		if de.CallID == "" {
			ev = Event{Kind: EventRegistrationError, Err: err, TokenExpired: err.TokenExpired()}
			break
		}
		ev = Event{Kind: EventCallError, CallID: de.CallID, Err: err, TokenExpired: err.TokenExpired()}
	case DeviceCallError:
		err := &DeviceErr{Code: de.Code, Message: de.Message}
		ev = Event{Kind: EventCallError, CallID: de.CallID, Err: err, TokenExpired: err.TokenExpired()}
	case DeviceCallAccepted:
		ev = Event{Kind: EventCallAccepted, CallID: de.CallID, ProviderCallID: de.CallSid}
	case DeviceCallDisconnected:
		ev = Event{Kind: EventCallDisconnected, CallID: de.CallID}
	case DeviceCallMuted:
		ev = Event{Kind: EventCallMuted, CallID: de.CallID, Muted: de.Muted}
	default:
		a.log.Debug("device event ignored", "kind", de.Kind)
		return
	}

	if ev.CallID != "" || isCallEvent(ev.Kind) {
		if !a.isLive(ev.CallID) {
			a.log.Debug("device event for unknown call dropped", "kind", ev.Kind, "call_id", ev.CallID)
			return
		}
		if ev.Kind == EventCallDisconnected || ev.Kind == EventCallError {
			a.forget(ev.CallID)
		}
	}
	a.emit(ev)
}

func isCallEvent(k EventKind) bool {
	switch k {
	case EventCallAccepted, EventCallDisconnected, EventCallError, EventCallMuted:
		return true
	default:
		return false
	}
}

func (a *Adapter) emit(ev Event) {
	a.mu.Lock()
	hs := append([]Handler(nil), a.handlers[ev.Kind]...)
	a.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// CallHandle controls one live call.
type CallHandle struct {
	adapter *Adapter
	id      string
}

func (h *CallHandle) ID() string { return h.id }

func (h *CallHandle) Disconnect(ctx context.Context) error {
	if !h.adapter.isLive(h.id) {
		return ErrUnknownCall
	}
	// Forget first; the device echoes a disconnect event we no longer need.
	h.adapter.forget(h.id)
	if err := h.adapter.device.Disconnect(ctx, h.id); err != nil {
		return fmt.Errorf("telephony: disconnect %s: %w", h.id, err)
	}
	return nil
}

func (h *CallHandle) Mute(ctx context.Context, muted bool) error {
	if !h.adapter.isLive(h.id) {
		return ErrUnknownCall
	}
	if err := h.adapter.device.Mute(ctx, h.id, muted); err != nil {
		return fmt.Errorf("telephony: mute %s: %w", h.id, err)
	}
	return nil
}
