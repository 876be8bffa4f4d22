package telephony

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type deviceStub struct {
	mu         sync.Mutex
	listener   DeviceListener
	connectErr error
	registered []string
	connects   map[string]map[string]string
	disconnect []string
	mutes      []bool
}

func newDeviceStub() *deviceStub {
	return &deviceStub{connects: map[string]map[string]string{}}
}

func (d *deviceStub) Register(_ context.Context, token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registered = append(d.registered, token)
	return nil
}

func (d *deviceStub) UpdateToken(_ context.Context, token string) error {
	return d.Register(context.Background(), token)
}

func (d *deviceStub) Connect(_ context.Context, callID string, params map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connects[callID] = params
	return nil
}

func (d *deviceStub) Disconnect(_ context.Context, callID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnect = append(d.disconnect, callID)
	return nil
}

func (d *deviceStub) Mute(_ context.Context, _ string, muted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mutes = append(d.mutes, muted)
	return nil
}

func (d *deviceStub) Destroy(context.Context) error { return nil }

func (d *deviceStub) SetListener(l DeviceListener) { d.listener = l }

func collect(a *Adapter) *[]Event {
	var got []Event
	for _, k := range []EventKind{EventRegistered, EventRegistrationError, EventTokenWillExpire, EventTokenExpired,
		EventCallAccepted, EventCallDisconnected, EventCallError, EventCallMuted} {
		a.On(k, func(ev Event) { got = append(got, ev) })
	}
	return &got
}

func TestConnect_InboundJoinsConference(t *testing.T) {
	d := newDeviceStub()
	a := NewAdapter(d, nil)

	h, err := a.Connect(context.Background(), ConnectParams{CallID: "c1", ConferenceID: "ConfABC"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if h.ID() != "c1" {
		t.Fatalf("unexpected handle id %q", h.ID())
	}
	if d.connects["c1"]["conference"] != "ConfABC" {
		t.Fatalf("expected conference param, got %v", d.connects["c1"])
	}
}

func TestConnect_OutboundCarriesFlag(t *testing.T) {
	d := newDeviceStub()
	a := NewAdapter(d, nil)

	if _, err := a.Connect(context.Background(), ConnectParams{CallID: "c1", To: "+14805551234", Outbound: true}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	p := d.connects["c1"]
	if p["To"] != "+14805551234" || p["outbound"] != "true" {
		t.Fatalf("unexpected params %v", p)
	}
}

func TestConnect_Validation(t *testing.T) {
	a := NewAdapter(newDeviceStub(), nil)
	if _, err := a.Connect(context.Background(), ConnectParams{ConferenceID: "x"}); !errors.Is(err, ErrCallIDRequired) {
		t.Fatalf("expected ErrCallIDRequired, got %v", err)
	}
	if _, err := a.Connect(context.Background(), ConnectParams{CallID: "c1"}); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
}

func TestConnect_FailureForgetsCall(t *testing.T) {
	d := newDeviceStub()
	d.connectErr = errors.New("no media")
	a := NewAdapter(d, nil)
	got := collect(a)

	if _, err := a.Connect(context.Background(), ConnectParams{CallID: "c1", ConferenceID: "x"}); err == nil {
		t.Fatalf("expected connect error")
	}
	d.listener(DeviceEvent{Kind: DeviceCallAccepted, CallID: "c1"})
	if len(*got) != 0 {
		t.Fatalf("expected event for failed call to be dropped, got %+v", *got)
	}
}

func TestDeviceEvents_MappedAndFiltered(t *testing.T) {
	d := newDeviceStub()
	a := NewAdapter(d, nil)
	got := collect(a)

	if _, err := a.Connect(context.Background(), ConnectParams{CallID: "c1", ConferenceID: "ConfABC"}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	d.listener(DeviceEvent{Kind: DeviceRegistered})
	d.listener(DeviceEvent{Kind: DeviceCallAccepted, CallID: "c1", CallSid: "CA77"})
	d.listener(DeviceEvent{Kind: DeviceCallAccepted, CallID: "stale"})
	d.listener(DeviceEvent{Kind: DeviceCallMuted, CallID: "c1", Muted: true})
	d.listener(DeviceEvent{Kind: DeviceCallDisconnected, CallID: "c1"})
	d.listener(DeviceEvent{Kind: DeviceCallDisconnected, CallID: "c1"})

	kinds := []EventKind{EventRegistered, EventCallAccepted, EventCallMuted, EventCallDisconnected}
	if len(*got) != len(kinds) {
		t.Fatalf("expected %d events, got %+v", len(kinds), *got)
	}
	for i, k := range kinds {
		if (*got)[i].Kind != k {
			t.Fatalf("event %d: expected %s, got %s", i, k, (*got)[i].Kind)
		}
	}
	if (*got)[1].ProviderCallID != "CA77" {
		t.Fatalf("expected provider call id, got %+v", (*got)[1])
	}
	if !(*got)[2].Muted {
		t.Fatalf("expected muted=true")
	}
}

func TestDeviceError_ClassifiesTokenExpiry(t *testing.T) {
	d := newDeviceStub()
	a := NewAdapter(d, nil)
	got := collect(a)

	d.listener(DeviceEvent{Kind: DeviceError, Code: CodeAccessTokenExpired, Message: "AccessTokenExpired"})
	d.listener(DeviceEvent{Kind: DeviceError, Code: 31000, Message: "general"})

	if len(*got) != 2 {
		t.Fatalf("expected 2 events, got %+v", *got)
	}
	if (*got)[0].Kind != EventRegistrationError || !(*got)[0].TokenExpired {
		t.Fatalf("expected token-expired registration error, got %+v", (*got)[0])
	}
	if (*got)[1].TokenExpired {
		t.Fatalf("generic error must not be token expiry")
	}
	if !IsTokenExpired(&DeviceErr{Code: CodeJWTExpired}) || IsTokenExpired(errors.New("x")) {
		t.Fatalf("IsTokenExpired misclassified")
	}
}

func TestCallHandle_DisconnectThenUnknown(t *testing.T) {
	d := newDeviceStub()
	a := NewAdapter(d, nil)
	h, _ := a.Connect(context.Background(), ConnectParams{CallID: "c1", ConferenceID: "x"})

	if err := h.Mute(context.Background(), true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := h.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := h.Disconnect(context.Background()); !errors.Is(err, ErrUnknownCall) {
		t.Fatalf("expected ErrUnknownCall, got %v", err)
	}
	if _, ok := a.Handle("c1"); ok {
		t.Fatalf("expected call to be forgotten")
	}
	if len(d.disconnect) != 1 || len(d.mutes) != 1 {
		t.Fatalf("unexpected device calls: %v %v", d.disconnect, d.mutes)
	}
}
