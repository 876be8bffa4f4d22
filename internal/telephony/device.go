package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Device is the softphone capability the adapter drives.
//
// Rules:
// - No session decisions inside a Device; it only executes and reports.
// - Call ids are chosen by the caller of Connect and echoed on every call event.
// - A Device never renews its own token.
type Device interface {
	Register(ctx context.Context, token string) error
	UpdateToken(ctx context.Context, token string) error

	Connect(ctx context.Context, callID string, params map[string]string) error
	Disconnect(ctx context.Context, callID string) error
	Mute(ctx context.Context, callID string, muted bool) error

	Destroy(ctx context.Context) error

	// SetListener installs the single receiver of device events.
	SetListener(l DeviceListener)
}

type DeviceEventKind string

const (
	DeviceRegistered       DeviceEventKind = "registered"
	DeviceError            DeviceEventKind = "error"
	DeviceTokenWillExpire  DeviceEventKind = "tokenWillExpire"
	DeviceTokenExpired     DeviceEventKind = "tokenExpired"
	DeviceCallAccepted     DeviceEventKind = "accept"
	DeviceCallDisconnected DeviceEventKind = "disconnect"
	DeviceCallError        DeviceEventKind = "callError"
	DeviceCallMuted        DeviceEventKind = "mute"
)

// DeviceEvent is what a Device reports. CallID is empty for device-level
// events.
type DeviceEvent struct {
	Kind    DeviceEventKind `json:"event"`
	CallID  string          `json:"callId,omitempty"`
	CallSid string          `json:"callSid,omitempty"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Muted   bool            `json:"muted,omitempty"`
}

type DeviceListener func(DeviceEvent)

// Provider error codes that mean the capability token is no longer accepted.
const (
	CodeAccessTokenExpired = 20104
	CodeJWTInvalid         = 31204
	CodeJWTExpired         = 31205
)

// DeviceErr is a failure reported by the softphone with its provider code.
type DeviceErr struct {
	Code    int
	Message string
}

func (e *DeviceErr) Error() string {
	return fmt.Sprintf("telephony: device error %d: %s", e.Code, e.Message)
}

func (e *DeviceErr) TokenExpired() bool {
	switch e.Code {
	case CodeAccessTokenExpired, CodeJWTInvalid, CodeJWTExpired:
		return true
	default:
		return false
	}
}

// IsTokenExpired reports whether err carries a token-expiry code.
func IsTokenExpired(err error) bool {
	var de *DeviceErr
	return errors.As(err, &de) && de.TokenExpired()
}
