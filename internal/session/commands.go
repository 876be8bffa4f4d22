package session

import (
	"time"

	"agent-softphone/internal/calls"
	"agent-softphone/internal/notice"
	"agent-softphone/internal/presence"
)

// Command is a side effect the reducer asks the coordinator to perform.
type Command interface {
	commandName() string
}

type (
	StartOfferTimer struct {
		OfferID string
		After   time.Duration
	}
	CancelOfferTimer struct{ OfferID string }
	PlayRingtone     struct{}

	ConnectCall struct {
		CallID       string
		ConferenceID string
		To           string
		Outbound     bool
	}
	DisconnectCall struct{ CallID string }
	SetMute        struct {
		CallID string
		Muted  bool
	}
	StartTicker struct{ CallID string }
	StopTicker  struct{ CallID string }

	ReportPresence struct{ Status presence.Status }

	RefreshToken        struct{ Gen uint64 }
	RegisterEndpoint    struct{ Token string }
	UpdateEndpointToken struct{ Token string }
	DestroyEndpoint     struct{}

	ScheduleRegistrationRetry struct{ Attempt int }
	CancelRegistrationRetry   struct{}

	DialParticipant struct {
		ConferenceID string
		Phone        string
	}

	ConnectChannel    struct{}
	DisconnectChannel struct{}

	Notify struct {
		Kind     notice.Kind
		Severity notice.Severity
		Message  string
		CallID   string
		Remote   string
		// Err is the classified cause, wrapped with one of the error kinds.
		Err error
	}
	RecordCall    struct{ Record calls.Record }
	OfferRejected struct{ Offer Offer }

	CancelAllTimers struct{}

	// Ignore records an event that had nothing to act on.
	Ignore struct {
		Event  string
		Reason string
	}
)

func (StartOfferTimer) commandName() string           { return "start_offer_timer" }
func (CancelOfferTimer) commandName() string          { return "cancel_offer_timer" }
func (PlayRingtone) commandName() string              { return "play_ringtone" }
func (ConnectCall) commandName() string               { return "connect_call" }
func (DisconnectCall) commandName() string            { return "disconnect_call" }
func (SetMute) commandName() string                   { return "set_mute" }
func (StartTicker) commandName() string               { return "start_ticker" }
func (StopTicker) commandName() string                { return "stop_ticker" }
func (ReportPresence) commandName() string            { return "report_presence" }
func (RefreshToken) commandName() string              { return "refresh_token" }
func (RegisterEndpoint) commandName() string          { return "register_endpoint" }
func (UpdateEndpointToken) commandName() string       { return "update_endpoint_token" }
func (DestroyEndpoint) commandName() string           { return "destroy_endpoint" }
func (ScheduleRegistrationRetry) commandName() string { return "schedule_registration_retry" }
func (CancelRegistrationRetry) commandName() string   { return "cancel_registration_retry" }
func (DialParticipant) commandName() string           { return "dial_participant" }
func (ConnectChannel) commandName() string            { return "connect_channel" }
func (DisconnectChannel) commandName() string         { return "disconnect_channel" }
func (Notify) commandName() string                    { return "notify" }
func (RecordCall) commandName() string                { return "record_call" }
func (OfferRejected) commandName() string             { return "offer_rejected" }
func (CancelAllTimers) commandName() string           { return "cancel_all_timers" }
func (Ignore) commandName() string                    { return "ignore" }
