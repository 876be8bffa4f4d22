package session

import (
	"agent-softphone/internal/credential"
	"agent-softphone/internal/presence"
)

// Event is anything the coordinator's loop consumes: agent intents, adapter
// callbacks, timer firings and results of off-loop work.
type Event interface {
	eventName() string
}

// Agent intents.
type (
	Start struct {
		Token credential.Token
	}
	AcceptOffer    struct{}
	RejectOffer    struct{}
	PlaceCall      struct{ Address string }
	Hangup         struct{}
	ToggleMute     struct{}
	AddParticipant struct{ Phone string }
	Register       struct{}
	Reconnect      struct{}
	Shutdown       struct{}
)

// Signaling channel.
type (
	ChannelStateChanged struct{ State ChannelState }
	OfferReceived       struct{ Offer Offer }
	ParticipantJoined   struct{ Participant Participant }
	ParticipantLeft     struct{ LegID string }
)

// Telephony endpoint.
type (
	EndpointRegistered         struct{}
	EndpointRegistrationFailed struct {
		TokenExpired bool
		Err          error
	}
	EndpointTokenWillExpire struct{}
	EndpointTokenExpired    struct{}
	EndpointAccepted        struct {
		CallID         string
		ProviderCallID string
	}
	EndpointDisconnected struct{ CallID string }
	EndpointErrored      struct {
		CallID string
		Err    error
	}
	EndpointConnectFailed struct {
		CallID string
		Err    error
	}
	EndpointMuteChanged struct {
		CallID string
		Muted  bool
	}
)

// Timers and completions of off-loop work. Each carries the identity of
// what it guards so a late arrival can be recognized.
type (
	OfferExpired         struct{ OfferID string }
	DurationTick         struct{ CallID string }
	RegistrationRetryDue struct{ Attempt int }
	TokenRefreshed       struct {
		Gen   uint64
		Token credential.Token
	}
	TokenRefreshFailed struct {
		Gen uint64
		Err error
	}
	PresenceFailed struct {
		Status presence.Status
		Err    error
	}
	ParticipantAddFailed struct {
		Phone string
		Err   error
	}
)

func (Start) eventName() string          { return "start" }
func (AcceptOffer) eventName() string    { return "accept_offer" }
func (RejectOffer) eventName() string    { return "reject_offer" }
func (PlaceCall) eventName() string      { return "place_call" }
func (Hangup) eventName() string         { return "hangup" }
func (ToggleMute) eventName() string     { return "toggle_mute" }
func (AddParticipant) eventName() string { return "add_participant" }
func (Register) eventName() string       { return "register" }
func (Reconnect) eventName() string      { return "reconnect" }
func (Shutdown) eventName() string       { return "shutdown" }

func (ChannelStateChanged) eventName() string { return "channel_state" }
func (OfferReceived) eventName() string       { return "offer_received" }
func (ParticipantJoined) eventName() string   { return "participant_joined" }
func (ParticipantLeft) eventName() string     { return "participant_left" }

func (EndpointRegistered) eventName() string         { return "endpoint_registered" }
func (EndpointRegistrationFailed) eventName() string { return "endpoint_registration_failed" }
func (EndpointTokenWillExpire) eventName() string    { return "endpoint_token_will_expire" }
func (EndpointTokenExpired) eventName() string       { return "endpoint_token_expired" }
func (EndpointAccepted) eventName() string           { return "endpoint_accepted" }
func (EndpointDisconnected) eventName() string       { return "endpoint_disconnected" }
func (EndpointErrored) eventName() string            { return "endpoint_errored" }
func (EndpointConnectFailed) eventName() string      { return "endpoint_connect_failed" }
func (EndpointMuteChanged) eventName() string        { return "endpoint_mute_changed" }

func (OfferExpired) eventName() string         { return "offer_expired" }
func (DurationTick) eventName() string         { return "duration_tick" }
func (RegistrationRetryDue) eventName() string { return "registration_retry_due" }
func (TokenRefreshed) eventName() string       { return "token_refreshed" }
func (TokenRefreshFailed) eventName() string   { return "token_refresh_failed" }
func (PresenceFailed) eventName() string       { return "presence_failed" }
func (ParticipantAddFailed) eventName() string { return "participant_add_failed" }
