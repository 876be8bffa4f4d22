package signaling

import "time"

// Kind names a channel event a handler can subscribe to.
type Kind string

const (
	KindConnected        Kind = "connected"
	KindDisconnected     Kind = "disconnected"
	KindConnecting       Kind = "connecting"
	KindReconnecting     Kind = "reconnecting"
	KindReconnectFailed  Kind = "reconnectFailed"
	KindInboundCallOffer Kind = "inboundCallOffer"
	KindParticipantJoin  Kind = "participantJoined"
	KindParticipantLeave Kind = "participantLeft"
)

// State is the channel's connectivity.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Offer is an inbound call pushed by the backend.
type Offer struct {
	CallSid        string
	From           string
	To             string
	City           string
	Region         string
	Country        string
	CallerName     string
	ConferenceName string
}

// Participant is one leg joining the active conference.
type Participant struct {
	LegID   string
	From    string
	Country string
	City    string
}

type Event struct {
	Kind  Kind
	State State

	// Attempt and Delay are set on reconnecting.
	Attempt int
	Delay   time.Duration
	// Err carries the cause for disconnected and reconnectFailed.
	Err error

	Offer       *Offer
	Participant *Participant
	LegID       string
}

type Handler func(Event)
