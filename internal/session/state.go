package session

import (
	"time"

	"agent-softphone/internal/credential"
	"agent-softphone/internal/presence"
)

type CallStatus string

const (
	StatusIdle       CallStatus = "idle"
	StatusRingingIn  CallStatus = "ringing_in"
	StatusConnecting CallStatus = "connecting"
	StatusActive     CallStatus = "active"
	StatusEnded      CallStatus = "ended"
	StatusError      CallStatus = "error"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type ChannelState string

const (
	ChannelDisconnected ChannelState = "disconnected"
	ChannelConnecting   ChannelState = "connecting"
	ChannelConnected    ChannelState = "connected"
	ChannelReconnecting ChannelState = "reconnecting"
	ChannelError        ChannelState = "error"
)

type RegistrationState string

const (
	RegistrationUnregistered RegistrationState = "unregistered"
	RegistrationRegistering  RegistrationState = "registering"
	RegistrationRegistered   RegistrationState = "registered"
	RegistrationError        RegistrationState = "error"
)

// Call is the one call the agent can be on. Status idle means there is none.
type Call struct {
	ID             string     `json:"id,omitempty"`
	Direction      Direction  `json:"direction,omitempty"`
	Status         CallStatus `json:"status"`
	RemoteAddress  string     `json:"remote_address,omitempty"`
	ConferenceID   string     `json:"conference_id,omitempty"`
	ProviderCallID string     `json:"provider_call_id,omitempty"`

	StartedAt       time.Time `json:"started_at,omitzero"`
	DurationSeconds int       `json:"duration"`

	Muted bool `json:"muted"`
	// MutePending is set between a mute command and the endpoint's report.
	MutePending bool `json:"mute_pending,omitempty"`
	// Optimistic is set from accept until the endpoint confirms the call.
	Optimistic bool `json:"optimistic,omitempty"`
}

func (c Call) live() bool {
	return c.Status == StatusConnecting || c.Status == StatusActive
}

// Offer is an inbound call not yet accepted or rejected.
type Offer struct {
	ID             string    `json:"id"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	RemoteAddress  string    `json:"remote_address"`
	RemoteCountry  string    `json:"remote_country,omitempty"`
	RemoteCity     string    `json:"remote_city,omitempty"`
	CallerName     string    `json:"caller_name,omitempty"`
	ConferenceID   string    `json:"conference_id"`
	ReceivedAt     time.Time `json:"received_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Participant is one live leg in the conference. LegID is opaque.
type Participant struct {
	LegID         string `json:"leg_id"`
	RemoteAddress string `json:"remote_address,omitempty"`
	Country       string `json:"country,omitempty"`
	City          string `json:"city,omitempty"`
}

// State is the whole session. Only the coordinator's loop writes it; every
// reader gets a Clone.
type State struct {
	AgentID  string `json:"agent_id"`
	Identity string `json:"identity"`

	Started      bool `json:"started"`
	ShuttingDown bool `json:"shutting_down,omitempty"`

	Channel      ChannelState      `json:"channel"`
	Registration RegistrationState `json:"registration"`

	Call   Call          `json:"call"`
	Offer  *Offer        `json:"offer,omitempty"`
	Roster []Participant `json:"roster"`

	Token credential.Token `json:"-"`

	RefreshGen      uint64 `json:"-"`
	RefreshInFlight bool   `json:"-"`
	// PendingRegister means the next refreshed token goes to Register
	// rather than UpdateToken.
	PendingRegister bool `json:"-"`

	CredentialFailures  int `json:"-"`
	RegistrationAttempt int `json:"registration_attempt,omitempty"`

	LastPresence presence.Status `json:"presence,omitempty"`
	Fatal        string          `json:"fatal,omitempty"`
}

func NewState(agentID, identity string) State {
	return State{
		AgentID:      agentID,
		Identity:     identity,
		Channel:      ChannelDisconnected,
		Registration: RegistrationUnregistered,
		Call:         Call{Status: StatusIdle},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	if s.Offer != nil {
		o := *s.Offer
		out.Offer = &o
	}
	out.Roster = append([]Participant(nil), s.Roster...)
	return out
}

func (s State) rosterIndex(legID string) int {
	for i, p := range s.Roster {
		if p.LegID == legID {
			return i
		}
	}
	return -1
}
