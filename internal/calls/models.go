package calls

import "time"

// Record is the local history entry for one call or offer that ended.
//
// Records are written once, when the call leaves the session; nothing in
// the agent process updates them afterwards. The backend keeps its own
// call-detail records keyed by the provider call id.

type Record struct {
	ID            string `json:"id"`
	AgentIdentity string `json:"agent_identity"`

	Direction Direction `json:"direction"`
	Outcome   Outcome   `json:"outcome"`

	RemoteAddress  string `json:"remote_address"`
	ConferenceID   string `json:"conference_id,omitempty"`
	ProviderCallID string `json:"provider_call_id,omitempty"`

	// StartedAt is zero for calls that never became active.
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at"`

	DurationSeconds int `json:"duration"`

	Participants []Participant `json:"participants,omitempty"`
}

type Participant struct {
	LegID         string `json:"leg_id"`
	RemoteAddress string `json:"remote_address,omitempty"`
	Country       string `json:"country,omitempty"`
	City          string `json:"city,omitempty"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeMissed    Outcome = "missed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeMissed, OutcomeRejected, OutcomeFailed, OutcomeCanceled:
		return true
	default:
		return false
	}
}
