package notice

import "time"

// Notice is an immutable, append-only message for the agent.
//
// Invariants:
// - Notices are never updated or deleted; the repository only trims the oldest.
// - Recording a notice is best-effort; call handling never waits on it.

type Notice struct {
	ID string `json:"id"`

	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`

	// Message is a short human-readable line for the agent UI.
	Message string `json:"message"`

	// CallID and RemoteAddress are set when the notice concerns one call.
	CallID        string `json:"call_id,omitempty"`
	RemoteAddress string `json:"remote_address,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type Kind string

const (
	KindMissedCall         Kind = "missed_call"
	KindOfferRejected      Kind = "offer_rejected"
	KindAcceptUnconfirmed  Kind = "accept_unconfirmed"
	KindCallFailed         Kind = "call_failed"
	KindChannelLost        Kind = "channel_lost"
	KindRegistrationFailed Kind = "registration_failed"
	KindCredentialFatal    Kind = "credential_fatal"
	KindPresenceFailed     Kind = "presence_failed"
	KindParticipantFailed  Kind = "participant_add_failed"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)
