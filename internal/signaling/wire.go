package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	wireInboundCall       = "inbound-call"
	wireParticipantJoined = "participant-joined"
	wireParticipantLeft   = "participant-left"
)

var (
	ErrUnknownMessage   = errors.New("signaling: unknown message")
	ErrMalformedMessage = errors.New("signaling: malformed message")
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wireCall struct {
	CallSid     string `json:"CallSid"`
	From        string `json:"From"`
	To          string `json:"To"`
	FromCity    string `json:"FromCity"`
	FromState   string `json:"FromState"`
	FromCountry string `json:"FromCountry"`
	CallerName  string `json:"CallerName"`
}

type inboundCallPayload struct {
	Call           wireCall `json:"call"`
	ConferenceName string   `json:"conferenceName"`
}

type participantJoinedPayload struct {
	Data struct {
		CallSid     string `json:"CallSid"`
		From        string `json:"From"`
		FromCountry string `json:"FromCountry"`
		FromCity    string `json:"FromCity"`
	} `json:"data"`
}

type participantLeftPayload struct {
	CallSid string `json:"CallSid"`
}

// decode turns one websocket frame into a channel event.
func decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Event {
	case wireInboundCall:
		var p inboundCallPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Event, err)
		}
		if strings.TrimSpace(p.ConferenceName) == "" || strings.TrimSpace(p.Call.From) == "" {
			return Event{}, fmt.Errorf("%w: %s without conferenceName or From", ErrMalformedMessage, env.Event)
		}
		return Event{Kind: KindInboundCallOffer, Offer: &Offer{
			CallSid:        p.Call.CallSid,
			From:           p.Call.From,
			To:             p.Call.To,
			City:           p.Call.FromCity,
			Region:         p.Call.FromState,
			Country:        p.Call.FromCountry,
			CallerName:     p.Call.CallerName,
			ConferenceName: p.ConferenceName,
		}}, nil

	case wireParticipantJoined:
		var p participantJoinedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Event, err)
		}
		if strings.TrimSpace(p.Data.CallSid) == "" {
			return Event{}, fmt.Errorf("%w: %s without CallSid", ErrMalformedMessage, env.Event)
		}
		return Event{Kind: KindParticipantJoin, Participant: &Participant{
			LegID:   p.Data.CallSid,
			From:    p.Data.From,
			Country: p.Data.FromCountry,
			City:    p.Data.FromCity,
		}}, nil

	case wireParticipantLeft:
		var p participantLeftPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Event, err)
		}
		if strings.TrimSpace(p.CallSid) == "" {
			return Event{}, fmt.Errorf("%w: %s without CallSid", ErrMalformedMessage, env.Event)
		}
		return Event{Kind: KindParticipantLeave, LegID: p.CallSid}, nil

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Event)
	}
}
