package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"agent-softphone/internal/calls"
	"agent-softphone/internal/notice"
	"agent-softphone/internal/presence"
)

var errRefreshedExpired = errors.New("session: refreshed token already expired")

// maxCredentialFailures consecutive credential failures end the session.
const maxCredentialFailures = 2

// Reducer is the session state machine. Reduce is pure: time and ids come
// from the injected functions, and every side effect is returned as a
// Command.
type Reducer struct {
	Now      func() time.Time
	NewID    func() string
	OfferTTL time.Duration
}

// Reduce applies ev to s. A non-nil error means the event was an agent
// intent that is not allowed now; the returned state is then s unchanged.
func (r Reducer) Reduce(s State, ev Event) (State, []Command, error) {
	if s.ShuttingDown {
		if isIntent(ev) {
			return s, nil, ErrStopped
		}
		return s, []Command{ignore(ev, "session shut down")}, nil
	}
	if !s.Started {
		switch ev.(type) {
		case Start, Shutdown:
		default:
			if isIntent(ev) {
				return s, nil, ErrNotStarted
			}
			return s, []Command{ignore(ev, "session not started")}, nil
		}
	}

	next := s.Clone()
	var (
		cmds  []Command
		err   error
		force bool
	)

	switch e := ev.(type) {
	case Start:
		cmds, err = r.start(&next, e)
	case Register:
		cmds = r.register(&next)
	case Reconnect:
		cmds = r.reconnect(&next)
	case Shutdown:
		cmds = r.shutdown(&next)
		return next, cmds, nil

	case AcceptOffer:
		cmds, err = r.acceptOffer(&next)
	case RejectOffer:
		cmds, err = r.rejectOffer(&next)
	case PlaceCall:
		cmds, err = r.placeCall(&next, e)
	case Hangup:
		cmds, err = r.hangup(&next)
	case ToggleMute:
		cmds, err = r.toggleMute(&next)
	case AddParticipant:
		cmds, err = r.addParticipant(&next, e)

	case ChannelStateChanged:
		cmds = r.channelStateChanged(&next, e)
		force = e.State == ChannelConnected
	case OfferReceived:
		cmds = r.offerReceived(&next, e)
	case ParticipantJoined:
		cmds = r.participantJoined(&next, e)
	case ParticipantLeft:
		cmds = r.participantLeft(&next, e)

	case EndpointRegistered:
		cmds = r.endpointRegistered(&next)
	case EndpointRegistrationFailed:
		cmds = r.registrationFailed(&next, e)
	case EndpointTokenWillExpire, EndpointTokenExpired:
		cmds = r.renewLiveToken(&next)
	case EndpointAccepted:
		cmds = r.endpointAccepted(&next, e)
	case EndpointDisconnected:
		cmds = r.endpointDisconnected(&next, e)
	case EndpointErrored:
		cmds = r.endpointErrored(&next, e.CallID, e.Err)
	case EndpointConnectFailed:
		cmds = r.endpointErrored(&next, e.CallID, e.Err)
	case EndpointMuteChanged:
		cmds = r.muteChanged(&next, e)

	case OfferExpired:
		cmds = r.offerExpired(&next, e)
	case DurationTick:
		// Ticks only refresh the counter; they are not a presence trigger.
		return next, r.durationTick(&next, e), nil
	case RegistrationRetryDue:
		cmds = r.registrationRetryDue(&next, e)
	case TokenRefreshed:
		cmds = r.tokenRefreshed(&next, e)
	case TokenRefreshFailed:
		cmds = r.tokenRefreshFailed(&next, e)
	case PresenceFailed:
		return next, r.presenceFailed(&next, e), nil
	case ParticipantAddFailed:
		return next, []Command{Notify{
			Kind:     notice.KindParticipantFailed,
			Severity: notice.SeverityWarning,
			Message:  "could not add " + e.Phone + " to the conference",
			Remote:   e.Phone,
			Err:      fmt.Errorf("%w: %w", ErrTransient, e.Err),
		}}, nil

	default:
		return s, []Command{ignore(ev, "unknown event")}, nil
	}

	if err != nil {
		return s, nil, err
	}
	return next, r.syncPresence(&next, cmds, force), nil
}

func isIntent(ev Event) bool {
	switch ev.(type) {
	case Start, AcceptOffer, RejectOffer, PlaceCall, Hangup, ToggleMute, AddParticipant, Register, Reconnect, Shutdown:
		return true
	default:
		return false
	}
}

func ignore(ev Event, reason string) Command {
	return Ignore{Event: ev.eventName(), Reason: reason}
}

/* ===================== LIFECYCLE ===================== */

func (r Reducer) start(s *State, e Start) ([]Command, error) {
	if s.Started {
		return nil, fmt.Errorf("%w: already started", ErrInvalidState)
	}
	s.Started = true
	s.Token = e.Token
	return r.beginRegistration(s), nil
}

func (r Reducer) register(s *State) []Command {
	s.Fatal = ""
	s.CredentialFailures = 0
	s.RegistrationAttempt = 0
	if s.Call.Status == StatusError {
		s.Call = Call{Status: StatusIdle}
	}
	return append([]Command{CancelRegistrationRetry{}}, r.beginRegistration(s)...)
}

// beginRegistration registers with the current token when it is still
// usable and refreshes it first otherwise. An expired token is never handed
// to the endpoint.
func (r Reducer) beginRegistration(s *State) []Command {
	s.Registration = RegistrationRegistering
	if s.Token.UsableAt(r.Now()) {
		s.PendingRegister = false
		return []Command{RegisterEndpoint{Token: s.Token.Raw}}
	}
	s.PendingRegister = true
	return []Command{r.newRefresh(s)}
}

func (r Reducer) newRefresh(s *State) Command {
	s.RefreshGen++
	s.RefreshInFlight = true
	return RefreshToken{Gen: s.RefreshGen}
}

func (r Reducer) reconnect(s *State) []Command {
	switch s.Channel {
	case ChannelConnected, ChannelConnecting, ChannelReconnecting:
		return nil
	}
	s.Channel = ChannelConnecting
	return []Command{ConnectChannel{}}
}

func (r Reducer) shutdown(s *State) []Command {
	cmds := []Command{CancelAllTimers{}}
	if s.Call.live() {
		cmds = append(cmds, StopTicker{CallID: s.Call.ID}, DisconnectCall{CallID: s.Call.ID})
		cmds = append(cmds, r.record(s, r.outcomeOnEnd(s.Call)))
	}
	// Anything still in flight belongs to a superseded generation.
	s.RefreshGen++
	s.RefreshInFlight = false
	s.PendingRegister = false

	s.Call = Call{Status: StatusIdle}
	s.Offer = nil
	s.Roster = nil
	s.Started = false
	s.ShuttingDown = true
	s.Registration = RegistrationUnregistered
	s.Channel = ChannelDisconnected
	s.LastPresence = presence.StatusOffline

	return append(cmds,
		DestroyEndpoint{},
		DisconnectChannel{},
		ReportPresence{Status: presence.StatusOffline},
	)
}

/* ===================== OFFERS ===================== */

func (r Reducer) offerReceived(s *State, e OfferReceived) []Command {
	if s.Call.Status != StatusIdle && s.Call.Status != StatusRingingIn {
		return []Command{ignore(e, "offer while "+string(s.Call.Status))}
	}
	if strings.TrimSpace(e.Offer.ConferenceID) == "" {
		return []Command{ignore(e, "offer without conference")}
	}

	var cmds []Command
	if s.Offer != nil {
		cmds = append(cmds, CancelOfferTimer{OfferID: s.Offer.ID})
	}

	now := r.Now()
	o := e.Offer
	o.ID = r.NewID()
	o.ReceivedAt = now
	o.ExpiresAt = now.Add(r.OfferTTL)
	s.Offer = &o
	s.Call.Status = StatusRingingIn

	return append(cmds,
		StartOfferTimer{OfferID: o.ID, After: r.OfferTTL},
		PlayRingtone{},
	)
}

func (r Reducer) offerExpired(s *State, e OfferExpired) []Command {
	if s.Offer == nil || s.Offer.ID != e.OfferID {
		return []Command{ignore(e, "offer already resolved")}
	}
	o := *s.Offer
	s.Offer = nil
	s.Roster = nil
	s.Call.Status = StatusIdle
	return []Command{
		Notify{
			Kind:     notice.KindMissedCall,
			Severity: notice.SeverityWarning,
			Message:  "missed call from " + o.RemoteAddress,
			Remote:   o.RemoteAddress,
		},
		r.offerRecord(s, o, calls.OutcomeMissed),
	}
}

func (r Reducer) acceptOffer(s *State) ([]Command, error) {
	if s.Offer == nil {
		return nil, ErrNoPendingOffer
	}
	o := *s.Offer
	s.Offer = nil
	s.Call = Call{
		ID:             r.NewID(),
		Direction:      DirectionInbound,
		Status:         StatusConnecting,
		RemoteAddress:  o.RemoteAddress,
		ConferenceID:   o.ConferenceID,
		ProviderCallID: o.ProviderCallID,
		Optimistic:     true,
	}
	return []Command{
		CancelOfferTimer{OfferID: o.ID},
		ConnectCall{CallID: s.Call.ID, ConferenceID: o.ConferenceID},
	}, nil
}

func (r Reducer) rejectOffer(s *State) ([]Command, error) {
	if s.Offer == nil {
		return nil, ErrNoPendingOffer
	}
	o := *s.Offer
	s.Offer = nil
	s.Roster = nil
	s.Call.Status = StatusIdle
	return []Command{
		CancelOfferTimer{OfferID: o.ID},
		OfferRejected{Offer: o},
		r.offerRecord(s, o, calls.OutcomeRejected),
	}, nil
}

/* ===================== CALLS ===================== */

func (r Reducer) placeCall(s *State, e PlaceCall) ([]Command, error) {
	if s.Call.Status != StatusIdle {
		return nil, fmt.Errorf("%w: call status is %s", ErrInvalidState, s.Call.Status)
	}
	addr, err := NormalizePhone(e.Address)
	if err != nil {
		return nil, err
	}
	s.Call = Call{
		ID:            r.NewID(),
		Direction:     DirectionOutbound,
		Status:        StatusConnecting,
		RemoteAddress: addr,
	}
	return []Command{ConnectCall{CallID: s.Call.ID, To: addr, Outbound: true}}, nil
}

func (r Reducer) endpointAccepted(s *State, e EndpointAccepted) []Command {
	if s.Call.ID != e.CallID || s.Call.Status != StatusConnecting {
		return []Command{ignore(e, "accept for a call that is not connecting")}
	}
	s.Call.Status = StatusActive
	s.Call.StartedAt = r.Now()
	s.Call.DurationSeconds = 0
	s.Call.Optimistic = false
	if e.ProviderCallID != "" {
		s.Call.ProviderCallID = e.ProviderCallID
	}
	if s.Call.Direction == DirectionOutbound && s.Call.ConferenceID == "" {
		s.Call.ConferenceID = s.Call.ProviderCallID
	}
	return []Command{StartTicker{CallID: s.Call.ID}}
}

func (r Reducer) endpointDisconnected(s *State, e EndpointDisconnected) []Command {
	if s.Call.ID != e.CallID || !s.Call.live() {
		return []Command{ignore(e, "disconnect for a call that is not live")}
	}
	c := s.Call
	cmds := r.endCall(s, r.outcomeOnEnd(c))
	if c.Optimistic {
		cmds = append(cmds, Notify{
			Kind:     notice.KindAcceptUnconfirmed,
			Severity: notice.SeverityWarning,
			Message:  "call from " + c.RemoteAddress + " ended before it was confirmed",
			CallID:   c.ID,
			Remote:   c.RemoteAddress,
		})
	}
	s.Call = Call{Status: StatusIdle}
	return cmds
}

func (r Reducer) endpointErrored(s *State, callID string, cause error) []Command {
	if callID == "" || s.Call.ID != callID || !s.Call.live() {
		return []Command{Ignore{Event: "endpoint_errored", Reason: "error for a call that is not live"}}
	}
	c := s.Call
	cmds := r.endCall(s, calls.OutcomeFailed)
	cmds = append(cmds, Notify{
		Kind:     notice.KindCallFailed,
		Severity: notice.SeverityError,
		Message:  "call with " + c.RemoteAddress + " failed",
		CallID:   c.ID,
		Remote:   c.RemoteAddress,
		Err:      fmt.Errorf("%w: %w", ErrEndpoint, cause),
	})
	s.Call = Call{Status: StatusError}
	return cmds
}

// endCall stops the ticker and records the call. The caller sets the next
// call status.
func (r Reducer) endCall(s *State, outcome calls.Outcome) []Command {
	cmds := []Command{StopTicker{CallID: s.Call.ID}, r.record(s, outcome)}
	s.Roster = nil
	s.Call.Muted = false
	s.Call.MutePending = false
	return cmds
}

func (r Reducer) outcomeOnEnd(c Call) calls.Outcome {
	if c.Status == StatusActive {
		return calls.OutcomeCompleted
	}
	return calls.OutcomeCanceled
}

func (r Reducer) hangup(s *State) ([]Command, error) {
	if !s.Call.live() {
		return nil, fmt.Errorf("%w: no call to hang up", ErrInvalidState)
	}
	id := s.Call.ID
	cmds := append([]Command{DisconnectCall{CallID: id}}, r.endCall(s, r.outcomeOnEnd(s.Call))...)
	s.Call = Call{Status: StatusIdle}
	return cmds, nil
}

func (r Reducer) durationTick(s *State, e DurationTick) []Command {
	if s.Call.ID != e.CallID || s.Call.Status != StatusActive {
		return []Command{ignore(e, "tick for a call that is not active")}
	}
	s.Call.DurationSeconds = int(r.Now().Sub(s.Call.StartedAt) / time.Second)
	return nil
}

func (r Reducer) toggleMute(s *State) ([]Command, error) {
	if s.Call.Status != StatusActive {
		return nil, fmt.Errorf("%w: mute needs an active call", ErrInvalidState)
	}
	s.Call.Muted = !s.Call.Muted
	s.Call.MutePending = true
	return []Command{SetMute{CallID: s.Call.ID, Muted: s.Call.Muted}}, nil
}

// muteChanged takes the endpoint's report as the truth.
func (r Reducer) muteChanged(s *State, e EndpointMuteChanged) []Command {
	if s.Call.ID != e.CallID || s.Call.Status != StatusActive {
		return []Command{ignore(e, "mute for a call that is not active")}
	}
	s.Call.Muted = e.Muted
	s.Call.MutePending = false
	return nil
}

/* ===================== CONFERENCE ===================== */

func (r Reducer) addParticipant(s *State, e AddParticipant) ([]Command, error) {
	if s.Call.Status != StatusActive || s.Call.ConferenceID == "" {
		return nil, ErrNoActiveConference
	}
	phone, err := NormalizePhone(e.Phone)
	if err != nil {
		return nil, err
	}
	return []Command{DialParticipant{ConferenceID: s.Call.ConferenceID, Phone: phone}}, nil
}

func (r Reducer) participantJoined(s *State, e ParticipantJoined) []Command {
	if s.Offer == nil && !s.Call.live() {
		return []Command{ignore(e, "join without a call or offer")}
	}
	if strings.TrimSpace(e.Participant.LegID) == "" {
		return []Command{ignore(e, "join without leg id")}
	}
	if s.rosterIndex(e.Participant.LegID) >= 0 {
		return []Command{ignore(e, "leg already in roster")}
	}
	s.Roster = append(s.Roster, e.Participant)
	return nil
}

func (r Reducer) participantLeft(s *State, e ParticipantLeft) []Command {
	i := s.rosterIndex(e.LegID)
	if i < 0 {
		return []Command{ignore(e, "leg not in roster")}
	}
	s.Roster = append(s.Roster[:i], s.Roster[i+1:]...)
	return nil
}

/* ===================== CHANNEL ===================== */

func (r Reducer) channelStateChanged(s *State, e ChannelStateChanged) []Command {
	prev := s.Channel
	s.Channel = e.State
	if e.State == ChannelError && prev != ChannelError {
		return []Command{Notify{
			Kind:     notice.KindChannelLost,
			Severity: notice.SeverityError,
			Message:  "lost connection to the call server; reconnect to receive calls",
			Err:      fmt.Errorf("%w: reconnect attempts exhausted", ErrChannel),
		}}
	}
	return nil
}

/* ===================== REGISTRATION & CREDENTIALS ===================== */

func (r Reducer) endpointRegistered(s *State) []Command {
	s.Registration = RegistrationRegistered
	s.CredentialFailures = 0
	s.RegistrationAttempt = 0
	cmds := []Command{CancelRegistrationRetry{}}
	if s.Channel == ChannelDisconnected || s.Channel == ChannelError {
		s.Channel = ChannelConnecting
		cmds = append(cmds, ConnectChannel{})
	}
	return cmds
}

func (r Reducer) registrationFailed(s *State, e EndpointRegistrationFailed) []Command {
	if s.Fatal != "" {
		return []Command{ignore(e, "session already failed")}
	}
	if e.TokenExpired {
		return r.credentialFailure(s, e.Err, true)
	}

	s.Registration = RegistrationError
	s.RegistrationAttempt++
	cmds := []Command{ScheduleRegistrationRetry{Attempt: s.RegistrationAttempt}}
	if s.RegistrationAttempt == 1 {
		cmds = append(cmds, Notify{
			Kind:     notice.KindRegistrationFailed,
			Severity: notice.SeverityError,
			Message:  "phone registration failed; retrying",
			Err:      fmt.Errorf("%w: %w", ErrEndpoint, e.Err),
		})
	}
	return cmds
}

// credentialFailure retries once through a refresh and gives up on the
// second consecutive failure.
func (r Reducer) credentialFailure(s *State, cause error, register bool) []Command {
	s.CredentialFailures++
	if s.CredentialFailures >= maxCredentialFailures {
		return r.fail(s, cause)
	}
	if register {
		s.PendingRegister = true
		s.Registration = RegistrationRegistering
	}
	return []Command{r.newRefresh(s)}
}

func (r Reducer) fail(s *State, cause error) []Command {
	err := fmt.Errorf("%w: %w", ErrCredential, cause)
	s.Fatal = err.Error()
	s.Registration = RegistrationError
	s.RefreshInFlight = false
	s.PendingRegister = false
	return []Command{
		CancelRegistrationRetry{},
		Notify{
			Kind:     notice.KindCredentialFatal,
			Severity: notice.SeverityError,
			Message:  "phone credentials could not be renewed; register again to continue",
			Err:      err,
		},
	}
}

func (r Reducer) registrationRetryDue(s *State, e RegistrationRetryDue) []Command {
	if s.Fatal != "" || s.Registration != RegistrationError || e.Attempt != s.RegistrationAttempt {
		return []Command{ignore(e, "retry superseded")}
	}
	return r.beginRegistration(s)
}

// renewLiveToken refreshes for an endpoint that is already registered. The
// new token is pushed into the endpoint without touching the call.
func (r Reducer) renewLiveToken(s *State) []Command {
	if s.Fatal != "" {
		return nil
	}
	return []Command{r.newRefresh(s)}
}

func (r Reducer) tokenRefreshed(s *State, e TokenRefreshed) []Command {
	if e.Gen != s.RefreshGen {
		return []Command{ignore(e, "stale refresh generation")}
	}
	s.RefreshInFlight = false
	if !e.Token.UsableAt(r.Now()) {
		return r.credentialFailure(s, errRefreshedExpired, s.PendingRegister)
	}
	s.Token = e.Token

	if s.PendingRegister {
		// Failures clear once the endpoint accepts the token.
		s.PendingRegister = false
		s.Registration = RegistrationRegistering
		return []Command{RegisterEndpoint{Token: e.Token.Raw}}
	}
	s.CredentialFailures = 0
	if s.Registration == RegistrationRegistered {
		return []Command{UpdateEndpointToken{Token: e.Token.Raw}}
	}
	return nil
}

func (r Reducer) tokenRefreshFailed(s *State, e TokenRefreshFailed) []Command {
	if e.Gen != s.RefreshGen {
		return []Command{ignore(e, "stale refresh generation")}
	}
	s.RefreshInFlight = false
	return r.credentialFailure(s, e.Err, s.PendingRegister)
}

/* ===================== PRESENCE ===================== */

// derivePresence maps the session to the status the backend should show.
// ok is false when nothing should be reported.
func derivePresence(s State) (presence.Status, bool) {
	switch {
	case s.Fatal != "":
		return presence.StatusError, true
	case s.Call.Status == StatusError:
		// Left unreported until the agent registers again.
		return "", false
	case s.Registration == RegistrationError:
		return presence.StatusError, true
	case s.Call.live():
		return presence.StatusInCall, true
	case s.Channel == ChannelError || s.Channel == ChannelDisconnected:
		return presence.StatusOffline, true
	case s.Registration == RegistrationRegistered && s.Channel == ChannelConnected:
		return presence.StatusAvailable, true
	default:
		return "", false
	}
}

// syncPresence appends a report when the derived status changed. force
// re-asserts it even when unchanged.
func (r Reducer) syncPresence(s *State, cmds []Command, force bool) []Command {
	st, ok := derivePresence(*s)
	if !ok {
		return cmds
	}
	if st == s.LastPresence && !force {
		return cmds
	}
	s.LastPresence = st
	return append(cmds, ReportPresence{Status: st})
}

// presenceFailed forgets the last report so the next transition sends it
// again.
func (r Reducer) presenceFailed(s *State, e PresenceFailed) []Command {
	if s.LastPresence == e.Status {
		s.LastPresence = ""
	}
	return []Command{Notify{
		Kind:     notice.KindPresenceFailed,
		Severity: notice.SeverityWarning,
		Message:  "could not update status to " + string(e.Status),
		Err:      fmt.Errorf("%w: %w", ErrTransient, e.Err),
	}}
}

/* ===================== HISTORY ===================== */

func (r Reducer) record(s *State, outcome calls.Outcome) Command {
	c := s.Call
	now := r.Now()
	rec := calls.Record{
		ID:             c.ID,
		AgentIdentity:  s.Identity,
		Direction:      calls.Direction(c.Direction),
		Outcome:        outcome,
		RemoteAddress:  c.RemoteAddress,
		ConferenceID:   c.ConferenceID,
		ProviderCallID: c.ProviderCallID,
		StartedAt:      c.StartedAt,
		EndedAt:        now,
		Participants:   participantsOf(s.Roster),
	}
	if !c.StartedAt.IsZero() {
		rec.DurationSeconds = int(now.Sub(c.StartedAt) / time.Second)
	}
	return RecordCall{Record: rec}
}

func (r Reducer) offerRecord(s *State, o Offer, outcome calls.Outcome) Command {
	return RecordCall{Record: calls.Record{
		ID:             o.ID,
		AgentIdentity:  s.Identity,
		Direction:      calls.DirectionInbound,
		Outcome:        outcome,
		RemoteAddress:  o.RemoteAddress,
		ConferenceID:   o.ConferenceID,
		ProviderCallID: o.ProviderCallID,
		EndedAt:        r.Now(),
	}}
}

func participantsOf(roster []Participant) []calls.Participant {
	if len(roster) == 0 {
		return nil
	}
	out := make([]calls.Participant, 0, len(roster))
	for _, p := range roster {
		out = append(out, calls.Participant{LegID: p.LegID, RemoteAddress: p.RemoteAddress, Country: p.Country, City: p.City})
	}
	return out
}
