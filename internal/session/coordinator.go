package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"agent-softphone/internal/calls"
	"agent-softphone/internal/credential"
	"agent-softphone/internal/notice"
	"agent-softphone/internal/presence"
	"agent-softphone/internal/signaling"
	"agent-softphone/internal/telephony"
)

var ErrAlreadyRunning = errors.New("session: coordinator already running")

// Endpoint is the telephony adapter as the coordinator uses it.
type Endpoint interface {
	Register(ctx context.Context, token string) error
	UpdateToken(ctx context.Context, token string) error
	Connect(ctx context.Context, p telephony.ConnectParams) (*telephony.CallHandle, error)
	Handle(callID string) (*telephony.CallHandle, bool)
	Destroy(ctx context.Context) error
	On(kind telephony.EventKind, h telephony.Handler)
}

// Channel is the signaling channel as the coordinator uses it.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect()
	On(kind signaling.Kind, h signaling.Handler)
}

type Credentials interface {
	Current(ctx context.Context, identity string) (credential.Token, bool)
	Refresh(ctx context.Context, identity string) (credential.Token, error)
}

type PresenceReporter interface {
	Report(ctx context.Context, status presence.Status, agentID string) error
}

type ConferenceDialer interface {
	AddCustomerToConference(ctx context.Context, conferenceID, phone string) error
}

type Ringer interface {
	PlayIncoming(ctx context.Context) error
}

type CallLog interface {
	Save(ctx context.Context, r calls.Record) error
}

type Notices interface {
	Append(ctx context.Context, n notice.Notice) (notice.Notice, error)
}

// RejectPolicy runs after the agent rejects an offer. The remote side is
// never told; policies only act locally.
type RejectPolicy func(ctx context.Context, o Offer)

// SilentReject only logs the rejection.
func SilentReject(log *slog.Logger) RejectPolicy {
	return func(_ context.Context, o Offer) {
		log.Info("offer rejected", "offer_id", o.ID, "from", o.RemoteAddress)
	}
}

// NoticeReject leaves the agent a notice for every rejected offer.
func NoticeReject(n Notices, log *slog.Logger) RejectPolicy {
	return func(ctx context.Context, o Offer) {
		_, err := n.Append(ctx, notice.Notice{
			Kind:          notice.KindOfferRejected,
			Severity:      notice.SeverityInfo,
			Message:       "rejected call from " + o.RemoteAddress,
			RemoteAddress: o.RemoteAddress,
		})
		if err != nil {
			log.Warn("reject notice failed", "err", err)
		}
	}
}

type Config struct {
	AgentID  string
	Identity string

	Endpoint    Endpoint
	Channel     Channel
	Credentials Credentials
	Presence    PresenceReporter
	Dialer      ConferenceDialer

	// Optional.
	Ringer   Ringer
	CallLog  CallLog
	Notices  Notices
	OnReject RejectPolicy

	OfferTTL time.Duration
	// RegistrationRetry spaces endpoint re-registration. Its attempt cap is
	// ignored; registration is retried until it succeeds or is superseded.
	RegistrationRetry signaling.ReconnectPolicy
	// OpTimeout bounds each call into an adapter or the backend.
	OpTimeout time.Duration

	Clock  Clock
	NewID  func() string
	Logger *slog.Logger
}

// Coordinator owns the session. One goroutine (Run) applies events to the
// state through the reducer and executes the resulting commands; everything
// else posts events into its queue.
type Coordinator struct {
	cfg     Config
	reducer Reducer
	log     *slog.Logger

	events   *queue[queued]
	statuses *queue[presence.Status]
	running  atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup

	mu    sync.RWMutex
	state State

	// Loop-owned timer bookkeeping.
	offerID    string
	offerTimer Timer
	tickerCall string
	ticker     Timer
	regTimer   Timer
	regBackoff retry.Backoff
}

type queued struct {
	ev    Event
	reply chan error
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = 60 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.RegistrationRetry.Base <= 0 {
		cfg.RegistrationRetry = signaling.DefaultReconnectPolicy()
	}
	log := cfg.Logger.With("component", "session", "agent_id", cfg.AgentID)
	if cfg.OnReject == nil {
		cfg.OnReject = SilentReject(log)
	}

	c := &Coordinator{
		cfg: cfg,
		reducer: Reducer{
			Now:      cfg.Clock.Now,
			NewID:    cfg.NewID,
			OfferTTL: cfg.OfferTTL,
		},
		log:      log,
		events:   newQueue[queued](),
		statuses: newQueue[presence.Status](),
		done:     make(chan struct{}),
		state:    NewState(cfg.AgentID, cfg.Identity),
	}
	c.subscribe()
	return c
}

// subscribe turns adapter callbacks into queued events.
func (c *Coordinator) subscribe() {
	ch := c.cfg.Channel
	channelState := map[signaling.Kind]ChannelState{
		signaling.KindConnected:       ChannelConnected,
		signaling.KindDisconnected:    ChannelDisconnected,
		signaling.KindConnecting:      ChannelConnecting,
		signaling.KindReconnecting:    ChannelReconnecting,
		signaling.KindReconnectFailed: ChannelError,
	}
	for kind, st := range channelState {
		st := st // per-iteration copy; module targets go 1.21 loop semantics
		ch.On(kind, func(signaling.Event) { c.Post(ChannelStateChanged{State: st}) })
	}
	ch.On(signaling.KindInboundCallOffer, func(ev signaling.Event) {
		if ev.Offer == nil {
			return
		}
		o := ev.Offer
		c.Post(OfferReceived{Offer: Offer{
			ProviderCallID: o.CallSid,
			RemoteAddress:  o.From,
			RemoteCountry:  o.Country,
			RemoteCity:     o.City,
			CallerName:     o.CallerName,
			ConferenceID:   o.ConferenceName,
		}})
	})
	ch.On(signaling.KindParticipantJoin, func(ev signaling.Event) {
		if ev.Participant == nil {
			return
		}
		p := ev.Participant
		c.Post(ParticipantJoined{Participant: Participant{
			LegID:         p.LegID,
			RemoteAddress: p.From,
			Country:       p.Country,
			City:          p.City,
		}})
	})
	ch.On(signaling.KindParticipantLeave, func(ev signaling.Event) {
		c.Post(ParticipantLeft{LegID: ev.LegID})
	})

	ep := c.cfg.Endpoint
	ep.On(telephony.EventRegistered, func(telephony.Event) { c.Post(EndpointRegistered{}) })
	ep.On(telephony.EventRegistrationError, func(ev telephony.Event) {
		c.Post(EndpointRegistrationFailed{TokenExpired: ev.TokenExpired, Err: ev.Err})
	})
	ep.On(telephony.EventTokenWillExpire, func(telephony.Event) { c.Post(EndpointTokenWillExpire{}) })
	ep.On(telephony.EventTokenExpired, func(telephony.Event) { c.Post(EndpointTokenExpired{}) })
	ep.On(telephony.EventCallAccepted, func(ev telephony.Event) {
		c.Post(EndpointAccepted{CallID: ev.CallID, ProviderCallID: ev.ProviderCallID})
	})
	ep.On(telephony.EventCallDisconnected, func(ev telephony.Event) {
		c.Post(EndpointDisconnected{CallID: ev.CallID})
	})
	ep.On(telephony.EventCallError, func(ev telephony.Event) {
		c.Post(EndpointErrored{CallID: ev.CallID, Err: ev.Err})
	})
	ep.On(telephony.EventCallMuted, func(ev telephony.Event) {
		c.Post(EndpointMuteChanged{CallID: ev.CallID, Muted: ev.Muted})
	})
}

// Post queues ev without waiting. Events posted after shutdown are dropped.
func (c *Coordinator) Post(ev Event) {
	if !c.events.push(queued{ev: ev}) {
		c.log.Debug("event after shutdown dropped", "event", ev.eventName())
	}
}

// Do queues an agent intent and waits until it has been applied and its
// commands executed.
func (c *Coordinator) Do(ctx context.Context, intent Event) error {
	reply := make(chan error, 1)
	if !c.events.push(queued{ev: intent, reply: reply}) {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Done is closed once Run has finished shutting down.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Shutdown tears the session down and waits for Run to return.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if err := c.Do(ctx, Shutdown{}); err != nil && !errors.Is(err, ErrStopped) {
		return err
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the session with the stored token, if still usable, and
// processes events until Shutdown or ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	// Work started by the loop must outlive ctx so shutdown can finish.
	work := context.WithoutCancel(ctx)

	presenceDone := make(chan struct{})
	go c.presenceWorker(work, presenceDone)

	tok, ok := c.cfg.Credentials.Current(ctx, c.cfg.Identity)
	if ok {
		c.log.Info("stored capability token reused", "expires_at", tok.ExpiresAt)
	}
	c.dispatch(work, queued{ev: Start{Token: tok}})

	for !c.snapshotStopped() {
		select {
		case <-ctx.Done():
			c.dispatch(work, queued{ev: Shutdown{}})
		case <-c.events.notify:
			items, _ := c.events.drain()
			for _, it := range items {
				c.dispatch(work, it)
			}
		}
	}

	c.events.close()
	items, _ := c.events.drain()
	for _, it := range items {
		if it.reply != nil {
			it.reply <- ErrStopped
		}
	}
	c.statuses.close()
	<-presenceDone
	c.wg.Wait()
	c.log.Info("session stopped")
	return nil
}

func (c *Coordinator) snapshotStopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ShuttingDown
}

func (c *Coordinator) dispatch(ctx context.Context, it queued) {
	next, cmds, err := c.reducer.Reduce(c.state, it.ev)
	if err != nil {
		c.log.Debug("intent refused", "event", it.ev.eventName(), "err", err)
	} else {
		c.mu.Lock()
		c.state = next
		c.mu.Unlock()
		for _, cmd := range cmds {
			c.execute(ctx, cmd)
		}
		if tick, ok := it.ev.(DurationTick); ok && tick.CallID == c.tickerCall {
			c.armTicker()
		}
	}
	if it.reply != nil {
		it.reply <- err
	}
}

func (c *Coordinator) execute(ctx context.Context, cmd Command) {
	switch cmd := cmd.(type) {
	case StartOfferTimer:
		stopTimer(c.offerTimer)
		id := cmd.OfferID
		c.offerID = id
		c.offerTimer = c.cfg.Clock.AfterFunc(cmd.After, func() { c.Post(OfferExpired{OfferID: id}) })
	case CancelOfferTimer:
		if c.offerID == cmd.OfferID {
			stopTimer(c.offerTimer)
			c.offerTimer, c.offerID = nil, ""
		}
	case PlayRingtone:
		if c.cfg.Ringer != nil {
			c.async(ctx, "play ringtone", func(ctx context.Context) error { return c.cfg.Ringer.PlayIncoming(ctx) })
		}

	case ConnectCall:
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		_, err := c.cfg.Endpoint.Connect(opCtx, telephony.ConnectParams{
			CallID:       cmd.CallID,
			ConferenceID: cmd.ConferenceID,
			To:           cmd.To,
			Outbound:     cmd.Outbound,
		})
		cancel()
		if err != nil {
			c.log.Warn("call connect failed", "call_id", cmd.CallID, "err", err)
			c.Post(EndpointConnectFailed{CallID: cmd.CallID, Err: err})
		}
	case DisconnectCall:
		h, ok := c.cfg.Endpoint.Handle(cmd.CallID)
		if !ok {
			return
		}
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		if err := h.Disconnect(opCtx); err != nil {
			c.log.Warn("call disconnect failed", "call_id", cmd.CallID, "err", err)
		}
	case SetMute:
		h, ok := c.cfg.Endpoint.Handle(cmd.CallID)
		if !ok {
			return
		}
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		if err := h.Mute(opCtx, cmd.Muted); err != nil {
			c.log.Warn("mute failed", "call_id", cmd.CallID, "err", err)
			c.Post(EndpointMuteChanged{CallID: cmd.CallID, Muted: !cmd.Muted})
		}
	case StartTicker:
		c.tickerCall = cmd.CallID
		c.armTicker()
	case StopTicker:
		stopTimer(c.ticker)
		c.ticker, c.tickerCall = nil, ""

	case ReportPresence:
		c.statuses.push(cmd.Status)

	case RefreshToken:
		gen := cmd.Gen
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
			defer cancel()
			tok, err := c.cfg.Credentials.Refresh(opCtx, c.cfg.Identity)
			if err != nil {
				c.log.Warn("token refresh failed", "gen", gen, "err", err)
				c.Post(TokenRefreshFailed{Gen: gen, Err: err})
				return
			}
			c.Post(TokenRefreshed{Gen: gen, Token: tok})
		}()
	case RegisterEndpoint:
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		err := c.cfg.Endpoint.Register(opCtx, cmd.Token)
		cancel()
		if err != nil {
			c.log.Warn("endpoint register failed", "err", err)
			c.Post(EndpointRegistrationFailed{TokenExpired: telephony.IsTokenExpired(err), Err: err})
		}
	case UpdateEndpointToken:
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		if err := c.cfg.Endpoint.UpdateToken(opCtx, cmd.Token); err != nil {
			c.log.Warn("endpoint token update failed", "err", err)
		}
	case DestroyEndpoint:
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		if err := c.cfg.Endpoint.Destroy(opCtx); err != nil {
			c.log.Warn("endpoint destroy failed", "err", err)
		}

	case ScheduleRegistrationRetry:
		if cmd.Attempt == 1 || c.regBackoff == nil {
			c.regBackoff = c.cfg.RegistrationRetry.Unbounded().NewBackoff()
		}
		d, stop := c.regBackoff.Next()
		if stop {
			return
		}
		stopTimer(c.regTimer)
		attempt := cmd.Attempt
		c.regTimer = c.cfg.Clock.AfterFunc(d, func() { c.Post(RegistrationRetryDue{Attempt: attempt}) })
		c.log.Info("endpoint registration retry scheduled", "attempt", attempt, "delay", d)
	case CancelRegistrationRetry:
		stopTimer(c.regTimer)
		c.regTimer, c.regBackoff = nil, nil

	case DialParticipant:
		phone := cmd.Phone
		conf := cmd.ConferenceID
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
			defer cancel()
			if err := c.cfg.Dialer.AddCustomerToConference(opCtx, conf, phone); err != nil {
				c.log.Warn("add participant failed", "conference_id", conf, "err", err)
				c.Post(ParticipantAddFailed{Phone: phone, Err: err})
			}
		}()

	case ConnectChannel:
		if err := c.cfg.Channel.Connect(ctx); err != nil {
			c.log.Warn("signaling connect failed", "err", err)
		}
	case DisconnectChannel:
		c.cfg.Channel.Disconnect()

	case Notify:
		c.notify(ctx, cmd)
	case RecordCall:
		if c.cfg.CallLog != nil {
			rec := cmd.Record
			c.async(ctx, "record call", func(ctx context.Context) error { return c.cfg.CallLog.Save(ctx, rec) })
		}
	case OfferRejected:
		c.cfg.OnReject(ctx, cmd.Offer)

	case CancelAllTimers:
		stopTimer(c.offerTimer)
		stopTimer(c.ticker)
		stopTimer(c.regTimer)
		c.offerTimer, c.ticker, c.regTimer = nil, nil, nil
		c.offerID, c.tickerCall, c.regBackoff = "", "", nil
	case Ignore:
		c.log.Debug("event ignored", "event", cmd.Event, "reason", cmd.Reason)
	default:
		c.log.Error("unknown command", "command", cmd.commandName())
	}
}

func (c *Coordinator) armTicker() {
	id := c.tickerCall
	c.ticker = c.cfg.Clock.AfterFunc(time.Second, func() { c.Post(DurationTick{CallID: id}) })
}

func (c *Coordinator) notify(ctx context.Context, n Notify) {
	attrs := []any{"kind", n.Kind, "message", n.Message}
	if n.CallID != "" {
		attrs = append(attrs, "call_id", n.CallID)
	}
	if n.Err != nil {
		attrs = append(attrs, "err", n.Err)
	}
	switch n.Severity {
	case notice.SeverityError:
		c.log.Error("session notice", attrs...)
	case notice.SeverityWarning:
		c.log.Warn("session notice", attrs...)
	default:
		c.log.Info("session notice", attrs...)
	}

	if c.cfg.Notices == nil {
		return
	}
	_, err := c.cfg.Notices.Append(ctx, notice.Notice{
		Kind:          n.Kind,
		Severity:      n.Severity,
		Message:       n.Message,
		CallID:        n.CallID,
		RemoteAddress: n.Remote,
	})
	if err != nil {
		c.log.Warn("notice append failed", "kind", n.Kind, "err", err)
	}
}

// async runs best-effort work off the loop; failures are only logged.
func (c *Coordinator) async(ctx context.Context, what string, fn func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		if err := fn(opCtx); err != nil {
			c.log.Warn(what+" failed", "err", err)
		}
	}()
}

// presenceWorker sends reports one at a time in the order they were queued.
func (c *Coordinator) presenceWorker(ctx context.Context, done chan struct{}) {
	defer close(done)
	for range c.statuses.notify {
		items, closed := c.statuses.drain()
		for _, st := range items {
			opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
			err := c.cfg.Presence.Report(opCtx, st, c.cfg.AgentID)
			cancel()
			if err != nil {
				c.Post(PresenceFailed{Status: st, Err: err})
			}
		}
		if closed {
			return
		}
	}
}

func stopTimer(t Timer) {
	if t != nil {
		t.Stop()
	}
}
