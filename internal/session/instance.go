package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/apperr"
	"github.com/zulandar/heraldo/internal/transport"
)

// ErrConnectInProgress is returned when Connect is called while a previous
// Connect for the same tenant is still opening its client.
var ErrConnectInProgress = errors.New("session: connect already in progress")

// ErrRemoved is returned by Connect on an instance the registry has already
// dropped. Callers fetch a fresh instance and retry.
var ErrRemoved = errors.New("session: instance removed")

// Instance is one tenant's session. All fields are guarded by mu; the
// transport client is owned exclusively by the instance and borrowed by the
// scheduler through Client.
type Instance struct {
	TenantID string

	provider        transport.Provider
	log             zerolog.Logger
	now             func() time.Time
	badSessionPurge time.Duration

	mu           sync.Mutex
	state        State
	client       transport.Client
	qr           string
	lastSummary  string
	lastActivity time.Time
	pumpCancel   context.CancelFunc

	// gen is bumped whenever the client changes so a bad-session purge
	// scheduled for an older client becomes a no-op.
	gen      uint64
	teardown *time.Timer
	purge    *time.Timer
	detached bool
}

// Summary is a point-in-time view of an Instance. It never exposes the
// transport client or credentials.
type Summary struct {
	TenantID     string    `json:"tenantId"`
	State        State     `json:"state"`
	Ready        bool      `json:"isReady"`
	HasQR        bool      `json:"hasQR"`
	HasClient    bool      `json:"hasClient"`
	LastActivity time.Time `json:"lastActivity"`
}

func newInstance(tenantID string, provider transport.Provider, log zerolog.Logger, opts Options) *Instance {
	return &Instance{
		TenantID:        tenantID,
		provider:        provider,
		log:             log.With().Str("tenant", tenantID).Logger(),
		now:             opts.Now,
		badSessionPurge: opts.BadSessionPurgeDelay,
		state:           Idle,
		lastActivity:    opts.Now(),
	}
}

// State returns the cached state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Ready reports whether the cached state is Ready.
func (in *Instance) Ready() bool { return in.State() == Ready }

// QR returns the pending QR token, or "".
func (in *Instance) QR() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.qr
}

// Client returns the current transport client, or nil when released.
func (in *Instance) Client() transport.Client {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.client
}

// Summary returns a snapshot of the instance.
func (in *Instance) Summary() Summary {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.summaryLocked()
}

func (in *Instance) summaryLocked() Summary {
	return Summary{
		TenantID:     in.TenantID,
		State:        in.state,
		Ready:        in.state == Ready,
		HasQR:        in.qr != "",
		HasClient:    in.client != nil,
		LastActivity: in.lastActivity,
	}
}

// ObserveSummary records s as the last logged status and reports whether it
// differs from the previous one. Used to log status polls only on change.
func (in *Instance) ObserveSummary(s string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.lastSummary == s {
		return false
	}
	in.lastSummary = s
	return true
}

// Apply feeds ev through Transition and performs its side effects. Events
// with no edge from the current state are ignored and reported as
// ErrInvalidTransition.
func (in *Instance) Apply(ev transport.Event) (State, error) {
	in.mu.Lock()
	to, release, err := in.applyLocked(ev)
	in.mu.Unlock()
	closeClient(release, in.log)
	return to, err
}

// applyFrom applies ev only if c is still the instance's client, so events
// from a replaced connection cannot touch the new one.
func (in *Instance) applyFrom(c transport.Client, ev transport.Event) (State, error) {
	in.mu.Lock()
	if in.client != c {
		st := in.state
		in.mu.Unlock()
		return st, nil
	}
	to, release, err := in.applyLocked(ev)
	in.mu.Unlock()
	closeClient(release, in.log)
	return to, err
}

// applyLocked is the single place session state changes. It returns the
// client that must be closed once mu is released.
func (in *Instance) applyLocked(ev transport.Event) (State, transport.Client, error) {
	from := in.state
	to, err := Transition(from, ev.Kind)
	if err != nil {
		in.log.Debug().Str("event", string(ev.Kind)).Str("state", string(from)).Msg("ignored event")
		return from, nil, err
	}

	var release transport.Client
	switch ev.Kind {
	case EventConnect:
		in.qr = ""
	case transport.EventQRIssued:
		in.qr = ev.Token
	case transport.EventQRConsumed, transport.EventReady:
		in.qr = ""
	case transport.EventDisconnected, transport.EventAuthFailed, EventManualDisconnect:
		in.qr = ""
		release = in.releaseLocked()
	}
	in.state = to
	in.lastActivity = in.now()

	evt := in.log.Info()
	if ev.Kind == transport.EventAuthFailed {
		evt = in.log.Warn()
	}
	evt.Str("event", string(ev.Kind)).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", ev.Reason).
		Msg("session transition")

	if ev.Kind == transport.EventDisconnected && transport.BadSession(ev.Code) {
		in.schedulePurgeLocked(ev.Code)
	}
	return to, release, nil
}

// releaseLocked detaches the client and stops its event pump.
func (in *Instance) releaseLocked() transport.Client {
	c := in.client
	in.client = nil
	in.gen++
	if in.pumpCancel != nil {
		in.pumpCancel()
		in.pumpCancel = nil
	}
	return c
}

func closeClient(c transport.Client, log zerolog.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Msg("close transport client")
	}
}

// Connect opens a fresh client. An existing client is released first, so
// Connect doubles as "reconnect". The provider call happens outside the
// lock; if the session was disconnected while opening, the new client is
// discarded.
func (in *Instance) Connect(ctx context.Context) error {
	in.mu.Lock()
	if in.detached {
		in.mu.Unlock()
		return apperr.Wrap(apperr.SessionNotReady, "connect", "session was closed", ErrRemoved)
	}
	if in.state == Connecting && in.client == nil {
		in.mu.Unlock()
		return apperr.Wrap(apperr.Conflict, "connect", "connection already in progress", ErrConnectInProgress)
	}
	in.stopTimersLocked()
	var old transport.Client
	if in.state.Active() {
		old = in.releaseLocked()
		in.state = Idle
	}
	if _, _, err := in.applyLocked(transport.Event{Kind: EventConnect}); err != nil {
		in.mu.Unlock()
		closeClient(old, in.log)
		return fmt.Errorf("session: connect: %w", err)
	}
	gen := in.gen
	in.mu.Unlock()
	closeClient(old, in.log)

	c, err := in.provider.Open(ctx, in.TenantID)
	if err != nil {
		in.mu.Lock()
		if in.gen == gen && in.state == Connecting {
			in.state = Disconnected
			in.lastActivity = in.now()
		}
		in.mu.Unlock()
		in.log.Error().Err(err).Msg("open transport")
		return apperr.Wrap(apperr.Internal, "connect", "could not open messaging connection", err)
	}

	in.mu.Lock()
	if in.detached {
		in.mu.Unlock()
		closeClient(c, in.log)
		return apperr.Wrap(apperr.SessionNotReady, "connect", "session was closed", ErrRemoved)
	}
	if in.gen != gen || in.state != Connecting {
		in.mu.Unlock()
		closeClient(c, in.log)
		return apperr.New(apperr.SessionNotReady, "connect", "session was disconnected while connecting")
	}
	in.client = c
	pumpCtx, cancel := context.WithCancel(context.Background())
	in.pumpCancel = cancel
	in.mu.Unlock()

	go in.pump(pumpCtx, c)
	return nil
}

// pump feeds provider events into the state machine until the client's
// event stream ends.
func (in *Instance) pump(ctx context.Context, c transport.Client) {
	events := c.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				in.applyFrom(c, transport.Event{
					Kind:   transport.EventDisconnected,
					Reason: "event stream closed",
				})
				return
			}
			in.applyFrom(c, ev)
		}
	}
}

// Disconnect logs out and releases the client, leaving the instance Idle.
// When purge is set the provider's stored credentials are deleted too, so the
// next Connect requires a new QR handshake.
func (in *Instance) Disconnect(ctx context.Context, purge bool) error {
	in.mu.Lock()
	in.stopTimersLocked()
	_, c, _ := in.applyLocked(transport.Event{Kind: EventManualDisconnect, Reason: "manual disconnect"})
	in.mu.Unlock()

	if c != nil {
		if err := c.Logout(ctx); err != nil {
			in.log.Warn().Err(err).Msg("logout failed; ignoring")
		}
		closeClient(c, in.log)
	}
	if purge {
		if err := in.provider.PurgeCredentials(ctx, in.TenantID); err != nil {
			return fmt.Errorf("session: purge credentials: %w", err)
		}
		in.log.Info().Msg("stored credentials purged")
	}
	return nil
}

// Reconcile checks the cached state against the provider's live view. A
// stale Ready whose probe says otherwise is corrected to Disconnected; a
// connection that came up without its ready event is promoted. Probe errors
// leave the cache untouched.
func (in *Instance) Reconcile(ctx context.Context) State {
	in.mu.Lock()
	c, cached := in.client, in.state
	in.mu.Unlock()
	if c == nil {
		return cached
	}

	live, err := c.State(ctx)
	if err != nil {
		in.log.Warn().Err(err).Msg("liveness probe failed; keeping cached state")
		return cached
	}

	switch {
	case cached == Ready && live != transport.StateConnected:
		in.log.Info().Str("live", string(live)).Msg("cached ready state is stale; correcting")
		st, _ := in.applyFrom(c, transport.Event{
			Kind:   transport.EventDisconnected,
			Reason: "liveness probe reported " + string(live),
		})
		return st
	case (cached == Connecting || cached == Authenticating) && live == transport.StateConnected:
		st, _ := in.applyFrom(c, transport.Event{Kind: transport.EventReady})
		return st
	}
	return cached
}

// ScheduleTeardown disconnects the session and purges its credentials after
// delay. Any later Connect, Disconnect or removal cancels it. Losing the
// client in the meantime does not: the purge still runs.
func (in *Instance) ScheduleTeardown(delay time.Duration) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.teardown != nil {
		in.teardown.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		in.mu.Lock()
		stale := in.teardown != t || in.detached
		if !stale {
			in.teardown = nil
		}
		in.mu.Unlock()
		if stale {
			return
		}
		in.log.Info().Msg("closing session after bulk job; next connect requires a new QR")
		if err := in.Disconnect(context.Background(), true); err != nil {
			in.log.Warn().Err(err).Msg("post-job teardown")
		}
	})
}

// CancelTeardown stops a pending post-job teardown, if any.
func (in *Instance) CancelTeardown() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.teardown != nil {
		in.teardown.Stop()
		in.teardown = nil
	}
}

// TeardownPending reports whether a post-job teardown is scheduled.
func (in *Instance) TeardownPending() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.teardown != nil
}

func (in *Instance) schedulePurgeLocked(code int) {
	if in.badSessionPurge <= 0 {
		return
	}
	if in.purge != nil {
		in.purge.Stop()
	}
	gen := in.gen
	in.log.Warn().Int("code", code).Msg("credentials rejected; scheduling purge")
	in.purge = time.AfterFunc(in.badSessionPurge, func() {
		in.mu.Lock()
		stale := in.gen != gen || in.detached
		in.purge = nil
		in.mu.Unlock()
		if stale {
			return
		}
		if err := in.provider.PurgeCredentials(context.Background(), in.TenantID); err != nil {
			in.log.Error().Err(err).Msg("purge credentials")
			return
		}
		in.log.Info().Msg("stored credentials purged; tenant must reconnect manually")
	})
}

func (in *Instance) stopTimersLocked() {
	if in.teardown != nil {
		in.teardown.Stop()
		in.teardown = nil
	}
	if in.purge != nil {
		in.purge.Stop()
		in.purge = nil
	}
}

// detach cancels timers and the event pump. A client still attached at this
// point has no other owner, so it is closed without logging out.
func (in *Instance) detach() {
	in.mu.Lock()
	in.detachLocked()
	c := in.releaseLocked()
	in.mu.Unlock()
	if c != nil {
		in.log.Warn().Msg("closing client left on a removed session")
		closeClient(c, in.log)
	}
}

// detachIfIdle detaches the instance only if it is still idle since cutoff.
// The check and the detach share one critical section, so a concurrent
// Connect either sees the instance detached or makes it non-idle first.
func (in *Instance) detachIfIdle(cutoff time.Time) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.idleSinceLocked(cutoff) {
		return false
	}
	in.detachLocked()
	return true
}

func (in *Instance) detachLocked() {
	in.detached = true
	in.stopTimersLocked()
	if in.pumpCancel != nil {
		in.pumpCancel()
		in.pumpCancel = nil
	}
}

// idleSinceLocked reports whether the instance holds no client and has been
// inactive since before cutoff.
func (in *Instance) idleSinceLocked(cutoff time.Time) bool {
	return in.client == nil && !in.state.Active() && in.teardown == nil && in.lastActivity.Before(cutoff)
}
