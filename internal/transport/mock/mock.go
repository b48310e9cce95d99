// Package mock provides an in-memory transport.Provider for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/heraldo/internal/transport"
)

// Provider implements transport.Provider. It records every client it opens
// and every credential purge.
type Provider struct {
	mu      sync.Mutex
	clients map[string][]*Client
	purged  []string
	openErr error

	// Configure, when set, is applied to each new client before Open returns.
	Configure func(c *Client)
}

// NewProvider creates an empty Provider.
func NewProvider() *Provider {
	return &Provider{clients: make(map[string][]*Client)}
}

// SetOpenError makes subsequent Open calls fail with err.
func (p *Provider) SetOpenError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openErr = err
}

// Open creates a new Client for tenantID.
func (p *Provider) Open(ctx context.Context, tenantID string) (transport.Client, error) {
	p.mu.Lock()
	if p.openErr != nil {
		err := p.openErr
		p.mu.Unlock()
		return nil, err
	}
	c := NewClient()
	p.clients[tenantID] = append(p.clients[tenantID], c)
	configure := p.Configure
	p.mu.Unlock()
	if configure != nil {
		configure(c)
	}
	return c, nil
}

// PurgeCredentials records the purge.
func (p *Provider) PurgeCredentials(ctx context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, tenantID)
	return nil
}

// LastClient returns the most recently opened client for tenantID, or nil.
func (p *Provider) LastClient(tenantID string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs := p.clients[tenantID]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// OpenCount returns how many clients were opened for tenantID.
func (p *Provider) OpenCount(tenantID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients[tenantID])
}

// Purged returns a copy of the tenant ids whose credentials were purged.
func (p *Provider) Purged() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.purged))
	copy(out, p.purged)
	return out
}

// SentMessage is one recorded Send call.
type SentMessage struct {
	Address string
	Payload transport.Payload
}

// Client implements transport.Client.
type Client struct {
	mu        sync.Mutex
	events    chan transport.Event
	closed    bool
	loggedOut int
	state     transport.ConnState
	stateErr  error
	sent      []SentMessage
	attempts  map[string]int
	sendErrs  map[string][]error
	unknown   map[string]bool
	probeErrs map[string]error
	onSend    func(address string)
}

// NewClient creates a connected client with a buffered event channel.
func NewClient() *Client {
	return &Client{
		events:    make(chan transport.Event, 100),
		state:     transport.StateConnected,
		attempts:  make(map[string]int),
		sendErrs:  make(map[string][]error),
		unknown:   make(map[string]bool),
		probeErrs: make(map[string]error),
	}
}

// Events returns the event channel.
func (c *Client) Events() <-chan transport.Event { return c.events }

// ProbeRegistered reports false for addresses marked with SetUnregistered.
func (c *Client) ProbeRegistered(ctx context.Context, address string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.probeErrs[address]; err != nil {
		return false, err
	}
	return !c.unknown[address], nil
}

// Send records the message or returns the next scripted error for address.
func (c *Client) Send(ctx context.Context, address string, p transport.Payload) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrConnectionClosed
	}
	c.attempts[address]++
	hook := c.onSend
	if errs := c.sendErrs[address]; len(errs) > 0 {
		err := errs[0]
		c.sendErrs[address] = errs[1:]
		c.mu.Unlock()
		if hook != nil {
			hook(address)
		}
		return err
	}
	c.sent = append(c.sent, SentMessage{Address: address, Payload: p})
	c.mu.Unlock()
	if hook != nil {
		hook(address)
	}
	return nil
}

// State returns the configured state.
func (c *Client) State(ctx context.Context) (transport.ConnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.stateErr
}

// Logout counts the call.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut++
	return nil
}

// Close closes the event channel once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = transport.StateDisconnected
	close(c.events)
	return nil
}

// --- Test helpers ---

// Emit delivers ev as if the provider raised it. It is a no-op once closed.
func (c *Client) Emit(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// SetState changes what State reports.
func (c *Client) SetState(s transport.ConnState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.stateErr = err
}

// SetUnregistered makes ProbeRegistered report false for address.
func (c *Client) SetUnregistered(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unknown[address] = true
}

// SetProbeError makes ProbeRegistered fail for address.
func (c *Client) SetProbeError(address string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeErrs[address] = err
}

// FailSend queues errors returned by successive Send calls to address.
func (c *Client) FailSend(address string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErrs[address] = append(c.sendErrs[address], errs...)
}

// OnSend installs a hook run after every Send attempt, outside the lock.
func (c *Client) OnSend(fn func(address string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSend = fn
}

// Sent returns a copy of all successfully sent messages.
func (c *Client) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// Attempts returns how many times Send was called for address.
func (c *Client) Attempts(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[address]
}

// LogoutCount returns how many times Logout was called.
func (c *Client) LogoutCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// String identifies the client in test failures.
func (c *Client) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("mock.Client{state=%s sent=%d closed=%v}", c.state, len(c.sent), c.closed)
}
