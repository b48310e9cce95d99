// Package bridge implements transport.Provider against a messaging bridge
// sidecar reached over WebSocket. The sidecar owns the wire protocol and the
// stored credentials; this package only relays lifecycle events and
// request/response frames.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/transport"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	eventBuffer           = 64
)

// Options configures a Provider.
type Options struct {
	URL            string // ws:// or wss:// base URL of the bridge
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	Log            zerolog.Logger

	// For testing: override the websocket dialer.
	Dialer *websocket.Dialer
}

// Provider opens one WebSocket per tenant session.
type Provider struct {
	base           *url.URL
	dialTimeout    time.Duration
	requestTimeout time.Duration
	dialer         *websocket.Dialer
	log            zerolog.Logger
}

// New validates opts and creates a Provider. It does not connect.
func New(opts Options) (*Provider, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("bridge: url is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("bridge: parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("bridge: url scheme must be ws or wss, got %q", u.Scheme)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	d := opts.Dialer
	if d == nil {
		d = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
		}
	}
	return &Provider{
		base:           u,
		dialTimeout:    opts.DialTimeout,
		requestTimeout: opts.RequestTimeout,
		dialer:         d,
		log:            opts.Log.With().Str("component", "bridge").Logger(),
	}, nil
}

func (p *Provider) sessionURL(tenantID string, control bool) string {
	u := *p.base
	u.Path = strings.TrimSuffix(p.base.Path, "/") + "/sessions/" + tenantID
	u.RawPath = strings.TrimSuffix(p.base.EscapedPath(), "/") + "/sessions/" + url.PathEscape(tenantID)
	if control {
		q := u.Query()
		q.Set("control", "1")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (p *Provider) dial(ctx context.Context, tenantID string, control bool) (*client, error) {
	dctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	conn, resp, err := p.dialer.DialContext(dctx, p.sessionURL(tenantID, control), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge: dial %s: %w (status %d)", tenantID, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("bridge: dial %s: %w", tenantID, err)
	}
	c := newClient(conn, p.requestTimeout, p.log.With().Str("tenant", tenantID).Logger())
	go c.readLoop()
	return c, nil
}

// Open dials the tenant's session socket. Lifecycle events start flowing as
// soon as the bridge accepts the connection.
func (p *Provider) Open(ctx context.Context, tenantID string) (transport.Client, error) {
	c, err := p.dial(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	p.log.Debug().Str("tenant", tenantID).Msg("bridge session opened")
	return c, nil
}

// PurgeCredentials asks the bridge to delete the tenant's stored pairing over
// a short-lived control socket.
func (p *Provider) PurgeCredentials(ctx context.Context, tenantID string) error {
	c, err := p.dial(ctx, tenantID, true)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.do(ctx, request{Op: opPurge}); err != nil {
		return fmt.Errorf("bridge: purge %s: %w", tenantID, err)
	}
	return nil
}

// --- Frames ---

const (
	opProbe  = "probe"
	opSend   = "send"
	opState  = "state"
	opLogout = "logout"
	opPurge  = "purge"
)

// request is an outbound frame. Image is base64 on the wire.
type request struct {
	ID       string `json:"id"`
	Op       string `json:"op"`
	Address  string `json:"address,omitempty"`
	Text     string `json:"text,omitempty"`
	Image    []byte `json:"image,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// frame is an inbound message: an event when Event is set, otherwise the
// response to the request with the same ID.
type frame struct {
	Event  string `json:"event,omitempty"`
	Token  string `json:"token,omitempty"`
	Reason string `json:"reason,omitempty"`
	Code   int    `json:"code,omitempty"`

	ID         string `json:"id,omitempty"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Registered bool   `json:"registered"`
	State      string `json:"state,omitempty"`
}

var eventKinds = map[string]transport.EventKind{
	"qr":           transport.EventQRIssued,
	"qr_consumed":  transport.EventQRConsumed,
	"ready":        transport.EventReady,
	"disconnected": transport.EventDisconnected,
	"auth_failed":  transport.EventAuthFailed,
}

// --- Client ---

type client struct {
	conn           *websocket.Conn
	requestTimeout time.Duration
	log            zerolog.Logger
	events         chan transport.Event
	done           chan struct{} // closed when readLoop exits
	closing        chan struct{} // closed by Close

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, requestTimeout time.Duration, log zerolog.Logger) *client {
	return &client{
		conn:           conn,
		requestTimeout: requestTimeout,
		log:            log,
		events:         make(chan transport.Event, eventBuffer),
		done:           make(chan struct{}),
		closing:        make(chan struct{}),
		pending:        make(map[string]chan frame),
	}
}

// readLoop dispatches inbound frames until the socket fails. On exit the
// event channel is closed and pending requests fail.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.pending = make(map[string]chan frame)
		c.mu.Unlock()
		close(c.done)
		close(c.events)
	}()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				c.log.Debug().Err(err).Msg("bridge read ended")
			}
			return
		}

		if f.Event != "" {
			kind, ok := eventKinds[f.Event]
			if !ok {
				c.log.Debug().Str("event", f.Event).Msg("unknown bridge event")
				continue
			}
			select {
			case c.events <- transport.Event{Kind: kind, Token: f.Token, Reason: f.Reason, Code: f.Code}:
			case <-c.closing:
				return
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

// do sends req and waits for its response.
func (c *client) do(ctx context.Context, req request) (frame, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	req.ID = uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, transport.ErrConnectionClosed
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	}
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return frame{}, fmt.Errorf("%w: %v", transport.ErrConnectionClosed, err)
	}

	select {
	case f := <-ch:
		if !f.OK {
			msg := f.Error
			if msg == "" {
				msg = "request failed"
			}
			return f, errors.New(msg)
		}
		return f, nil
	case <-c.done:
		return frame{}, transport.ErrConnectionClosed
	case <-ctx.Done():
		return frame{}, ctx.Err()
	}
}

func (c *client) Events() <-chan transport.Event { return c.events }

func (c *client) ProbeRegistered(ctx context.Context, address string) (bool, error) {
	f, err := c.do(ctx, request{Op: opProbe, Address: address})
	if err != nil {
		return false, fmt.Errorf("bridge: probe: %w", err)
	}
	return f.Registered, nil
}

func (c *client) Send(ctx context.Context, address string, p transport.Payload) error {
	_, err := c.do(ctx, request{
		Op:       opSend,
		Address:  address,
		Text:     p.Text,
		Image:    p.Image,
		MimeType: p.MimeType,
	})
	if err != nil {
		return fmt.Errorf("bridge: send: %w", err)
	}
	return nil
}

func (c *client) State(ctx context.Context) (transport.ConnState, error) {
	f, err := c.do(ctx, request{Op: opState})
	if err != nil {
		return transport.StateUnknown, fmt.Errorf("bridge: state: %w", err)
	}
	if f.State == "" {
		return transport.StateUnknown, nil
	}
	return transport.ConnState(strings.ToUpper(f.State)), nil
}

func (c *client) Logout(ctx context.Context) error {
	if _, err := c.do(ctx, request{Op: opLogout}); err != nil {
		return fmt.Errorf("bridge: logout: %w", err)
	}
	return nil
}

// Close sends a close frame and drops the socket. Safe to call more than
// once.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
	return nil
}
