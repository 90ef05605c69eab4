// Package client implements the connection manager: it locates a named
// endpoint, attaches to it and turns method invocations into calls.
//
//	Disconnected ──Connect──→ Connecting ──attach ok──→ Connected
//	      ↑                       │                        │
//	      └──── attach failed ────┘                        │
//	      └──── Disconnect / transport loss ───────────────┘
package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mini-binder/codec"
	"mini-binder/descriptor"
	"mini-binder/loadbalance"
	"mini-binder/message"
	"mini-binder/registry"
	"mini-binder/rpcerr"
	"mini-binder/transport"
)

// DefaultHeartbeat is the heartbeat interval when none is configured.
const DefaultHeartbeat = 30 * time.Second

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	}
	return "State(?)"
}

// Connection describes one attachment to an endpoint.
type Connection struct {
	ID       string // unique per successful connect
	Target   string
	Identity int32 // announced by the server during attach
	Instance registry.ServiceInstance
	Since    time.Time
}

// Result is the decoded outcome of a call.
type Result struct {
	Value any   // return value, nil for void methods
	Out   []any // final values of the in-out parameters, in parameter order
}

// Client manages one connection at a time to endpoints that implement desc.
type Client struct {
	desc     *descriptor.Interface
	registry registry.Registry
	balancer loadbalance.Balancer
	logger   *zap.Logger

	dialTimeout time.Duration
	callTimeout time.Duration
	heartbeat   time.Duration

	mu        sync.Mutex
	state     State
	conn      Connection
	transport *transport.ClientTransport
	abort     context.CancelFunc // cancels the connect in progress
	attempt   uint64

	observer Observer
	events   []event
	flushing bool
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialTimeout bounds discovery, dialing and the attach handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithCallTimeout bounds each Invoke. A call that times out fails with
// TransportError and drops the connection. 0, the default, waits forever.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithHeartbeat sets the heartbeat interval; 0 disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

// NewClient returns a disconnected client. A nil balancer picks round-robin.
func NewClient(desc *descriptor.Interface, reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	c := &Client{
		desc:      desc,
		registry:  reg,
		balancer:  bal,
		logger:    zap.NewNop(),
		heartbeat: DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetObserver installs the lifecycle observer, replacing any previous one.
// nil removes it.
func (c *Client) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connection returns the live connection, if any.
func (c *Client) Connection() (Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.state == Connected
}

// Connect locates the endpoint named target and attaches to it. It is valid
// only while Disconnected. The observer learns the outcome either way.
func (c *Client) Connect(ctx context.Context, target string) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return rpcerr.New(rpcerr.KindInvalidState, "connect while %v", state)
	}
	c.state = Connecting
	c.attempt++
	attempt := c.attempt
	if c.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.abort = cancel
	c.mu.Unlock()

	logger := c.logger.With(zap.String("target", target))
	logger.Debug("connecting")
	t, conn, err := c.attach(ctx, target)

	c.mu.Lock()
	current := c.attempt == attempt && c.state == Connecting
	if current {
		c.abort = nil
	}
	if err == nil && !current {
		err = rpcerr.New(rpcerr.KindTransportError, "connect to %s aborted", target)
	}
	if err == nil && t.Err() != nil {
		// Lost between the handshake and now; its OnClose was ignored.
		err = rpcerr.Wrap(t.Err(), rpcerr.KindTransportError, "connection to "+target+" lost")
	}
	if err != nil {
		if current {
			c.state = Disconnected
		}
		c.enqueueLocked(event{kind: eventConnectFailed, target: target, err: err})
		c.mu.Unlock()
		if t != nil {
			t.Close()
		}
		logger.Info("connect failed", zap.Error(err))
		c.flush()
		return err
	}

	c.state = Connected
	c.transport = t
	c.conn = conn
	c.enqueueLocked(event{kind: eventConnected, conn: conn})
	c.mu.Unlock()

	logger.Info("connected",
		zap.String("conn", conn.ID),
		zap.String("addr", conn.Instance.Addr),
		zap.Int32("identity", conn.Identity))
	c.flush()
	return nil
}

// attach resolves target and performs the handshake. Failures are
// TransportErrors except those the server reported with a kind of its own.
func (c *Client) attach(ctx context.Context, target string) (*transport.ClientTransport, Connection, error) {
	instances, err := c.registry.Discover(target)
	if err != nil {
		return nil, Connection{}, rpcerr.Wrap(err, rpcerr.KindTransportError, "discover "+target)
	}
	inst, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, Connection{}, rpcerr.Wrap(err, rpcerr.KindTransportError, "pick instance of "+target)
	}

	t, identity, err := transport.Dial(ctx, inst.Network, inst.Addr, target, transport.Config{
		HeartbeatInterval: c.heartbeat,
		OnClose:           c.handleLoss,
		Logger:            c.logger,
	})
	if err != nil {
		if !rpcerr.KindOf(err).Valid() {
			err = rpcerr.Wrap(err, rpcerr.KindTransportError, "attach "+target)
		}
		return nil, Connection{}, err
	}
	return t, Connection{
		ID:       uuid.NewString(),
		Target:   target,
		Identity: identity,
		Instance: *inst,
		Since:    time.Now(),
	}, nil
}

// handleLoss runs when a transport closes. Only the current transport moves
// the state machine; a transport already released by Disconnect is ignored.
func (c *Client) handleLoss(t *transport.ClientTransport, reason error) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.transport = nil
	c.conn = Connection{}
	c.state = Disconnected
	err := rpcerr.Wrap(reason, rpcerr.KindTransportError, "connection to "+conn.Target+" lost")
	c.enqueueLocked(event{kind: eventDisconnected, conn: conn, err: err})
	c.mu.Unlock()

	c.logger.Warn("connection lost", zap.String("conn", conn.ID), zap.Error(reason))
	c.flush()
}

// Disconnect releases the connection, or aborts a connect in progress.
// It is a no-op while Disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	switch c.state {
	case Disconnected:
		c.mu.Unlock()
		return
	case Connecting:
		// Connect notices the abort and reports ConnectFailed.
		abort := c.abort
		c.abort = nil
		c.state = Disconnected
		c.mu.Unlock()
		if abort != nil {
			abort()
		}
		return
	}

	t := c.transport
	conn := c.conn
	c.transport = nil
	c.conn = Connection{}
	c.state = Disconnected
	c.enqueueLocked(event{kind: eventDisconnected, conn: conn})
	c.mu.Unlock()

	t.Close()
	c.logger.Info("disconnected", zap.String("conn", conn.ID))
	c.flush()
}

// Invoke calls method on the connected endpoint with args in parameter
// order and blocks until the response arrives. Only one call may be in
// flight; a concurrent Invoke fails with InvalidState.
func (c *Client) Invoke(method string, args ...any) (*Result, error) {
	c.mu.Lock()
	if c.state != Connected {
		state := c.state
		c.mu.Unlock()
		return nil, rpcerr.New(rpcerr.KindInvalidState, "invoke %s while %v", method, state)
	}
	t := c.transport
	c.mu.Unlock()

	m, ok := c.desc.Lookup(method)
	if !ok {
		return nil, rpcerr.New(rpcerr.KindUnknownMethod, "%s has no method %s", c.desc.Name(), method)
	}
	frame, err := buildCall(m, args)
	if err != nil {
		return nil, err
	}

	body, err := t.Call(frame.Marshal(), c.callTimeout)
	if err != nil {
		if errors.Is(err, transport.ErrBusy) {
			return nil, rpcerr.New(rpcerr.KindInvalidState, "invoke %s: another call is in flight", method)
		}
		// The transport is closed by now and handleLoss has run or is running.
		c.handleLoss(t, err)
		return nil, rpcerr.Wrap(err, rpcerr.KindTransportError, method)
	}

	resp, err := message.UnmarshalResponse(body)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return decodeResult(m, resp.Payload)
}

func buildCall(m *descriptor.Method, args []any) (*message.CallFrame, error) {
	if len(args) != len(m.Params) {
		return nil, rpcerr.New(rpcerr.KindTypeMismatch,
			"%s takes %d arguments, got %d", m.Name, len(m.Params), len(args))
	}
	e := codec.NewEncoder(32)
	for i, p := range m.Params {
		if err := e.WriteValue(p.Shape, args[i]); err != nil {
			return nil, errors.Wrapf(err, "%s argument %s", m.Name, p.Name)
		}
	}
	return &message.CallFrame{MethodID: m.ID, ArgCount: uint32(len(args)), Args: e.Bytes()}, nil
}

func decodeResult(m *descriptor.Method, payload []byte) (*Result, error) {
	d := codec.NewDecoder(payload)
	res := &Result{}
	if m.Return.Kind != codec.KindNone {
		v, err := d.ReadValue(m.Return)
		if err != nil {
			return nil, errors.Wrapf(err, "%s result", m.Name)
		}
		res.Value = v
	}
	for _, idx := range m.InOut() {
		v, err := d.ReadValue(m.Params[idx].Shape)
		if err != nil {
			return nil, errors.Wrapf(err, "%s in-out %s", m.Name, m.Params[idx].Name)
		}
		res.Out = append(res.Out, v)
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return res, nil
}
