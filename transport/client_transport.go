// Package transport implements the client side of a binder channel.
//
// A ClientTransport owns one stream connection attached to one endpoint. At
// most one call is in flight: the caller's goroutine writes the request and
// blocks, and recvLoop, the only reader of the connection, hands the matching
// response back.
//
//	caller ──Call(seq=n)──→ conn ──→ Server
//	recvLoop ←── response(seq=n) ──→ pending.ch ──→ caller wakes up
//
// Any read or write failure closes the transport and fails the pending call.
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mini-binder/codec"
	"mini-binder/message"
	"mini-binder/protocol"
)

var (
	// ErrClosed is the close reason after Close.
	ErrClosed = errors.New("transport closed")
	// ErrBusy is returned when a call is made while another is in flight.
	ErrBusy = errors.New("call already in flight")
	// ErrCallTimeout is the close reason when a call outlives its timeout.
	ErrCallTimeout = errors.New("call timed out")
)

// Config tunes a transport. The zero value disables heartbeats.
type Config struct {
	HeartbeatInterval time.Duration
	// OnClose is called once, from the goroutine that detected the failure,
	// after the transport is closed.
	OnClose func(t *ClientTransport, err error)
	Logger  *zap.Logger
}

type pendingCall struct {
	seq uint32
	ch  chan []byte // buffered, receives the response body
}

// ClientTransport is a channel attached to a remote endpoint.
type ClientTransport struct {
	conn    net.Conn
	cfg     Config
	logger  *zap.Logger
	sending sync.Mutex // serializes frame writes (calls and heartbeats)

	mu      sync.Mutex
	seq     uint32
	pending *pendingCall

	closeOnce sync.Once
	closed    chan struct{}
	err       error // set before closed is closed
}

// Dial connects to addr and attaches to the endpoint called target. It
// returns the transport and the identity the server reported.
func Dial(ctx context.Context, network, addr, target string, cfg Config) (*ClientTransport, int32, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "dial %s %s", network, addr)
	}

	identity, err := handshake(ctx, conn, target)
	if err != nil {
		conn.Close()
		return nil, 0, err
	}
	return NewClientTransport(conn, cfg), identity, nil
}

// handshake sends the attach frame and waits for the reply. Cancelling ctx
// unblocks it by closing conn.
func handshake(ctx context.Context, conn net.Conn, target string) (int32, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	body, err := codec.EncodeAs(codec.Text, target)
	if err != nil {
		return 0, err
	}
	if err := protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeAttach}, body); err != nil {
		return 0, errors.Wrap(err, "send attach")
	}

	header, replyBody, err := protocol.Decode(conn)
	if err != nil {
		if ctx.Err() != nil {
			return 0, errors.Wrap(ctx.Err(), "attach")
		}
		return 0, errors.Wrap(err, "read attach reply")
	}
	if header.MsgType != protocol.MsgTypeAttachReply {
		return 0, errors.Errorf("attach answered with frame type %d", header.MsgType)
	}
	reply, err := message.UnmarshalResponse(replyBody)
	if err != nil {
		return 0, err
	}
	if err := reply.Err(); err != nil {
		return 0, err
	}
	id, err := codec.Decode(reply.Payload, codec.Int32)
	if err != nil {
		return 0, errors.Wrap(err, "attach identity")
	}
	return id.(int32), nil
}

// NewClientTransport wraps an attached connection and starts recvLoop and,
// if configured, heartbeatLoop.
func NewClientTransport(conn net.Conn, cfg Config) *ClientTransport {
	t := &ClientTransport{
		conn:   conn,
		cfg:    cfg,
		logger: cfg.Logger,
		closed: make(chan struct{}),
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	go t.recvLoop()
	if cfg.HeartbeatInterval > 0 {
		go t.heartbeatLoop(cfg.HeartbeatInterval)
	}
	return t
}

// Call sends a call frame body and blocks until the response body arrives,
// the transport fails, or timeout elapses (0 waits forever). A timed-out call
// closes the transport: the late response could no longer be told apart.
func (t *ClientTransport) Call(body []byte, timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	if err := t.Err(); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if t.pending != nil {
		t.mu.Unlock()
		return nil, ErrBusy
	}
	t.seq++
	p := &pendingCall{seq: t.seq, ch: make(chan []byte, 1)}
	// Register before sending so recvLoop can never miss the response.
	t.pending = p
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.pending == p {
			t.pending = nil
		}
		t.mu.Unlock()
	}()

	t.sending.Lock()
	err := protocol.Encode(t.conn, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: p.seq}, body)
	t.sending.Unlock()
	if err != nil {
		t.closeWith(errors.Wrap(err, "send request"))
		return nil, t.Err()
	}

	var timer <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		timer = tm.C
	}

	select {
	case resp := <-p.ch:
		return resp, nil
	case <-t.closed:
		// A response delivered just before the failure still wins.
		select {
		case resp := <-p.ch:
			return resp, nil
		default:
		}
		return nil, t.Err()
	case <-timer:
		t.closeWith(ErrCallTimeout)
		return nil, ErrCallTimeout
	}
}

// recvLoop is the single reader of the connection. A response whose seq does
// not match the call in flight is dropped.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.closeWith(errors.Wrap(err, "receive"))
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			t.closeWith(errors.Errorf("unexpected frame type %d", header.MsgType))
			return
		}

		t.mu.Lock()
		p := t.pending
		if p != nil && p.seq == header.Seq {
			t.pending = nil
			p.ch <- body
		} else {
			t.logger.Debug("dropping stale response", zap.Uint32("seq", header.Seq))
		}
		t.mu.Unlock()
	}
}

// heartbeatLoop sends empty heartbeat frames so a dead peer is noticed even
// while no call is in flight.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil)
		t.sending.Unlock()
		if err != nil {
			t.closeWith(errors.Wrap(err, "send heartbeat"))
			return
		}
	}
}

func (t *ClientTransport) closeWith(reason error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.err = reason
		t.mu.Unlock()
		close(t.closed)
		t.conn.Close()
		t.logger.Debug("transport closed", zap.Error(reason))
		if t.cfg.OnClose != nil {
			t.cfg.OnClose(t, reason)
		}
	})
}

// Close releases the connection. The close reason becomes ErrClosed.
func (t *ClientTransport) Close() error {
	t.closeWith(ErrClosed)
	return nil
}

// Closed is closed once the transport has failed or been closed.
func (t *ClientTransport) Closed() <-chan struct{} { return t.closed }

// Err returns the close reason, or nil while the transport is open.
func (t *ClientTransport) Err() error {
	select {
	case <-t.closed:
		return t.err
	default:
		return nil
	}
}

// Conn returns the underlying connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}
