// Package server hosts named endpoints and serves binder channels.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (attach handshake, then a single reader goroutine)
//	  → for each request: go handleRequest
//	    → UnmarshalCall → Middleware Chain → Endpoint.Dispatch → write response
package server

import (
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mini-binder/codec"
	"mini-binder/message"
	"mini-binder/middleware"
	"mini-binder/protocol"
	"mini-binder/registry"
	"mini-binder/rpcerr"
)

// Server accepts channels and routes them to its endpoints.
type Server struct {
	identity int32
	logger   *zap.Logger

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	conns     map[net.Conn]struct{}
	listener  net.Listener
	ready     chan struct{} // closed once the listener is set

	wg          sync.WaitGroup // in-flight requests
	shutdown    atomic.Bool    // set before the listener is closed
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	registry  registry.Registry // nil when not publishing
	advertise registry.ServiceInstance
	ttl       int64
	publishMu sync.Mutex // guards advertise and published
	published []string
}

type Option func(*Server)

// WithIdentity overrides the identity reported to attaching clients.
// The default is the process id.
func WithIdentity(id int32) Option {
	return func(s *Server) { s.identity = id }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRegistry publishes every endpoint in reg once serving starts.
// An empty advertise address is replaced by the listener's address.
func WithRegistry(reg registry.Registry, advertise registry.ServiceInstance, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.advertise = advertise
		s.ttl = ttl
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		identity:  int32(os.Getpid()),
		logger:    zap.NewNop(),
		endpoints: make(map[string]*Endpoint),
		conns:     make(map[net.Conn]struct{}),
		ready:     make(chan struct{}),
		ttl:       10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Identity() int32 { return s.identity }

// Register adds an endpoint. Names are unique per server.
func (s *Server) Register(ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.endpoints[ep.name]; dup {
		return errors.Errorf("endpoint %q already registered", ep.name)
	}
	ep.logger = s.logger.With(zap.String("endpoint", ep.name))
	s.endpoints[ep.name] = ep
	return nil
}

func (s *Server) endpoint(name string) *Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[name]
}

// Use registers a middleware. Middlewares apply in the order they are added
// and must be registered before serving starts.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on network/address and serves until Shutdown. A stale UNIX
// socket file left by an unclean exit is removed first.
func (s *Server) Serve(network, address string) error {
	if network == "unix" {
		_ = os.Remove(address)
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return errors.Wrapf(err, "listen %s %s", network, address)
	}
	return s.ServeListener(listener)
}

// ServeListener serves channels accepted from listener until Shutdown.
func (s *Server) ServeListener(listener net.Listener) error {
	// Build the middleware chain once, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	if err := s.publish(listener.Addr()); err != nil {
		s.logger.Warn("publish endpoints", zap.Error(err))
	}
	s.logger.Info("serving",
		zap.Stringer("addr", listener.Addr()),
		zap.Int32("identity", s.identity))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Accept fails once Shutdown closes the listener.
			if s.shutdown.Load() {
				return nil
			}
			return errors.Wrap(err, "accept")
		}
		go s.handleConn(conn)
	}
}

// Addr blocks until serving has started and returns the listener address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr()
}

func (s *Server) publish(addr net.Addr) error {
	if s.registry == nil {
		return nil
	}
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if s.shutdown.Load() {
		return nil
	}
	inst := s.advertise
	if inst.Addr == "" {
		inst.Network = addr.Network()
		inst.Addr = addr.String()
	}
	if inst.Network == "" {
		inst.Network = addr.Network()
	}
	s.advertise = inst

	s.mu.Lock()
	names := make([]string, 0, len(s.endpoints))
	for name := range s.endpoints {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.registry.Register(name, inst, s.ttl); err != nil {
			return errors.Wrapf(err, "register %s", name)
		}
		s.published = append(s.published, name)
	}
	return nil
}

func (s *Server) track(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.shutdown.Load() {
			return false
		}
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
	return true
}

// handleConn serves one channel. Frames are read by this goroutine only;
// each request is dispatched on its own goroutine and responses are written
// under writeMu so frames never interleave.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	if !s.track(conn, true) {
		return
	}
	defer s.track(conn, false)

	logger := s.logger.With(zap.String("conn", uuid.NewString()), zap.Stringer("remote", conn.RemoteAddr()))

	ep, err := s.attach(conn, logger)
	if err != nil {
		logger.Info("attach failed", zap.Error(err))
		return
	}
	logger = logger.With(zap.String("endpoint", ep.name))
	logger.Info("channel attached")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			logger.Info("channel closed", zap.Error(err))
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeRequest:
			if !s.admit() {
				logger.Info("closing channel, server shutting down")
				return
			}
			go s.handleRequest(ctx, ep, header, body, conn, writeMu, logger)
		default:
			logger.Warn("unexpected frame", zap.Uint8("msg_type", uint8(header.MsgType)))
			return
		}
	}
}

// admit counts a request as in flight unless shutdown has begun. The flag
// is checked and the counter raised under s.mu, which Shutdown also holds
// while setting the flag, so no request is added once Shutdown waits.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

// attach performs the handshake: the first frame names the endpoint and the
// reply carries this server's identity.
func (s *Server) attach(conn net.Conn, logger *zap.Logger) (*Endpoint, error) {
	header, body, err := protocol.Decode(conn)
	if err != nil {
		return nil, errors.Wrap(err, "read attach")
	}
	if header.MsgType != protocol.MsgTypeAttach {
		return nil, errors.Errorf("first frame has type %d, want attach", header.MsgType)
	}

	var reply *message.ResponseFrame
	var ep *Endpoint
	name, err := codec.Decode(body, codec.Text)
	switch {
	case err != nil:
		reply = message.FailureFrom(err)
	case s.endpoint(name.(string)) == nil:
		reply = message.Failure(rpcerr.KindTransportError, "no endpoint named "+name.(string))
	default:
		ep = s.endpoint(name.(string))
		id := codec.NewEncoder(4)
		id.WriteInt32(s.identity)
		reply = message.Success(id.Bytes())
	}

	out := reply.Marshal()
	if err := protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeAttachReply, Seq: header.Seq}, out); err != nil {
		return nil, errors.Wrap(err, "write attach reply")
	}
	if ep == nil {
		return nil, reply.Err()
	}
	return ep, nil
}

// handleRequest runs one call through the middleware chain and writes the
// response with the request's seq so the client can match it.
func (s *Server) handleRequest(ctx context.Context, ep *Endpoint, header *protocol.Header, body []byte,
	conn net.Conn, writeMu *sync.Mutex, logger *zap.Logger) {
	defer s.wg.Done()

	var resp *message.ResponseFrame
	frame, err := message.UnmarshalCall(body)
	if err != nil {
		resp = message.FailureFrom(err)
	} else {
		req := &middleware.Request{Endpoint: ep.name, Frame: frame}
		if m, ok := ep.desc.LookupID(frame.MethodID); ok {
			req.Method = m.Name
		}
		resp = s.handler(ctx, req)
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	replyHeader := protocol.Header{
		MsgType: protocol.MsgTypeResponse,
		Seq:     header.Seq,
	}
	if err := protocol.Encode(conn, &replyHeader, resp.Marshal()); err != nil {
		logger.Warn("write response", zap.Error(err))
	}
}

// businessHandler is the innermost handler of the middleware chain.
func (s *Server) businessHandler(ctx context.Context, req *middleware.Request) *message.ResponseFrame {
	ep := s.endpoint(req.Endpoint)
	if ep == nil {
		return message.Failure(rpcerr.KindTransportError, "no endpoint named "+req.Endpoint)
	}
	return ep.Dispatch(ctx, req.Frame)
}

// Shutdown stops the server gracefully:
//  1. Deregister endpoints (clients stop discovering this process)
//  2. Set the shutdown flag and close the listener
//  3. Wait for in-flight requests, up to timeout
//  4. Close the remaining channels, which clients observe as loss
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		s.publishMu.Lock()
		s.shutdown.Store(true)
		for _, name := range s.published {
			if err := s.registry.Deregister(name, s.advertise.Addr); err != nil {
				s.logger.Warn("deregister", zap.String("endpoint", name), zap.Error(err))
			}
		}
		s.published = nil
		s.publishMu.Unlock()
	}

	s.mu.Lock()
	s.shutdown.Store(true)
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("timeout waiting for ongoing requests to finish")
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	return err
}
