package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mini-binder/codec"
	"mini-binder/descriptor"
	"mini-binder/message"
	"mini-binder/rpcerr"
)

// Endpoint owns the implementation of one remote interface and dispatches
// call frames to it. A server process holds one Endpoint per name, shared by
// every client channel attached to that name, so Dispatch runs concurrently;
// implementations must guard any state they mutate.
type Endpoint struct {
	name    string
	desc    *descriptor.Interface
	methods map[uint32]*boundMethod
	logger  *zap.Logger
}

// NewEndpoint binds impl to desc under the given name. See bindMethods for
// the signatures impl must provide.
func NewEndpoint(name string, desc *descriptor.Interface, impl any) (*Endpoint, error) {
	methods, err := bindMethods(desc, impl)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		name:    name,
		desc:    desc,
		methods: methods,
		logger:  zap.NewNop(),
	}, nil
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) Interface() *descriptor.Interface { return e.desc }

// Dispatch decodes the frame's arguments per the descriptor, invokes the
// method and encodes the outcome. It never panics: decode problems become
// MalformedPayload, unknown identifiers UnknownMethod, and anything raised by
// the implementation ServerFault.
func (e *Endpoint) Dispatch(ctx context.Context, frame *message.CallFrame) *message.ResponseFrame {
	bm, ok := e.methods[frame.MethodID]
	if !ok {
		return message.Failure(rpcerr.KindUnknownMethod,
			fmt.Sprintf("%s has no method %d", e.desc.Name(), frame.MethodID))
	}
	m := bm.desc

	args, err := decodeArgs(m, frame)
	if err != nil {
		return message.Failure(rpcerr.KindMalformedPayload, fmt.Sprintf("%s: %v", m.Name, err))
	}

	ret, inout, err := e.invoke(ctx, bm, args)
	if err != nil {
		e.logger.Warn("method failed", zap.String("method", m.Name), zap.Error(err))
		return message.FailureFrom(err)
	}

	payload, err := encodeResult(m, ret, inout)
	if err != nil {
		return message.Failure(rpcerr.KindServerFault, fmt.Sprintf("%s: encode result: %v", m.Name, err))
	}
	return message.Success(payload)
}

func decodeArgs(m *descriptor.Method, frame *message.CallFrame) ([]any, error) {
	if int(frame.ArgCount) != len(m.Params) {
		return nil, rpcerr.New(rpcerr.KindMalformedPayload,
			"%d arguments, want %d", frame.ArgCount, len(m.Params))
	}
	d := codec.NewDecoder(frame.Args)
	args := make([]any, len(m.Params))
	for i, p := range m.Params {
		v, err := d.ReadValue(p.Shape)
		if err != nil {
			return nil, rpcerr.Wrap(err, rpcerr.KindMalformedPayload, "argument "+p.Name)
		}
		args[i] = v
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return args, nil
}

// invoke runs the implementation, converting a panic into a ServerFault.
// Errors keep their kind only when it describes the call itself
// (MalformedPayload, UnknownMethod, ServerFault); connection kinds such as
// TransportError or InvalidState belong to the caller's side and are
// reported as ServerFault.
func (e *Endpoint) invoke(ctx context.Context, bm *boundMethod, args []any) (ret any, inout []any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("method panicked", zap.String("method", bm.desc.Name), zap.Any("panic", r))
			err = rpcerr.New(rpcerr.KindServerFault, "%s panicked: %v", bm.desc.Name, r)
		}
	}()
	ret, inout, err = bm.call(ctx, args)
	if err != nil && !forwardable(rpcerr.KindOf(err)) {
		err = rpcerr.Wrap(err, rpcerr.KindServerFault, bm.desc.Name)
	}
	return ret, inout, err
}

func forwardable(k rpcerr.Kind) bool {
	switch k {
	case rpcerr.KindMalformedPayload, rpcerr.KindUnknownMethod, rpcerr.KindServerFault:
		return true
	}
	return false
}

// encodeResult writes the return value followed by each in-out value.
func encodeResult(m *descriptor.Method, ret any, inout []any) ([]byte, error) {
	e := codec.NewEncoder(32)
	if m.Return.Kind != codec.KindNone {
		if err := e.WriteValue(m.Return, ret); err != nil {
			return nil, err
		}
	}
	for i, idx := range m.InOut() {
		if err := e.WriteValue(m.Params[idx].Shape, inout[i]); err != nil {
			return nil, err
		}
	}
	return e.Bytes(), nil
}
