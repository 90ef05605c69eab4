// Package message defines the Call and Response frames exchanged per invocation.
//
// The frames are the bodies of protocol frames. Layouts, big-endian:
//
//	call:     [method_id uint32][arg_count uint32][arg_1]...[arg_n]
//	response: [status byte][payload]
//
// Arguments are packed back to back with no per-argument framing, so only a
// party holding the method's descriptor can split them. A success payload is
// the encoded return value followed by the new values of in-out parameters;
// a failure payload is [kind tag int32][message text].
package message

import (
	"strings"

	"mini-binder/codec"
	"mini-binder/rpcerr"
)

// CallHeaderSize is the fixed prefix of a call frame.
const CallHeaderSize = 8

// CallFrame is a single method invocation.
type CallFrame struct {
	MethodID uint32
	ArgCount uint32
	Args     []byte // ArgCount encoded values, concatenated
}

// Marshal returns the wire form of the frame.
func (f *CallFrame) Marshal() []byte {
	e := codec.NewEncoder(CallHeaderSize + len(f.Args))
	e.WriteUint32(f.MethodID)
	e.WriteUint32(f.ArgCount)
	return append(e.Bytes(), f.Args...)
}

// UnmarshalCall parses the fixed call header. Args aliases data.
func UnmarshalCall(data []byte) (*CallFrame, error) {
	if len(data) < CallHeaderSize {
		return nil, rpcerr.New(rpcerr.KindMalformedPayload, "call frame of %d bytes", len(data))
	}
	d := codec.NewDecoder(data)
	id, _ := d.ReadUint32()
	n, _ := d.ReadUint32()
	return &CallFrame{MethodID: id, ArgCount: n, Args: d.Rest()}, nil
}

// Status is the first byte of a response frame.
type Status byte

const (
	StatusOK      Status = 0
	StatusFailure Status = 1
)

// ResponseFrame is the outcome of one invocation.
type ResponseFrame struct {
	Status  Status
	Payload []byte
}

// Success wraps an encoded result. payload may be empty for void methods.
func Success(payload []byte) *ResponseFrame {
	return &ResponseFrame{Status: StatusOK, Payload: payload}
}

// MaxFailureMessage bounds the diagnostic text of a failure frame in bytes.
const MaxFailureMessage = 4 << 10

// Failure builds a failure frame carrying kind and a diagnostic message.
// The message is made valid UTF-8 and cut to MaxFailureMessage bytes.
func Failure(kind rpcerr.Kind, msg string) *ResponseFrame {
	msg = failureText(msg)
	e := codec.NewEncoder(8 + len(msg))
	e.WriteInt32(int32(kind))
	// failureText returns short valid UTF-8, the only input WriteText accepts
	// unconditionally.
	_ = e.WriteText(msg)
	return &ResponseFrame{Status: StatusFailure, Payload: e.Bytes()}
}

func failureText(msg string) string {
	msg = strings.ToValidUTF8(msg, "?")
	if len(msg) > MaxFailureMessage {
		// Cutting may split a rune; drop the partial tail.
		msg = strings.ToValidUTF8(msg[:MaxFailureMessage], "")
	}
	return msg
}

// FailureFrom converts err to a failure frame. Errors without a kind are
// reported as ServerFault.
func FailureFrom(err error) *ResponseFrame {
	kind := rpcerr.KindOf(err)
	if !kind.Valid() {
		kind = rpcerr.KindServerFault
	}
	return Failure(kind, strings.TrimPrefix(err.Error(), kind.String()+": "))
}

// Marshal returns the wire form of the frame.
func (r *ResponseFrame) Marshal() []byte {
	buf := make([]byte, 1+len(r.Payload))
	buf[0] = byte(r.Status)
	copy(buf[1:], r.Payload)
	return buf
}

// UnmarshalResponse parses a response frame. Payload aliases data.
func UnmarshalResponse(data []byte) (*ResponseFrame, error) {
	if len(data) < 1 {
		return nil, rpcerr.New(rpcerr.KindMalformedPayload, "empty response frame")
	}
	status := Status(data[0])
	if status != StatusOK && status != StatusFailure {
		return nil, rpcerr.New(rpcerr.KindMalformedPayload, "response status %d", data[0])
	}
	return &ResponseFrame{Status: status, Payload: data[1:]}, nil
}

// Err returns nil for a success frame and the carried *rpcerr.Error for a
// failure frame. A failure payload that cannot be read is a MalformedPayload.
func (r *ResponseFrame) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	d := codec.NewDecoder(r.Payload)
	tag, err := d.ReadInt32()
	if err != nil {
		return rpcerr.Wrap(err, rpcerr.KindMalformedPayload, "failure tag")
	}
	kind := rpcerr.Kind(tag)
	if !kind.Valid() {
		return rpcerr.New(rpcerr.KindMalformedPayload, "unknown failure tag %d", tag)
	}
	msg := ""
	if d.Remaining() > 0 {
		if msg, err = d.ReadText(); err != nil {
			return rpcerr.Wrap(err, rpcerr.KindMalformedPayload, "failure message")
		}
	}
	return &rpcerr.Error{Kind: kind, Message: msg}
}
