// Package rpcerr defines the failure kinds surfaced by the binder protocol.
//
// Every failure that crosses a package boundary is an *Error carrying one Kind.
// Kinds have stable numeric tags because the endpoint writes them into failure
// Response Frames and the client reads them back.
package rpcerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure.
type Kind int32

const (
	KindUnknown          Kind = 0
	KindInvalidState     Kind = 1 // operation not valid in the current connection state
	KindTransportError   Kind = 2 // channel broken or unreachable
	KindTypeMismatch     Kind = 3 // value does not match the expected shape
	KindMalformedPayload Kind = 4 // byte-length or framing violation
	KindUnknownMethod    Kind = 5 // method identifier not in the descriptor
	KindServerFault      Kind = 6 // fault inside a method implementation
)

var kindNames = map[Kind]string{
	KindUnknown:          "Unknown",
	KindInvalidState:     "InvalidState",
	KindTransportError:   "TransportError",
	KindTypeMismatch:     "TypeMismatch",
	KindMalformedPayload: "MalformedPayload",
	KindUnknownMethod:    "UnknownMethod",
	KindServerFault:      "ServerFault",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int32(k))
}

// Valid reports whether k is one of the defined failure kinds.
func (k Kind) Valid() bool {
	return k >= KindInvalidState && k <= KindServerFault
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.cause != nil {
		if msg == "" {
			msg = e.cause.Error()
		} else {
			msg = msg + ": " + e.cause.Error()
		}
	}
	if msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + msg
}

// Cause returns the wrapped error, if any. It satisfies the pkg/errors causer.
func (e *Error) Cause() error { return e.cause }

// Unwrap lets errors.Is and errors.As see the wrapped error.
func (e *Error) Unwrap() error { return e.cause }

// New returns an *Error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err as kind. A nil err yields nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
