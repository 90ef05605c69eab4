package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"mini-binder/rpcerr"
)

// Encoder appends encoded values to an internal buffer.
// The zero value is ready to use.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with room for size bytes.
func NewEncoder(size int) *Encoder {
	return &Encoder{buf: make([]byte, 0, size)}
}

// Bytes returns the encoded bytes. The slice aliases the encoder's buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) WriteInt32(v int32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
}

func (e *Encoder) WriteUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) WriteInt64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *Encoder) WriteFloat32(v float32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(v))
}

func (e *Encoder) WriteFloat64(v float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
}

// WriteText writes a length-prefixed UTF-8 string.
func (e *Encoder) WriteText(s string) error {
	if !utf8.ValidString(s) {
		return rpcerr.New(rpcerr.KindTypeMismatch, "text is not valid UTF-8")
	}
	if uint64(len(s)) > math.MaxUint32 {
		return rpcerr.New(rpcerr.KindTypeMismatch, "text of %d bytes exceeds length prefix", len(s))
	}
	e.WriteUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

// WriteRecord writes each field of r in declared order.
func (e *Encoder) WriteRecord(r Record) error {
	rt := r.RecordType()
	values := r.RecordFields()
	if len(values) != len(rt.Fields) {
		return rpcerr.New(rpcerr.KindTypeMismatch,
			"record %s has %d field values, type declares %d", rt.Name, len(values), len(rt.Fields))
	}
	for i, f := range rt.Fields {
		if err := e.WriteValue(f.Shape, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteValue writes v, which must have the Go type matching s:
// int32, int64, bool, float32, float64, string, or a Record of s.Record.
func (e *Encoder) WriteValue(s Shape, v any) error {
	switch s.Kind {
	case KindInt32:
		if x, ok := v.(int32); ok {
			e.WriteInt32(x)
			return nil
		}
	case KindInt64:
		if x, ok := v.(int64); ok {
			e.WriteInt64(x)
			return nil
		}
	case KindBool:
		if x, ok := v.(bool); ok {
			e.WriteBool(x)
			return nil
		}
	case KindFloat32:
		if x, ok := v.(float32); ok {
			e.WriteFloat32(x)
			return nil
		}
	case KindFloat64:
		if x, ok := v.(float64); ok {
			e.WriteFloat64(x)
			return nil
		}
	case KindText:
		if x, ok := v.(string); ok {
			return e.WriteText(x)
		}
	case KindRecord:
		if x, ok := v.(Record); ok && s.Record != nil && x.RecordType() == s.Record {
			return e.WriteRecord(x)
		}
	case KindNone:
		if v == nil {
			return nil
		}
	default:
		return rpcerr.New(rpcerr.KindTypeMismatch, "unknown shape %v", s)
	}
	return rpcerr.New(rpcerr.KindTypeMismatch, "%T does not match shape %v", v, s)
}

// ShapeOf infers the shape of a supported Go value.
func ShapeOf(v any) (Shape, error) {
	switch x := v.(type) {
	case nil:
		return None, nil
	case int32:
		return Int32, nil
	case int64:
		return Int64, nil
	case bool:
		return Bool, nil
	case float32:
		return Float32, nil
	case float64:
		return Float64, nil
	case string:
		return Text, nil
	case Record:
		return RecordShape(x.RecordType()), nil
	}
	return Shape{}, rpcerr.New(rpcerr.KindTypeMismatch, "unsupported type %T", v)
}

// Encode encodes a single value, inferring its shape.
func Encode(v any) ([]byte, error) {
	s, err := ShapeOf(v)
	if err != nil {
		return nil, err
	}
	return EncodeAs(s, v)
}

// EncodeAs encodes v as shape s.
func EncodeAs(s Shape, v any) ([]byte, error) {
	e := NewEncoder(16)
	if err := e.WriteValue(s, v); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}
