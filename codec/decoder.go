package codec

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"mini-binder/rpcerr"
)

// Decoder reads encoded values from a byte slice in order.
type Decoder struct {
	data []byte
	off  int
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.off }

// Rest returns the unread bytes without consuming them.
func (d *Decoder) Rest() []byte { return d.data[d.off:] }

// Finish fails with MalformedPayload if any bytes are left unread.
func (d *Decoder) Finish() error {
	if n := d.Remaining(); n != 0 {
		return rpcerr.New(rpcerr.KindMalformedPayload, "%d trailing bytes", n)
	}
	return nil
}

func (d *Decoder) take(n int, what string) ([]byte, error) {
	if d.Remaining() < n {
		return nil, rpcerr.New(rpcerr.KindMalformedPayload,
			"%s needs %d bytes, %d remain", what, n, d.Remaining())
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) ReadInt32() (int32, error) {
	b, err := d.take(4, "int32")
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (d *Decoder) ReadUint32() (uint32, error) {
	b, err := d.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *Decoder) ReadInt64() (int64, error) {
	b, err := d.take(8, "int64")
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.take(1, "bool")
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, rpcerr.New(rpcerr.KindMalformedPayload, "bool byte %#x", b[0])
}

func (d *Decoder) ReadFloat32() (float32, error) {
	b, err := d.take(4, "float32")
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func (d *Decoder) ReadFloat64() (float64, error) {
	b, err := d.take(8, "float64")
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// ReadText reads a length-prefixed UTF-8 string. The result does not alias
// the decoder's input.
func (d *Decoder) ReadText() (string, error) {
	n, err := d.ReadUint32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(d.Remaining()) {
		return "", rpcerr.New(rpcerr.KindMalformedPayload,
			"text declares %d bytes, %d remain", n, d.Remaining())
	}
	b, _ := d.take(int(n), "text")
	if !utf8.Valid(b) {
		return "", rpcerr.New(rpcerr.KindMalformedPayload, "text is not valid UTF-8")
	}
	return string(b), nil
}

// ReadRecord decodes the fields of rt in order and builds a fresh value.
func (d *Decoder) ReadRecord(rt *RecordType) (Record, error) {
	values := make([]any, len(rt.Fields))
	for i, f := range rt.Fields {
		v, err := d.ReadValue(f.Shape)
		if err != nil {
			return nil, rpcerr.Wrap(err, rpcerr.KindMalformedPayload,
				"record "+rt.Name+" field "+f.Name)
		}
		values[i] = v
	}
	r, err := rt.Build(values)
	if err != nil {
		return nil, rpcerr.Wrap(err, rpcerr.KindMalformedPayload, "build record "+rt.Name)
	}
	return r, nil
}

// ReadValue reads one value of shape s. KindNone reads nothing and returns nil.
func (d *Decoder) ReadValue(s Shape) (any, error) {
	switch s.Kind {
	case KindNone:
		return nil, nil
	case KindInt32:
		return d.ReadInt32()
	case KindInt64:
		return d.ReadInt64()
	case KindBool:
		return d.ReadBool()
	case KindFloat32:
		return d.ReadFloat32()
	case KindFloat64:
		return d.ReadFloat64()
	case KindText:
		return d.ReadText()
	case KindRecord:
		if s.Record == nil || s.Record.Build == nil {
			return nil, rpcerr.New(rpcerr.KindTypeMismatch, "record shape without a type")
		}
		return d.ReadRecord(s.Record)
	}
	return nil, rpcerr.New(rpcerr.KindTypeMismatch, "unknown shape %v", s)
}

// Decode decodes exactly one value of shape s from data.
// Trailing bytes are a MalformedPayload.
func Decode(data []byte, s Shape) (any, error) {
	d := NewDecoder(data)
	v, err := d.ReadValue(s)
	if err != nil {
		return nil, err
	}
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return v, nil
}
