// Package codec implements the flat binary value encoding used on the wire.
//
// Every value encodes in a fixed form, big-endian (network byte order):
//
//	int32    4 bytes two's complement
//	int64    8 bytes two's complement
//	bool     1 byte, 0 or 1
//	float32  4 bytes IEEE-754
//	float64  8 bytes IEEE-754
//	text     uint32 byte length, then that many UTF-8 bytes
//	record   concatenation of its fields, in declared order
//
// Encoding carries no type tags: the decoder is told which Shape to expect.
package codec

import (
	"fmt"
	"strings"
)

// Kind is the primitive category of a Shape.
type Kind byte

const (
	KindNone Kind = iota // no value (void return)
	KindInt32
	KindInt64
	KindBool
	KindFloat32
	KindFloat64
	KindText
	KindRecord
)

var kindNames = [...]string{"none", "int32", "int64", "bool", "float32", "float64", "text", "record"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Shape describes what a decoder should expect.
// Record is set only when Kind is KindRecord.
type Shape struct {
	Kind   Kind
	Record *RecordType
}

var (
	None    = Shape{Kind: KindNone}
	Int32   = Shape{Kind: KindInt32}
	Int64   = Shape{Kind: KindInt64}
	Bool    = Shape{Kind: KindBool}
	Float32 = Shape{Kind: KindFloat32}
	Float64 = Shape{Kind: KindFloat64}
	Text    = Shape{Kind: KindText}
)

// RecordShape returns the shape of values of the given record type.
func RecordShape(rt *RecordType) Shape {
	return Shape{Kind: KindRecord, Record: rt}
}

func (s Shape) String() string {
	if s.Kind == KindRecord && s.Record != nil {
		return "record " + s.Record.Name
	}
	return s.Kind.String()
}

// Record is the contract for structured values carried by the codec.
// RecordFields returns the field values in the exact order of RecordType().Fields.
type Record interface {
	RecordType() *RecordType
	RecordFields() []any
}

// Field is one declared member of a record type.
type Field struct {
	Name  string
	Shape Shape
}

// RecordType describes a record: its ordered fields and how to rebuild a value
// from decoded field values. Build receives one value per field, in order.
type RecordType struct {
	Name   string
	Fields []Field
	Build  func(values []any) (Record, error)
}

func (rt *RecordType) String() string {
	names := make([]string, len(rt.Fields))
	for i, f := range rt.Fields {
		names[i] = f.Name + " " + f.Shape.String()
	}
	return rt.Name + "{" + strings.Join(names, ", ") + "}"
}
