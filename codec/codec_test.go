package codec

import (
	"bytes"
	"math"
	"testing"

	"mini-binder/rpcerr"
)

// point is a two-field record used to exercise the record contract.
type point struct{ x, y int32 }

var pointType = &RecordType{
	Name:   "point",
	Fields: []Field{{"x", Int32}, {"y", Int32}},
}

func init() {
	pointType.Build = func(v []any) (Record, error) {
		return point{x: v[0].(int32), y: v[1].(int32)}, nil
	}
}

func (p point) RecordType() *RecordType { return pointType }
func (p point) RecordFields() []any     { return []any{p.x, p.y} }

func TestRoundTrip(t *testing.T) {
	cases := []any{
		int32(0), int32(-1), int32(math.MaxInt32), int32(math.MinInt32),
		int64(123), int64(math.MinInt64), int64(math.MaxInt64),
		true, false,
		float32(123.4), float32(-0.5), float32(math.MaxFloat32),
		float64(123.45), math.Inf(-1), math.SmallestNonzeroFloat64,
		"", "hello", "服务端你好，我是客户端",
		point{1, 2}, point{-7, math.MaxInt32},
	}

	for _, want := range cases {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", want, err)
		}
		shape, _ := ShapeOf(want)
		got, err := Decode(data, shape)
		if err != nil {
			t.Fatalf("Decode(%v) failed: %v", want, err)
		}
		if got != want {
			t.Errorf("round trip mismatch: got %#v, want %#v", got, want)
		}
	}
}

func TestNaNRoundTripKeepsBits(t *testing.T) {
	nan := math.Float64frombits(0x7ff8000000000001)
	data, err := Encode(nan)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data, Float64)
	if err != nil {
		t.Fatal(err)
	}
	if math.Float64bits(got.(float64)) != math.Float64bits(nan) {
		t.Fatalf("NaN bits changed: %x", math.Float64bits(got.(float64)))
	}
}

func TestEncodingLayout(t *testing.T) {
	cases := []struct {
		value any
		want  []byte
	}{
		{int32(1), []byte{0, 0, 0, 1}},
		{int32(-2), []byte{0xff, 0xff, 0xff, 0xfe}},
		{int64(123), []byte{0, 0, 0, 0, 0, 0, 0, 123}},
		{true, []byte{1}},
		{false, []byte{0}},
		{float32(1), []byte{0x3f, 0x80, 0, 0}},
		{"ab", []byte{0, 0, 0, 2, 'a', 'b'}},
		{point{1, 2}, []byte{0, 0, 0, 1, 0, 0, 0, 2}},
	}
	for _, tc := range cases {
		got, err := Encode(tc.value)
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", tc.value, err)
		}
		if !bytes.Equal(got, tc.want) {
			t.Errorf("Encode(%v) = %x, want %x", tc.value, got, tc.want)
		}
		again, _ := Encode(tc.value)
		if !bytes.Equal(got, again) {
			t.Errorf("Encode(%v) is not deterministic", tc.value)
		}
	}
}

func TestDecodeFailures(t *testing.T) {
	cases := []struct {
		name  string
		data  []byte
		shape Shape
		kind  rpcerr.Kind
	}{
		{"short int32", []byte{0, 1}, Int32, rpcerr.KindMalformedPayload},
		{"short int64", []byte{0, 0, 0, 0}, Int64, rpcerr.KindMalformedPayload},
		{"bad bool", []byte{2}, Bool, rpcerr.KindMalformedPayload},
		{"text shorter than prefix", []byte{0, 0, 0, 5, 'a', 'b'}, Text, rpcerr.KindMalformedPayload},
		{"text not utf8", []byte{0, 0, 0, 1, 0xff}, Text, rpcerr.KindMalformedPayload},
		{"trailing bytes", []byte{0, 0, 0, 1, 9}, Int32, rpcerr.KindMalformedPayload},
		{"record missing field", []byte{0, 0, 0, 1, 0, 0}, RecordShape(pointType), rpcerr.KindMalformedPayload},
		{"record trailing", []byte{0, 0, 0, 1, 0, 0, 0, 2, 0}, RecordShape(pointType), rpcerr.KindMalformedPayload},
		{"unknown shape", []byte{0}, Shape{Kind: Kind(42)}, rpcerr.KindTypeMismatch},
		{"record without type", []byte{0}, Shape{Kind: KindRecord}, rpcerr.KindTypeMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.data, tc.shape)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := rpcerr.KindOf(err); got != tc.kind {
				t.Fatalf("kind = %v, want %v (%v)", got, tc.kind, err)
			}
		})
	}
}

func TestWriteValueMismatch(t *testing.T) {
	cases := []struct {
		shape Shape
		value any
	}{
		{Int32, 12},
		{Int64, int32(1)},
		{Text, []byte("x")},
		{RecordShape(pointType), "point"},
		{None, int32(1)},
		{Text, string([]byte{0xff})},
	}
	for _, tc := range cases {
		_, err := EncodeAs(tc.shape, tc.value)
		if !rpcerr.Is(err, rpcerr.KindTypeMismatch) {
			t.Errorf("EncodeAs(%v, %#v) err = %v, want TypeMismatch", tc.shape, tc.value, err)
		}
	}
}

func TestDecoderSequence(t *testing.T) {
	e := NewEncoder(0)
	e.WriteInt32(12)
	e.WriteInt64(123)
	e.WriteBool(true)
	if err := e.WriteText("x"); err != nil {
		t.Fatal(err)
	}

	d := NewDecoder(e.Bytes())
	if v, _ := d.ReadInt32(); v != 12 {
		t.Fatalf("int32 = %d", v)
	}
	if v, _ := d.ReadInt64(); v != 123 {
		t.Fatalf("int64 = %d", v)
	}
	if v, _ := d.ReadBool(); !v {
		t.Fatal("bool = false")
	}
	if v, _ := d.ReadText(); v != "x" {
		t.Fatalf("text = %q", v)
	}
	if err := d.Finish(); err != nil {
		t.Fatal(err)
	}
}

func BenchmarkEncodeRecord(b *testing.B) {
	p := point{3, -4}
	for i := 0; i < b.N; i++ {
		if _, err := Encode(p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeRecord(b *testing.B) {
	data, err := Encode(point{3, -4})
	if err != nil {
		b.Fatal(err)
	}
	s := RecordShape(pointType)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(data, s); err != nil {
			b.Fatal(err)
		}
	}
}
