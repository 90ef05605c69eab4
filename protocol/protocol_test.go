package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		MsgType: MsgTypeRequest,
		Seq:     12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame length %d", buf.Len())
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %d, want %d", decodedHeader.MsgType, header.MsgType)
	}
	if decodedHeader.Seq != header.Seq {
		t.Errorf("Seq mismatch: got %d, want %d", decodedHeader.Seq, header.Seq)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", decodedBody, body)
	}
}

func TestHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeResponse, Seq: 7}, []byte{0xaa}); err != nil {
		t.Fatal(err)
	}
	want := []byte{'m', 'b', 'd', Version, byte(MsgTypeResponse), 0, 0, 0, 7, 0, 0, 0, 1, 0xaa}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("frame %x, want %x", buf.Bytes(), want)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"magic", []byte{0, 0, 0, Version, 2, 0, 0, 0, 1, 0, 0, 0, 0}, "invalid magic number"},
		{"version", []byte{'m', 'b', 'd', 0xff, 2, 0, 0, 0, 1, 0, 0, 0, 0}, "unsupported version"},
		{"msg type", []byte{'m', 'b', 'd', Version, 9, 0, 0, 0, 1, 0, 0, 0, 0}, "unsupported message type"},
		{"oversize", []byte{'m', 'b', 'd', Version, 2, 0, 0, 0, 1, 0xff, 0xff, 0xff, 0xff}, "exceeds limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Decode(bytes.NewReader(tc.frame))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	h, body, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if h.MsgType != MsgTypeHeartbeat || h.BodyLen != 0 || len(body) != 0 {
		t.Fatalf("unexpected heartbeat frame %+v %x", h, body)
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{MsgType: MsgTypeRequest, Seq: 1}, []byte("abcdef")); err != nil {
		t.Fatal(err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]
	_, _, err := Decode(bytes.NewReader(truncated))
	if errors.Cause(err) != io.ErrUnexpectedEOF {
		t.Fatalf("err = %v, want unexpected EOF", err)
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	if err := Encode(&buf, &Header{MsgType: MsgTypeRequest, Seq: 999}, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}
