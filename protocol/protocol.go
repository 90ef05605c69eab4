// Package protocol implements the envelope that carries binder frames over a
// byte stream (a UNIX socket or TCP connection).
//
// A fixed 13-byte header precedes each body so the receiver can read exactly
// one frame at a time:
//
//	0      3  4  5         9         13
//	┌──────┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │mt│   seq   │ bodyLen │    body ...    │
//	│ mbd  │01│  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Magic bytes "mbd" reject peers that do not speak the protocol.
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x62 // 'b'
	MagicByte3  byte = 0x64 // 'd'
	Version     byte = 0x01
	HeaderSize  int  = 13 // 3 (magic) + 1 (version) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the allocation made for a single frame.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType tells the receiver how to interpret the body.
type MsgType byte

const (
	MsgTypeAttach      MsgType = 0 // Client → Server: body is the target name (codec text)
	MsgTypeAttachReply MsgType = 1 // Server → Client: response frame, success payload is the server identity
	MsgTypeRequest     MsgType = 2 // Client → Server: call frame
	MsgTypeResponse    MsgType = 3 // Server → Client: response frame
	MsgTypeHeartbeat   MsgType = 4 // KeepAlive probe (no body)
)

func (t MsgType) valid() bool { return t <= MsgTypeHeartbeat }

// Header is the fixed frame header.
type Header struct {
	MsgType MsgType
	Seq     uint32 // responses echo the seq of their request
	BodyLen uint32
}

// Encode writes a complete frame (header + body) to w in a single Write.
// Callers sharing w between goroutines must serialize calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return errors.Errorf("frame body of %d bytes exceeds limit", len(body))
	}
	buf := make([]byte, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicNumber, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[5:9], h.Seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, errors.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, errors.Errorf("unsupported version: %d", headerBuf[3])
	}
	msgType := MsgType(headerBuf[4])
	if !msgType.valid() {
		return nil, nil, errors.Errorf("unsupported message type: %d", headerBuf[4])
	}

	seq := binary.BigEndian.Uint32(headerBuf[5:9])
	bodyLen := binary.BigEndian.Uint32(headerBuf[9:13])
	if bodyLen > MaxBodyLen {
		return nil, nil, errors.Errorf("frame body of %d bytes exceeds limit", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, errors.Wrap(err, "read frame body")
	}

	return &Header{
		MsgType: msgType,
		Seq:     seq,
		BodyLen: bodyLen,
	}, body, nil
}
