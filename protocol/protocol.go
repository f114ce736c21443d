// Package protocol delimits bridge messages on a stream connection.
//
// Each request or reply body travels in one frame: a fixed 13-byte header
// followed by the body. The receiver reads the header first to learn the body
// length, then reads exactly that many bytes, so a malformed body never
// desynchronises the stream.
//
// Frame format:
//
//	0      3  4  5         9        13
//	┌──────┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │mt│   seq   │ bodyLen │    body ...    │
//	│ mbr  │01│  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x62 // 'b'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x01
	HeaderSize  int  = 13 // 3 (magic) + 1 (version) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the body a peer may announce.
	MaxBodyLen uint32 = 64 << 20
)

// MsgType distinguishes request, reply and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0
	MsgTypeReply     MsgType = 1
	MsgTypeHeartbeat MsgType = 2 // no body
)

// Header is the fixed frame header.
type Header struct {
	MsgType MsgType
	Seq     uint32 // matches a reply to its request
	BodyLen uint32
}

// Encode writes a frame to w. Callers sharing w must serialise calls.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("body length %d does not match header %d", len(body), h.BodyLen)
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[5:9], h.Seq)
	binary.BigEndian.PutUint32(buf[9:13], h.BodyLen)
	// one write per frame
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads one frame from r, validating magic, version, message type and length.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	msgType := MsgType(headerBuf[4])
	if msgType != MsgTypeRequest && msgType != MsgTypeReply && msgType != MsgTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[5:9])
	bodyLen := binary.BigEndian.Uint32(headerBuf[9:13])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("body length %d exceeds limit %d", bodyLen, MaxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return &Header{MsgType: msgType, Seq: seq, BodyLen: bodyLen}, body, nil
}
