package protocol

import (
	"encoding/binary"
	"io"
)

// ControlType identifies the type of control message.
type ControlType uint8

const (
	ControlPing  ControlType = 0x01 // Ping
	ControlPong  ControlType = 0x02 // Response to ping
	ControlReady ControlType = 0x10 // Late-join snapshot fully sent
	ControlClose ControlType = 0x20 // Peer is closing
)

// String returns the string representation of the control type.
func (ct ControlType) String() string {
	switch ct {
	case ControlPing:
		return "Ping"
	case ControlPong:
		return "Pong"
	case ControlReady:
		return "Ready"
	case ControlClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// Control is a decoded control payload. Timestamp is unix milliseconds for
// ping and pong and zero for ready and close.
type Control struct {
	Type      ControlType
	Timestamp uint64
}

// EncodeControl encodes a control payload: 1 type byte + 8-byte timestamp.
func EncodeControl(c Control) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(c.Type)
	binary.BigEndian.PutUint64(buf[1:], c.Timestamp)
	return buf
}

// DecodeControl decodes a control payload.
func DecodeControl(data []byte) (Control, error) {
	if len(data) < 9 {
		return Control{}, io.ErrUnexpectedEOF
	}
	return Control{
		Type:      ControlType(data[0]),
		Timestamp: binary.BigEndian.Uint64(data[1:9]),
	}, nil
}
