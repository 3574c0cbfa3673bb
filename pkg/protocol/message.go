package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vango-dev/sigsync/pkg/signals"
)

// ErrInvalidMessage is returned for sync payloads missing a type or id.
var ErrInvalidMessage = errors.New("protocol: invalid sync message")

// wireMessage mirrors signals.Message with the value left undecoded.
type wireMessage struct {
	Type  signals.MessageType `json:"type"`
	ID    string              `json:"id"`
	Value json.RawMessage     `json:"value"`
}

// EncodeMessage encodes msg as a sync payload.
func EncodeMessage(msg signals.Message) ([]byte, error) {
	if msg.Type == "" || msg.ID == "" {
		return nil, ErrInvalidMessage
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s %s: %w", msg.Type, msg.ID, err)
	}
	return data, nil
}

// DecodeMessage decodes a sync payload. The value is returned as
// json.RawMessage; a missing value decodes as nil.
func DecodeMessage(data []byte) (signals.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return signals.Message{}, fmt.Errorf("protocol: decode sync message: %w", err)
	}
	if wm.Type == "" || wm.ID == "" {
		return signals.Message{}, ErrInvalidMessage
	}

	msg := signals.Message{Type: wm.Type, ID: wm.ID}
	if len(wm.Value) > 0 && string(wm.Value) != "null" {
		msg.Value = wm.Value
	}
	return msg, nil
}

// EncodeSyncFrame encodes msg wrapped in a FrameSync frame.
func EncodeSyncFrame(msg signals.Message, flags FrameFlags) ([]byte, error) {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	f := &Frame{Type: FrameSync, Flags: flags, Payload: payload}
	return f.Encode()
}
