// Package protocol implements the framing used by stream transports to
// carry sigsync messages.
//
// # Wire Format
//
// Every message is framed with a 4-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (2 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameSync (0x01): one JSON-encoded signals.Message
//   - FrameControl (0x03): ping, pong and close
//   - FrameError (0x05): error report from the peer
//
// # Sync Payload
//
// The sync payload is the JSON object the paired context exchanges:
//
//	{"type":"signal-update","id":"a1B2c3D4","value":42}
//
// DecodeMessage keeps the value as json.RawMessage so each signal decodes
// it into its own type.
package protocol
