package protocol

import "encoding/json"

// ErrorCode identifies the type of error.
type ErrorCode uint16

const (
	ErrUnknown       ErrorCode = 0x0000 // Unknown error
	ErrInvalidFrame  ErrorCode = 0x0001 // Malformed frame
	ErrInvalidSync   ErrorCode = 0x0002 // Malformed sync payload
	ErrRateLimited   ErrorCode = 0x0006 // Too many messages
	ErrServerError   ErrorCode = 0x0100 // Internal server error
	ErrNotAuthorized ErrorCode = 0x0101 // Not authorized
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrInvalidFrame:
		return "InvalidFrame"
	case ErrInvalidSync:
		return "InvalidSync"
	case ErrRateLimited:
		return "RateLimited"
	case ErrServerError:
		return "ServerError"
	case ErrNotAuthorized:
		return "NotAuthorized"
	default:
		return "Unknown"
	}
}

// ErrorMessage is sent in a FrameError when a peer rejects input.
type ErrorMessage struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Fatal   bool      `json:"fatal,omitempty"`
}

// EncodeErrorMessage encodes an ErrorMessage to bytes.
func EncodeErrorMessage(em ErrorMessage) []byte {
	data, _ := json.Marshal(em)
	return data
}

// DecodeErrorMessage decodes an ErrorMessage from bytes.
func DecodeErrorMessage(data []byte) (ErrorMessage, error) {
	var em ErrorMessage
	err := json.Unmarshal(data, &em)
	return em, err
}
