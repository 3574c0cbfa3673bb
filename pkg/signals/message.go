package signals

// MessageType identifies a sync message.
type MessageType string

const (
	// MessageCreated announces a new signal and its initial value.
	MessageCreated MessageType = "signal-created"

	// MessageUpdate carries a committed write to an existing signal.
	MessageUpdate MessageType = "signal-update"
)

// Message is the wire unit exchanged with the mirrored context.
//
// Value holds the Go value on in-process transports. Transports that
// serialize decode it as json.RawMessage; the receiving signal converts it
// to its own type.
type Message struct {
	Type  MessageType `json:"type"`
	ID    string      `json:"id"`
	Value any         `json:"value"`
}

// Transport moves sync messages to and from the paired context.
//
// Send is fire-and-forget: a failed or dropped send only means the mirror
// goes stale until the next update. Listen installs the inbound handler;
// messages about the same id must be delivered in send order.
type Transport interface {
	Send(msg Message) error
	Listen(handler func(Message)) error
}

// TransportFunc adapts a send function into a Transport with no inbound
// side. Useful for taps and tests.
type TransportFunc func(msg Message) error

// Send implements Transport.
func (f TransportFunc) Send(msg Message) error { return f(msg) }

// Listen implements Transport. TransportFunc never delivers messages.
func (f TransportFunc) Listen(func(Message)) error { return nil }
