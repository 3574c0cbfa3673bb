package signals

// SignalOption configures a Signal.
type SignalOption func(*signalOptions)

type signalOptions struct {
	// id pins the signal id instead of generating one.
	id string

	// local signals are neither registered nor mirrored.
	local bool
}

// WithID pins the signal id. Two contexts that create a signal with the
// same id mirror each other without an id exchange.
//
// Example:
//
//	count := signals.NewSignal(sc, 0, signals.WithID("count"))
func WithID(id string) SignalOption {
	return func(o *signalOptions) {
		o.id = id
	}
}

// Local marks a signal as context-private: it is not entered in the
// registry and emits no sync messages.
func Local() SignalOption {
	return func(o *signalOptions) {
		o.local = true
	}
}

func applyOptions(opts []SignalOption) signalOptions {
	var options signalOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
