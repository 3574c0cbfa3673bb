package signals

import (
	"log/slog"
)

// ErrorHandler receives every recovered subscriber error.
type ErrorHandler func(err *SubscriberError)

// SafeCall runs fn and recovers any panic it raises. The panic is logged
// and returned as a *SubscriberError; it never propagates to the caller.
func SafeCall(logger *slog.Logger, source string, fn func()) (err error) {
	return safeCall(logger, nil, source, fn)
}

func safeCall(logger *slog.Logger, hook ErrorHandler, source string, fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		serr := &SubscriberError{Source: source, Value: r}
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("subscriber panicked", "source", source, "error", r)
		if hook != nil {
			hook(serr)
		}
		err = serr
	}()
	fn()
	return nil
}
