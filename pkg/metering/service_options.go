package metering

import (
	"log/slog"
	"time"
)

// Option configures a Service instance.
type Option func(*service)

// WithLogger sets the logger used for background-correction failures.
// Nil loggers are ignored; the default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source. Intended for tests that need to walk
// a subscription past its period end deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}
