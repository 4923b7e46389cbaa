package client

import (
	"github.com/rs/zerolog"
)

// Option is a function that configures a Service
type Option func(*Service)

// WithDialer replaces the WebSocket dialer. Tests use this to run the
// service against an in-memory transport.
func WithDialer(d Dialer) Option {
	return func(s *Service) {
		s.dialer = d
	}
}

// WithLogger replaces the service logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
