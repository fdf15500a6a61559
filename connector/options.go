package connector

import (
	"github.com/rs/zerolog"

	"lscon-go/telemetry"
)

type settings struct {
	logger  zerolog.Logger
	metrics telemetry.Collector
}

type Option func(*settings)

// WithLogger provides the logger for connector and lease messages.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithCollector reports device, lease and control activity to c.
func WithCollector(c telemetry.Collector) Option {
	return func(s *settings) {
		if c != nil {
			s.metrics = c
		}
	}
}
