package nasc

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option is a function that configures a Nasc container.
type Option func(*Nasc) error

// WithLogger sets the logger used for scope lifecycle events.
// The default logger discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Nasc) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		n.logger = logger
		return nil
	}
}

// WithConfig applies a Config. Options that follow it can still override single fields.
func WithConfig(cfg Config) Option {
	return func(n *Nasc) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		n.config = cfg
		return nil
	}
}

// WithTransitiveLinks makes resolution follow the links of linked scopes
// (depth first, each scope visited at most once).
func WithTransitiveLinks() Option {
	return func(n *Nasc) error {
		n.config.TransitiveLinks = true
		return nil
	}
}

// WithMetrics registers the container's collectors with the given registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(n *Nasc) error {
		if registerer == nil {
			return fmt.Errorf("metrics registerer cannot be nil")
		}
		n.registerer = registerer
		return nil
	}
}
