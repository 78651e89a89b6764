package nasc

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution outcomes reported in the resolutions_total counter.
const (
	outcomeHit     = "hit"
	outcomeCreated = "created"
	outcomeFactory = "factory"
	outcomeLinked  = "linked"
	outcomeMiss    = "miss"
	outcomeError   = "error"
)

// metrics holds the Prometheus collectors of a container.
type metrics struct {
	scopesCreated  prometheus.Counter
	scopesClosed   prometheus.Counter
	scopesOpen     prometheus.Gauge
	resolutions    *prometheus.CounterVec
	disposalErrors prometheus.Counter
}

// newMetrics creates the collectors. They count even when never registered.
func newMetrics(namespace string) *metrics {
	return &metrics{
		scopesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scopes_created_total",
			Help:      "Total number of scopes created.",
		}),
		scopesClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scopes_closed_total",
			Help:      "Total number of scopes closed.",
		}),
		scopesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scopes_open",
			Help:      "Number of scopes currently open.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of resolutions by outcome.",
		}, []string{"outcome"}),
		disposalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disposal_errors_total",
			Help:      "Total number of disposal failures while closing scopes.",
		}),
	}
}

// register registers every collector. Collectors already registered by another
// container with the same namespace are shared.
func (m *metrics) register(reg prometheus.Registerer) error {
	var err error
	if m.scopesCreated, err = registerCollector(reg, m.scopesCreated); err != nil {
		return err
	}
	if m.scopesClosed, err = registerCollector(reg, m.scopesClosed); err != nil {
		return err
	}
	if m.scopesOpen, err = registerCollector(reg, m.scopesOpen); err != nil {
		return err
	}
	if m.resolutions, err = registerCollector(reg, m.resolutions); err != nil {
		return err
	}
	if m.disposalErrors, err = registerCollector(reg, m.disposalErrors); err != nil {
		return err
	}
	return nil
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) resolved(outcome string) {
	m.resolutions.WithLabelValues(outcome).Inc()
}
