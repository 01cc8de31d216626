package telaio

import (
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

type config struct {
	logHandler      slog.Handler
	msink           metrics.MetricSink
	metricLabels    []metrics.Label
	registry        *Registry
	integrityChecks bool
}

// Option to pass to `New`.
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to choose how to collect the metrics emitted by
// the engine and its runloops.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the engine.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}

// WithRegistry sets the addon registry used to instantiate graph nodes.
func WithRegistry(r *Registry) Option {
	return func(c *config) error {
		if r == nil {
			return fmt.Errorf("%w: nil registry", ErrInvalidCfg)
		}
		c.registry = r
		return nil
	}
}

// WithoutIntegrityChecks disables goroutine-ownership assertions. The checks
// are on by default and MUST stay on in tests; disabling them only removes
// the detection of wrong-goroutine access, never the bug itself.
func WithoutIntegrityChecks() Option {
	return func(c *config) error {
		c.integrityChecks = false
		return nil
	}
}
