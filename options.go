package interproc

import (
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

const (
	// DefaultProbeInterval is how often a client instance probes the
	// server for liveness.
	DefaultProbeInterval = 100 * time.Millisecond

	// DefaultDialTimeout bounds every connect, handshake read and send
	// write performed by the channel.
	DefaultDialTimeout = 2 * time.Second

	// DefaultEventBuffer is the capacity of the channel returned by
	// `Channel.Events`. When it is full, events are dropped and counted.
	DefaultEventBuffer = 64

	defaultListenHost = "127.0.0.1"
)

type config struct {
	app           string
	store         Store
	listenHost    string
	dialTimeout   time.Duration
	probeInterval time.Duration
	eventBuffer   int
	logHandler    slog.Handler
	msink         metrics.MetricSink
	metricLabels  []metrics.Label
}

// Option to pass to `New`.
type Option func(*config) error

// WithAppName overrides the application name used to derive the default
// descriptor path. It defaults to the executable's base name, so unrelated
// applications never contend on the same descriptor.
func WithAppName(app string) Option {
	return func(c *config) error {
		if app != "" {
			c.app = app
		}
		return nil
	}
}

// WithDescriptorStore substitutes the shared election state. The default
// is a `FileStore` at `DefaultDescriptorPath(app)`.
func WithDescriptorStore(store Store) Option {
	return func(c *config) error {
		c.store = store
		return nil
	}
}

// WithListenHost sets the local interface a server-role instance binds.
// The port is always ephemeral.
func WithListenHost(host string) Option {
	return func(c *config) error {
		if host != "" {
			c.listenHost = host
		}
		return nil
	}
}

// WithDialTimeout controls how much time we are willing to wait for any
// single network call.
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout > 0 {
			c.dialTimeout = timeout
		}
		return nil
	}
}

// WithProbeInterval controls the liveness polling period of a client
// instance.
func WithProbeInterval(interval time.Duration) Option {
	return func(c *config) error {
		if interval > 0 {
			c.probeInterval = interval
		}
		return nil
	}
}

// WithEventBuffer sets the capacity of the event channel.
func WithEventBuffer(n int) Option {
	return func(c *config) error {
		if n > 0 {
			c.eventBuffer = n
		}
		return nil
	}
}

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink allows you to choose how to collect the metrics emitted
// by the channel.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithMetricLabels adds static labels to all metrics produced by the
// channel.
func WithMetricLabels(labels []metrics.Label) Option {
	return func(c *config) error {
		c.metricLabels = labels
		return nil
	}
}
