// Package serverconf holds the server core's functional-options
// configuration.
package serverconf

import (
	"time"

	"github.com/raulk/clock"
	"go.uber.org/zap"

	"github.com/nvbkdw/kv-rdma-poc/observability"
	"github.com/nvbkdw/kv-rdma-poc/pool"
)

const (
	// DefaultMemoryBytes is the server pool's default capacity (16 MiB).
	DefaultMemoryBytes = 16 << 20
	// DefaultNumDomains is the default number of NICs (transport domains)
	// a server exposes.
	DefaultNumDomains = 1
	// DefaultWorkerThreads matches the CLI's --worker-threads default.
	DefaultWorkerThreads = 4
	// DefaultTransportDriver selects the mock transport unless overridden.
	DefaultTransportDriver = "mock"
	// DefaultAcceptPoll is the retry backoff between failed Accept calls.
	DefaultAcceptPoll = 1 * time.Second
	// DefaultIdleTimeout is how long a registered client may go without a
	// heartbeat before the registry janitor reports it as stale.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultInlineValueThreshold is the PUT inline-vs-RDMA cutover.
	DefaultInlineValueThreshold = 64 << 10
)

// Option configures a Config.
type Option func(*Config)

// Config holds the server's runtime settings. Zero value is never used
// directly; build one via Apply(opts...).
type Config struct {
	NodeID uint32

	MemoryBytes uint64
	Alignment   uint64
	NumDomains  int

	TransportDriver string

	WorkerThreads int

	InlineValueThreshold uint64

	AcceptPoll  time.Duration
	IdleTimeout time.Duration

	Logger  *zap.SugaredLogger
	Metrics observability.Metrics
	Clock   clock.Clock
}

// Apply builds a Config from the given options on top of defaults.
func Apply(opts ...Option) *Config {
	cfg := &Config{
		MemoryBytes:          DefaultMemoryBytes,
		Alignment:            pool.DefaultAlignment,
		NumDomains:           DefaultNumDomains,
		TransportDriver:      DefaultTransportDriver,
		WorkerThreads:        DefaultWorkerThreads,
		InlineValueThreshold: DefaultInlineValueThreshold,
		AcceptPoll:           DefaultAcceptPoll,
		IdleTimeout:          DefaultIdleTimeout,
		Logger:               zap.NewNop().Sugar(),
		Metrics:              observability.NewDefaultMetrics(),
		Clock:                clock.New(),
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithNodeID sets this server's node identity, returned to clients on
// RegisterClient.
func WithNodeID(id uint32) Option {
	return func(c *Config) { c.NodeID = id }
}

// WithMemoryBytes sets the pinned pool's total capacity.
func WithMemoryBytes(n uint64) Option {
	return func(c *Config) {
		if n > 0 {
			c.MemoryBytes = n
		}
	}
}

// WithAlignment overrides the pool's allocation alignment.
func WithAlignment(n uint64) Option {
	return func(c *Config) {
		if n > 0 {
			c.Alignment = n
		}
	}
}

// WithNumDomains sets how many NICs (transport domains) this server
// exposes.
func WithNumDomains(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.NumDomains = n
		}
	}
}

// WithTransportDriver selects the registered transport.Factory by name
// ("mock" or a future real-fabric driver).
func WithTransportDriver(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.TransportDriver = name
		}
	}
}

// WithWorkerThreads sizes the fixed worker pool request handling is
// dispatched onto.
func WithWorkerThreads(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.WorkerThreads = n
		}
	}
}

// WithInlineValueThreshold overrides the PUT inline-vs-RDMA-read cutover.
func WithInlineValueThreshold(n uint64) Option {
	return func(c *Config) {
		if n > 0 {
			c.InlineValueThreshold = n
		}
	}
}

// WithAcceptPoll sets the retry backoff after a failed Accept.
func WithAcceptPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.AcceptPoll = d
		}
	}
}

// WithIdleTimeout sets the grace period after which the registry janitor
// reports a client with no recent heartbeat.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.IdleTimeout = d
		}
	}
}

// WithLogger injects a structured logger; the default is a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics injects a custom Metrics collector; the default is an
// atomic-counter DefaultMetrics.
func WithMetrics(m observability.Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}

// WithClock injects the clock the cache index uses for CreatedAt stamps and
// TTL expiry checks. Tests substitute clock.NewMock() to fast-forward past a
// TTL instead of sleeping real wall-clock time.
func WithClock(c2 clock.Clock) Option {
	return func(c *Config) {
		if c2 != nil {
			c.Clock = c2
		}
	}
}
