// Package clientconf holds the client core's functional-options
// configuration, mirroring serverconf/options.go.
package clientconf

import (
	"time"

	"go.uber.org/zap"

	"github.com/nvbkdw/kv-rdma-poc/observability"
)

const (
	// DefaultReceiveBufferBytes is the client's receive pool capacity (1
	// MiB, sized to comfortably hold DefaultMaxValueSize).
	DefaultReceiveBufferBytes = 1 << 20
	// DefaultMaxValueSize is the per-GET slot ceiling; larger values fail
	// with BufferTooSmall.
	DefaultMaxValueSize = 1 << 20
	// DefaultInlineValueThreshold mirrors serverconf's PUT inline cutover.
	DefaultInlineValueThreshold = 64 << 10
	// DefaultNumDomains is the default number of NICs the client exposes.
	DefaultNumDomains = 1
	// DefaultTransportDriver selects the mock transport unless overridden.
	DefaultTransportDriver = "mock"
	// DefaultConnectTimeout bounds how long Connect waits to dial the
	// server and receive a RegisterClient reply.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds how long a single GET/PUT/DELETE waits
	// for its reply before the client reaps the pending request.
	DefaultRequestTimeout = 30 * time.Second
)

// Option configures a Config.
type Option func(*Config)

// Config holds the client's runtime settings.
type Config struct {
	ClientID uint32

	ReceiveBufferBytes   uint64
	MaxValueSize         uint64
	InlineValueThreshold uint64
	NumDomains           int

	TransportDriver string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	Logger  *zap.SugaredLogger
	Metrics observability.Metrics
}

// Apply builds a Config from the given options on top of defaults.
func Apply(opts ...Option) *Config {
	cfg := &Config{
		ReceiveBufferBytes:   DefaultReceiveBufferBytes,
		MaxValueSize:         DefaultMaxValueSize,
		InlineValueThreshold: DefaultInlineValueThreshold,
		NumDomains:           DefaultNumDomains,
		TransportDriver:      DefaultTransportDriver,
		ConnectTimeout:       DefaultConnectTimeout,
		RequestTimeout:       DefaultRequestTimeout,
		Logger:               zap.NewNop().Sugar(),
		Metrics:              observability.NewDefaultMetrics(),
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithClientID sets this client's identity, sent on RegisterClient.
func WithClientID(id uint32) Option {
	return func(c *Config) { c.ClientID = id }
}

// WithReceiveBufferBytes sets the client's receive pool capacity.
func WithReceiveBufferBytes(n uint64) Option {
	return func(c *Config) {
		if n > 0 {
			c.ReceiveBufferBytes = n
		}
	}
}

// WithMaxValueSize overrides the per-GET slot ceiling.
func WithMaxValueSize(n uint64) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxValueSize = n
		}
	}
}

// WithInlineValueThreshold overrides the PUT inline-vs-RDMA cutover.
func WithInlineValueThreshold(n uint64) Option {
	return func(c *Config) {
		if n > 0 {
			c.InlineValueThreshold = n
		}
	}
}

// WithNumDomains sets how many NICs (transport domains) this client
// exposes.
func WithNumDomains(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.NumDomains = n
		}
	}
}

// WithTransportDriver selects the registered transport.Factory by name.
func WithTransportDriver(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.TransportDriver = name
		}
	}
}

// WithConnectTimeout bounds Connect's dial+register round trip.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ConnectTimeout = d
		}
	}
}

// WithRequestTimeout bounds a single GET/PUT/DELETE round trip.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.RequestTimeout = d
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

// WithMetrics injects a custom Metrics collector.
func WithMetrics(m observability.Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.Metrics = m
		}
	}
}
