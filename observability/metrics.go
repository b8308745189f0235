// Package observability provides counters for cache operations:
// GET/PUT/DELETE counts, transfer bytes, and failures by error kind.
package observability

import "sync/atomic"

// Metrics is the counter surface the server and client cores increment.
// It is a capability any collector can satisfy: the default
// atomic-counter implementation, or a future Prometheus exporter.
type Metrics interface {
	IncrementGet()
	IncrementPut()
	IncrementDelete()
	IncrementHeartbeat()
	IncrementGetHit()
	IncrementGetMiss()
	IncrementTransferFailure()
	IncrementPoolExhausted()
	IncrementBytesTransferred(n int64)

	GetCount() int64
	PutCount() int64
	DeleteCount() int64
	HeartbeatCount() int64
	GetHitCount() int64
	GetMissCount() int64
	TransferFailureCount() int64
	PoolExhaustedCount() int64
	BytesTransferred() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	gets, puts, deletes, heartbeats int64
	getHits, getMisses              int64
	transferFailures, poolExhausted int64
	bytesTransferred                int64
}

// NewDefaultMetrics creates a new DefaultMetrics instance.
func NewDefaultMetrics() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementGet()             { atomic.AddInt64(&m.gets, 1) }
func (m *DefaultMetrics) IncrementPut()             { atomic.AddInt64(&m.puts, 1) }
func (m *DefaultMetrics) IncrementDelete()          { atomic.AddInt64(&m.deletes, 1) }
func (m *DefaultMetrics) IncrementHeartbeat()       { atomic.AddInt64(&m.heartbeats, 1) }
func (m *DefaultMetrics) IncrementGetHit()          { atomic.AddInt64(&m.getHits, 1) }
func (m *DefaultMetrics) IncrementGetMiss()         { atomic.AddInt64(&m.getMisses, 1) }
func (m *DefaultMetrics) IncrementTransferFailure() { atomic.AddInt64(&m.transferFailures, 1) }
func (m *DefaultMetrics) IncrementPoolExhausted()   { atomic.AddInt64(&m.poolExhausted, 1) }
func (m *DefaultMetrics) IncrementBytesTransferred(n int64) {
	atomic.AddInt64(&m.bytesTransferred, n)
}

func (m *DefaultMetrics) GetCount() int64             { return atomic.LoadInt64(&m.gets) }
func (m *DefaultMetrics) PutCount() int64             { return atomic.LoadInt64(&m.puts) }
func (m *DefaultMetrics) DeleteCount() int64          { return atomic.LoadInt64(&m.deletes) }
func (m *DefaultMetrics) HeartbeatCount() int64       { return atomic.LoadInt64(&m.heartbeats) }
func (m *DefaultMetrics) GetHitCount() int64          { return atomic.LoadInt64(&m.getHits) }
func (m *DefaultMetrics) GetMissCount() int64         { return atomic.LoadInt64(&m.getMisses) }
func (m *DefaultMetrics) TransferFailureCount() int64 { return atomic.LoadInt64(&m.transferFailures) }
func (m *DefaultMetrics) PoolExhaustedCount() int64   { return atomic.LoadInt64(&m.poolExhausted) }
func (m *DefaultMetrics) BytesTransferred() int64     { return atomic.LoadInt64(&m.bytesTransferred) }
