package infra

import (
	"sync"
	"sync/atomic"
	"time"

	"trade_sim/internal/domain"
)

const (
	// latencyAlpha weights the newest cycle in the latency EWMA.
	latencyAlpha = 0.2
	// rateWindow is how many complete seconds the update rate averages over.
	rateWindow = 5
)

type rateBucket struct {
	sec   atomic.Int64
	count atomic.Uint64
}

// Metrics aggregates per-session pipeline health. Writers serialize on a
// mutex and publish a complete snapshot after every change, so readers get
// mutually consistent counters without locking.
type Metrics struct {
	mu        sync.Mutex
	cur       domain.MetricsSnapshot // guarded by mu
	published atomic.Pointer[domain.MetricsSnapshot]

	startedNs atomic.Int64
	buckets   [rateWindow + 1]rateBucket

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// NewMetrics creates an aggregator whose rate window starts now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.Reset()
	return m
}

func (m *Metrics) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// update applies fn to the working snapshot and publishes a copy.
func (m *Metrics) update(fn func(s *domain.MetricsSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.cur)
	snap := m.cur
	m.published.Store(&snap)
}

// RecordCycle records one processed update from receipt to estimate.
func (m *Metrics) RecordCycle(started, finished time.Time) {
	ms := float64(finished.Sub(started)) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	m.update(func(s *domain.MetricsSnapshot) {
		if s.UpdatesTotal > 0 {
			ms = latencyAlpha*ms + (1-latencyAlpha)*s.InternalLatencyMs
		}
		s.InternalLatencyMs = ms
		s.UpdatesTotal++
		s.LastCycleAt = finished
	})

	sec := finished.Unix()
	b := &m.buckets[int(uint64(sec)%uint64(len(m.buckets)))]
	if b.sec.Load() != sec {
		b.count.Store(0)
		b.sec.Store(sec)
	}
	b.count.Add(1)
}

// RecordError counts an error and keeps its message as LastError.
func (m *Metrics) RecordError(err error) {
	if err == nil {
		return
	}
	m.update(func(s *domain.MetricsSnapshot) {
		s.ErrorsTotal++
		s.LastError = err.Error()
	})
}

// RecordResync counts a resync of the book.
func (m *Metrics) RecordResync() {
	m.update(func(s *domain.MetricsSnapshot) { s.Resyncs++ })
}

// RecordDrop counts feed events lost to queue overflow.
func (m *Metrics) RecordDrop(n uint64) {
	m.update(func(s *domain.MetricsSnapshot) { s.Drops += n })
}

// RecordReconnect counts a reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.update(func(s *domain.MetricsSnapshot) { s.Reconnects++ })
}

// SetConnectionState publishes the session state.
func (m *Metrics) SetConnectionState(st domain.ConnectionState) {
	m.update(func(s *domain.MetricsSnapshot) { s.ConnectionState = st })
}

// ConnectionState returns the last published session state.
func (m *Metrics) ConnectionState() domain.ConnectionState {
	if s := m.published.Load(); s != nil {
		return s.ConnectionState
	}
	return domain.ConnectionState{Status: domain.Disconnected}
}

// UpdatesPerSecond averages cycles over the last complete seconds. Before a
// full second has elapsed it returns the count of the current second.
func (m *Metrics) UpdatesPerSecond() float64 {
	nowSec := m.now().Unix()
	span := int64(rateWindow)
	if started := m.startedNs.Load(); started != 0 {
		if elapsed := nowSec - time.Unix(0, started).Unix(); elapsed < span {
			span = elapsed
		}
	}

	if span <= 0 {
		b := &m.buckets[int(uint64(nowSec)%uint64(len(m.buckets)))]
		if b.sec.Load() == nowSec {
			return float64(b.count.Load())
		}
		return 0
	}

	var total uint64
	for i := range m.buckets {
		b := &m.buckets[i]
		sec := b.sec.Load()
		if sec >= nowSec-span && sec < nowSec {
			total += b.count.Load()
		}
	}
	return float64(total) / float64(span)
}

// Snapshot returns the last published metrics with the current update rate.
func (m *Metrics) Snapshot() domain.MetricsSnapshot {
	var snap domain.MetricsSnapshot
	if p := m.published.Load(); p != nil {
		snap = *p
	} else {
		snap.ConnectionState = domain.ConnectionState{Status: domain.Disconnected}
	}
	snap.UpdatesPerSecond = m.UpdatesPerSecond()
	snap.Timestamp = m.now()
	return snap
}

// Reset clears all metrics. Called when a session starts.
func (m *Metrics) Reset() {
	for i := range m.buckets {
		m.buckets[i].count.Store(0)
		m.buckets[i].sec.Store(0)
	}
	m.startedNs.Store(m.now().UnixNano())
	m.update(func(s *domain.MetricsSnapshot) {
		*s = domain.MetricsSnapshot{ConnectionState: domain.ConnectionState{Status: domain.Disconnected}}
	})
}
