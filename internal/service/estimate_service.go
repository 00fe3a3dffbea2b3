package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/infra/publish"
	"trade_sim/internal/infra/storage"
)

// NotificationSource is the session surface the service consumes.
// engine.Session implements it.
type NotificationSource interface {
	ID() string
	Subscribe(buffer int) (<-chan engine.Notification, func())
	CurrentMetrics() domain.MetricsSnapshot
}

// EstimateSink persists estimate history. *storage.Storage implements it.
type EstimateSink interface {
	SaveEstimates(ctx context.Context, recs []*storage.EstimateRecord) error
	PruneEstimates(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher fans estimates out to other processes. *publish.RedisPublisher implements it.
type Publisher interface {
	PublishEstimate(ctx context.Context, msg publish.EstimateMessage) error
	StoreMetrics(ctx context.Context, sessionID string, m domain.MetricsSnapshot) error
}

// Options tunes an EstimateService.
type Options struct {
	Symbol          string
	BatchSize       int
	FlushInterval   time.Duration
	MetricsInterval time.Duration
	Buffer          int

	// Retention deletes stored estimates older than this; 0 keeps them all.
	Retention     time.Duration
	PruneInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = 5 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 1000 // 버스트 대응
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = time.Hour
	}
	return o
}

// Stats counts what the service has done since it started.
type Stats struct {
	Received  uint64
	Persisted uint64
	Published uint64
	Pruned    uint64
	Failures  uint64
}

// EstimateService drains session notifications into history storage and
// the publisher. Either may be nil.
type EstimateService struct {
	source NotificationSource
	sink   EstimateSink
	pub    Publisher
	opts   Options

	subOnce     sync.Once
	notes       <-chan engine.Notification
	unsubscribe func()

	mu      sync.RWMutex
	pending []*storage.EstimateRecord
	latest  *domain.CostEstimate
	lastErr error
	stats   Stats
}

// NewEstimateService creates a service. Call Run to start it.
func NewEstimateService(source NotificationSource, sink EstimateSink, pub Publisher, opts Options) *EstimateService {
	opts = opts.withDefaults()
	return &EstimateService{
		source:  source,
		sink:    sink,
		pub:     pub,
		opts:    opts,
		pending: make([]*storage.EstimateRecord, 0, opts.BatchSize),
	}
}

// Latest returns the last estimate seen, or false after a failed recompute.
func (s *EstimateService) Latest() (domain.CostEstimate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return domain.CostEstimate{}, false
	}
	return *s.latest, true
}

// LastError returns the last estimation failure, nil once a new estimate arrives.
func (s *EstimateService) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Stats returns a copy of the counters.
func (s *EstimateService) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Subscribe attaches to the session. Call it before starting the session so
// no early notification is missed; Run subscribes itself otherwise.
func (s *EstimateService) Subscribe() {
	s.subOnce.Do(func() {
		s.notes, s.unsubscribe = s.source.Subscribe(s.opts.Buffer)
	})
}

// Run consumes notifications until ctx is done or the subscription closes.
// Pending records are flushed before it returns.
func (s *EstimateService) Run(ctx context.Context) error {
	s.Subscribe()
	notes := s.notes
	defer s.unsubscribe()

	flush := time.NewTicker(s.opts.FlushInterval)
	defer flush.Stop()
	metrics := time.NewTicker(s.opts.MetricsInterval)
	defer metrics.Stop()

	var prune <-chan time.Time
	if s.sink != nil && s.opts.Retention > 0 {
		s.prune(ctx)
		t := time.NewTicker(s.opts.PruneInterval)
		defer t.Stop()
		prune = t.C
	}

	for {
		select {
		case <-ctx.Done():
			s.shutdown(notes)
			return nil
		case n, ok := <-notes:
			if !ok {
				s.shutdown(nil)
				return nil
			}
			s.process(ctx, n)
		case <-flush.C:
			s.flush(ctx)
		case <-metrics.C:
			s.storeMetrics(ctx)
		case <-prune:
			s.prune(ctx)
		}
	}
}

// shutdown drains what is already buffered, then flushes with a fresh
// context since the run context is usually gone.
func (s *EstimateService) shutdown(notes <-chan engine.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
drain:
	for notes != nil {
		select {
		case n, ok := <-notes:
			if !ok {
				break drain
			}
			s.process(ctx, n)
		default:
			break drain
		}
	}
	s.flush(ctx)
	s.storeMetrics(ctx)
}

func (s *EstimateService) process(ctx context.Context, n engine.Notification) {
	switch n.Kind {
	case engine.NotifyState:
		slog.Info("Session state changed",
			slog.String("session", n.SessionID),
			slog.String("state", n.State.Status.String()),
			slog.String("reason", n.State.Reason))
		return
	case engine.NotifyEstimate:
	default:
		return
	}

	msg := publish.EstimateMessage{SessionID: n.SessionID, Symbol: s.opts.Symbol}

	s.mu.Lock()
	s.stats.Received++
	if n.Err != nil {
		s.latest = nil
		s.lastErr = n.Err
		msg.Error = n.Err.Error()
	} else if n.Estimate != nil {
		est := *n.Estimate
		s.latest = &est
		s.lastErr = nil
		msg.Estimate = &est
		if s.sink != nil {
			s.pending = append(s.pending, storage.NewEstimateRecord(n.SessionID, s.opts.Symbol, est))
		}
	}
	full := len(s.pending) >= s.opts.BatchSize
	s.mu.Unlock()

	if full {
		s.flush(ctx)
	}
	s.publish(ctx, msg)
}

func (s *EstimateService) publish(ctx context.Context, msg publish.EstimateMessage) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishEstimate(ctx, msg); err != nil {
		s.fail("Failed to publish estimate", err)
		return
	}
	s.mu.Lock()
	s.stats.Published++
	s.mu.Unlock()
}

func (s *EstimateService) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 || s.sink == nil {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = make([]*storage.EstimateRecord, 0, s.opts.BatchSize)
	s.mu.Unlock()

	if err := s.sink.SaveEstimates(ctx, batch); err != nil {
		s.fail("Failed to persist estimates", err, slog.Int("count", len(batch)))
		return
	}
	s.mu.Lock()
	s.stats.Persisted += uint64(len(batch))
	s.mu.Unlock()
}

func (s *EstimateService) storeMetrics(ctx context.Context) {
	if s.pub == nil {
		return
	}
	if err := s.pub.StoreMetrics(ctx, s.source.ID(), s.source.CurrentMetrics()); err != nil {
		s.fail("Failed to store metrics", err)
	}
}

func (s *EstimateService) prune(ctx context.Context) {
	cutoff := time.Now().Add(-s.opts.Retention)
	n, err := s.sink.PruneEstimates(ctx, cutoff)
	if err != nil {
		s.fail("Failed to prune estimates", err)
		return
	}
	if n > 0 {
		slog.Info("Pruned estimate history", slog.Int64("count", n), slog.Time("before", cutoff))
	}
	s.mu.Lock()
	s.stats.Pruned += uint64(n)
	s.mu.Unlock()
}

func (s *EstimateService) fail(msg string, err error, attrs ...any) {
	s.mu.Lock()
	s.stats.Failures++
	s.mu.Unlock()
	slog.Warn(msg, append(attrs, slog.Any("error", err))...)
}
