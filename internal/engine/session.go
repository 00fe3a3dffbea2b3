package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"trade_sim/internal/book"
	"trade_sim/internal/cost"
	"trade_sim/internal/domain"
	"trade_sim/internal/feed"
	"trade_sim/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source is the market data stream a session consumes. feed.Adapter implements it.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (feed.Event, error)
	RequestResync()
	Close() error
}

// dropCounter is implemented by sources that lose events on overflow.
type dropCounter interface {
	Drops() uint64
}

// Config tunes a Session.
type Config struct {
	MaxReconnectAttempts int
	Backoff              infra.Backoff
	VolumeWindowSize     int
	SlippageWindowSize   int
	VolatilityWindowSize int
	// DumpPath receives a JSON state dump if the loop panics. Empty disables it.
	DumpPath string
}

// Session owns one book, one metrics aggregator and the loop that feeds them.
// The loop goroutine is the only writer of the book and volume window;
// everything readers see is published through atomic pointers.
type Session struct {
	id     string
	cfg    Config
	source Source
	engine *cost.Engine

	metrics *infra.Metrics

	// writer-owned
	store      *book.Store
	volume     *cost.VolumeWindow
	slippage   *cost.SlippageWindow
	volatility *cost.VolatilityWindow
	connected  bool
	resyncing  bool
	drops      uint64

	order    atomic.Pointer[domain.OrderSpec]
	estimate atomic.Pointer[domain.CostEstimate]
	view     atomic.Pointer[book.View]

	subMu   sync.RWMutex
	subs    map[uint64]chan Notification
	nextSub uint64
	closed  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a stopped session.
func NewSession(cfg Config, source Source, engine *cost.Engine) *Session {
	if cfg.VolumeWindowSize <= 0 {
		cfg.VolumeWindowSize = 100
	}
	if cfg.SlippageWindowSize <= 0 {
		cfg.SlippageWindowSize = 100
	}
	if cfg.VolatilityWindowSize < 2 {
		cfg.VolatilityWindowSize = 100
	}
	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		source:  source,
		engine:  engine,
		metrics: infra.NewMetrics(),
		store:   book.NewStore(),
		volume:  cost.NewVolumeWindow(cfg.VolumeWindowSize),
		subs:    make(map[uint64]chan Notification),

		slippage:   cost.NewSlippageWindow(cfg.SlippageWindowSize),
		volatility: cost.NewVolatilityWindow(cfg.VolatilityWindowSize),
	}
	s.metrics.SetConnectionState(domain.ConnectionState{Status: domain.Disconnected})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start opens the stream and runs the session loop until Stop or ctx ends.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			return domain.ErrSessionRunning
		}
	}

	s.metrics.Reset()
	s.store.Reset()
	s.volume.Reset()
	s.slippage.Reset()
	s.volatility.Reset()
	s.view.Store(nil)
	s.estimate.Store(nil)
	s.connected, s.resyncing, s.drops = false, false, 0
	s.closed.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.setState(domain.ConnectionState{Status: domain.Connecting})
	go s.run(runCtx, s.done)

	slog.Info("Session started", slog.String("session", s.id))
	return nil
}

// Stop cancels the loop, closes the stream and waits for the loop to exit.
// No notification is delivered after Stop returns.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.source.Close()

	s.setState(domain.ConnectionState{Status: domain.Disconnected})
	s.closed.Store(true)
	slog.Info("Session stopped", slog.String("session", s.id))
}

// Done is closed when the loop exits, either through Stop or after the session
// gave up reconnecting. It is nil before the first Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// SubmitOrderSpec replaces the order estimated on every update.
func (s *Session) SubmitOrderSpec(spec domain.OrderSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	s.order.Store(&spec)
	return nil
}

// OrderSpec returns the last submitted order.
func (s *Session) OrderSpec() (domain.OrderSpec, bool) {
	if o := s.order.Load(); o != nil {
		return *o, true
	}
	return domain.OrderSpec{}, false
}

// CurrentEstimate returns the estimate for the latest book, if any.
func (s *Session) CurrentEstimate() (domain.CostEstimate, bool) {
	if e := s.estimate.Load(); e != nil {
		return *e, true
	}
	return domain.CostEstimate{}, false
}

// CurrentMetrics returns consolidated pipeline metrics.
func (s *Session) CurrentMetrics() domain.MetricsSnapshot { return s.metrics.Snapshot() }

// ConnectionState returns the session state.
func (s *Session) ConnectionState() domain.ConnectionState { return s.metrics.ConnectionState() }

// Book returns the last consistent book, or nil before the first snapshot.
func (s *Session) Book() *book.View { return s.view.Load() }

func (s *Session) setState(st domain.ConnectionState) {
	prev := s.metrics.ConnectionState()
	s.metrics.SetConnectionState(st)
	if prev == st {
		return
	}
	slog.Info("Session state",
		slog.String("session", s.id),
		slog.String("from", prev.String()),
		slog.String("to", st.String()),
	)
	s.publish(Notification{Kind: NotifyState, State: st})
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.String("session", s.id), slog.Any("panic", r))
			if s.cfg.DumpPath != "" {
				s.DumpState(s.cfg.DumpPath)
			}
			s.setState(domain.ErrorState(fmt.Sprintf("internal panic: %v", r)))
		}
	}()

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		s.setState(domain.ConnectionState{Status: domain.Connecting})

		err := s.source.Open(ctx)
		if err == nil {
			// a new subscription starts from its own snapshot
			s.resyncing = true
			err = s.consume(ctx)
		}
		if ctx.Err() != nil {
			return
		}

		if s.connected {
			attempts = 0
		}
		s.connected = false
		s.metrics.RecordError(err)
		s.setState(domain.ErrorState(err.Error()))

		var ne *domain.NetworkError
		fatal := errors.As(err, &ne) && !ne.IsRetriable()
		if fatal || attempts >= s.cfg.MaxReconnectAttempts {
			slog.Error("Session giving up",
				slog.String("session", s.id),
				slog.Int("attempts", attempts),
				slog.Any("error", err),
			)
			s.source.Close()
			s.setState(domain.ConnectionState{Status: domain.Disconnected, Reason: err.Error()})
			return
		}

		delay := s.cfg.Backoff.Delay(attempts)
		attempts++
		s.metrics.RecordReconnect()
		slog.Warn("Session reconnecting",
			slog.String("session", s.id),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume processes events until the stream fails.
func (s *Session) consume(ctx context.Context) error {
	for {
		ev, err := s.source.Next(ctx)
		if err != nil {
			return err
		}
		s.countDrops()
		s.handle(ctx, ev)
	}
}

func (s *Session) countDrops() {
	dc, ok := s.source.(dropCounter)
	if !ok {
		return
	}
	if d := dc.Drops(); d > s.drops {
		s.metrics.RecordDrop(d - s.drops)
		s.drops = d
	}
}

// handle applies one event and runs one estimate/metrics cycle.
func (s *Session) handle(ctx context.Context, ev feed.Event) {
	if ev.Resync {
		s.resyncing = true
		s.metrics.RecordResync()
		return
	}

	msg := ev.Message
	if !msg.IsSnapshot() && (!s.connected || s.resyncing) {
		return
	}
	if msg.IsSnapshot() && s.resyncing {
		// the fresh snapshot may restart the venue sequence
		s.store.Reset()
		s.resyncing = false
	}

	started := msg.Received
	if started.IsZero() {
		started = time.Now()
	}

	change, err := s.store.Apply(msg)
	if err != nil {
		slog.Warn("Book update rejected, resyncing",
			slog.String("session", s.id),
			slog.Uint64("seq", msg.Sequence),
			slog.Any("error", err),
		)
		s.metrics.RecordError(err)
		s.metrics.RecordResync()
		s.resyncing = true
		s.source.RequestResync()
		return
	}

	view := s.store.View()
	if msg.IsSnapshot() {
		s.volume.Add(book.RemovedBetween(s.view.Load(), view))
	} else {
		s.volume.Add(change.Removed())
	}
	if mid, ok := view.Mid(); ok {
		s.volatility.Add(mid.InexactFloat64())
	}
	s.view.Store(view)

	if !s.connected {
		s.connected = true
		s.setState(domain.ConnectionState{Status: domain.Connected})
	}

	s.recompute(ctx, view)
	s.metrics.RecordCycle(started, time.Now())
}

func (s *Session) recompute(ctx context.Context, view *book.View) {
	order := s.order.Load()
	if order == nil {
		return
	}

	in := cost.Inputs{Volume: s.volume.Sum(), Slippage: s.slippage}
	if sigma, ok := s.volatility.Realized(); ok {
		in.Volatility = sigma
	}
	est, err := s.engine.EstimateWith(ctx, view, *order, in)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.estimate.Store(nil)
		s.publish(Notification{Kind: NotifyEstimate, Err: err})
		return
	}
	s.estimate.Store(&est)
	s.publish(Notification{Kind: NotifyEstimate, Estimate: &est})
}

// BookSummary describes the last consistent book.
type BookSummary struct {
	Sequence uint64          `json:"sequence"`
	Mid      decimal.Decimal `json:"mid"`
	Spread   decimal.Decimal `json:"spread"`
	BidDepth decimal.Decimal `json:"bid_depth"`
	AskDepth decimal.Decimal `json:"ask_depth"`
	Levels   int             `json:"levels"`
}

// BookSummary returns top-of-book figures for the published view; false
// before the first snapshot.
func (s *Session) BookSummary() (BookSummary, bool) {
	view := s.view.Load()
	if view == nil {
		return BookSummary{}, false
	}
	sum := BookSummary{
		Sequence: view.Sequence,
		BidDepth: view.TotalSize(domain.SideBid),
		AskDepth: view.TotalSize(domain.SideAsk),
		Levels:   view.Len(domain.SideBid) + view.Len(domain.SideAsk),
	}
	sum.Mid, _ = view.Mid()
	sum.Spread, _ = view.Spread()
	return sum, true
}

// DumpState writes the session state to a file (for post-mortem).
func (s *Session) DumpState(filename string) {
	slog.Info("Dumping session state...", slog.String("file", filename))

	data := struct {
		SessionID string                 `json:"session_id"`
		Sequence  uint64                 `json:"sequence"`
		Bids      []domain.PriceLevel    `json:"bids"`
		Asks      []domain.PriceLevel    `json:"asks"`
		Published *BookSummary           `json:"published_book,omitempty"`
		Estimate  *domain.CostEstimate   `json:"estimate,omitempty"`
		Metrics   domain.MetricsSnapshot `json:"metrics"`
	}{
		SessionID: s.id,
		Sequence:  s.store.Sequence(),
		Bids:      s.store.DepthAt(domain.SideBid, 20),
		Asks:      s.store.DepthAt(domain.SideAsk, 20),
		Estimate:  s.estimate.Load(),
		Metrics:   s.metrics.Snapshot(),
	}
	if sum, ok := s.BookSummary(); ok {
		data.Published = &sum
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
