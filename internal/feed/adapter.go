package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trade_sim/internal/domain"

	"github.com/gorilla/websocket"
)

// Event is one item of the adapter stream: a message, or a notice that the
// stream lost continuity and the book must wait for the next snapshot.
type Event struct {
	Message domain.FeedMessage
	Resync  bool
	Reason  string
}

// Config tunes an Adapter.
type Config struct {
	URL    string
	Symbol string

	QueueSize             int
	MaxProtocolViolations int
	ConnectTimeout        time.Duration
	ReadTimeout           time.Duration
	ResyncTimeout         time.Duration
	PingInterval          time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.MaxProtocolViolations <= 0 {
		c.MaxProtocolViolations = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.ResyncTimeout <= 0 {
		c.ResyncTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	return c
}

// subscription is one Open..Close lifetime.
type subscription struct {
	conn   Conn
	queue  *Queue
	cancel context.CancelFunc
	done   chan struct{}
}

// Adapter turns a websocket stream into an ordered sequence of Events.
// Open may be called again after a failure to start a fresh subscription.
type Adapter struct {
	cfg    Config
	dialer Dialer
	codec  Codec

	mu      sync.Mutex
	sub     *subscription
	writeMu sync.Mutex

	resyncAt atomic.Int64 // unix nanos of a pending RequestResync, 0 if none
	drops    atomic.Uint64
	resyncs  atomic.Uint64
}

// NewAdapter creates an adapter. A nil dialer uses WSDialer.
func NewAdapter(cfg Config, dialer Dialer, codec Codec) *Adapter {
	cfg = cfg.withDefaults()
	if dialer == nil {
		dialer = WSDialer{HandshakeTimeout: cfg.ConnectTimeout}
	}
	return &Adapter{cfg: cfg, dialer: dialer, codec: codec}
}

// Open connects and subscribes. Any previous subscription is closed first.
// The first message delivered by Next is always a snapshot.
func (a *Adapter) Open(ctx context.Context) error {
	a.Close()

	dialCtx, cancelDial := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	conn, err := a.dialer.Dial(dialCtx, a.cfg.URL)
	cancelDial()
	if err != nil {
		return err
	}

	a.codec.Reset()
	a.resyncAt.Store(0)

	for _, frame := range a.codec.Subscribe(a.cfg.Symbol) {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			conn.Close()
			return domain.NewNetworkError("subscribe", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		conn:   conn,
		queue:  NewQueue(a.cfg.QueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()

	go a.produce(runCtx, sub)
	if ping := a.codec.Ping(); ping != nil {
		go a.pingLoop(runCtx, sub, ping)
	}

	slog.Info("Feed subscribed",
		slog.String("url", a.cfg.URL),
		slog.String("codec", a.codec.Name()),
		slog.String("symbol", a.cfg.Symbol),
	)
	return nil
}

// Next blocks for the next event. It returns an error wrapping
// domain.ErrConnectionLost when the stream ends.
func (a *Adapter) Next(ctx context.Context) (Event, error) {
	a.mu.Lock()
	sub := a.sub
	a.mu.Unlock()
	if sub == nil {
		return Event{}, fmt.Errorf("%w: not open", domain.ErrConnectionLost)
	}
	return sub.queue.Pop(ctx)
}

// RequestResync discards deltas until the next snapshot and asks the venue
// for one. Safe to call from any goroutine.
func (a *Adapter) RequestResync() {
	a.resyncAt.CompareAndSwap(0, time.Now().UnixNano())
	a.sendResync()
}

// Close ends the current subscription and waits for its producer to exit.
func (a *Adapter) Close() error {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()
	if sub == nil {
		return nil
	}

	sub.cancel()
	err := sub.conn.Close()
	<-sub.done
	return err
}

// Drops returns the number of events discarded on queue overflow.
func (a *Adapter) Drops() uint64 { return a.drops.Load() }

// Resyncs returns the number of resyncs the adapter started on its own.
func (a *Adapter) Resyncs() uint64 { return a.resyncs.Load() }

func (a *Adapter) sendResync() {
	frames := a.codec.Resync(a.cfg.Symbol)
	if len(frames) == 0 {
		return
	}

	a.mu.Lock()
	sub := a.sub
	a.mu.Unlock()
	if sub == nil {
		return
	}

	for _, f := range frames {
		if err := a.write(sub, f); err != nil {
			slog.Warn("Feed resync request failed", slog.Any("error", err))
			return
		}
	}
}

func (a *Adapter) write(sub *subscription, frame []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return sub.conn.WriteMessage(websocket.TextMessage, frame)
}

func (a *Adapter) pingLoop(ctx context.Context, sub *subscription, ping []byte) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed pingLoop panic recovered", slog.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.write(sub, ping); err != nil {
				slog.Warn("Feed ping failed", slog.Any("error", err))
			}
		}
	}
}

// produce reads frames until the connection fails or ctx is cancelled.
func (a *Adapter) produce(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed producer panic recovered", slog.Any("panic", r))
			sub.queue.Close(fmt.Errorf("%w: producer panic: %v", domain.ErrConnectionLost, r))
		}
	}()

	var (
		violations int
		lastSeq    uint64
		awaiting   = true // first message must be a snapshot
		deadline   = time.Now().Add(a.cfg.ResyncTimeout)
	)

	startResync := func(reason string) {
		if awaiting {
			return
		}
		awaiting = true
		deadline = time.Now().Add(a.cfg.ResyncTimeout)
		a.resyncs.Add(1)
		slog.Warn("Feed resync", slog.String("reason", reason))
		sub.queue.Push(Event{Resync: true, Reason: reason})
		a.sendResync()
	}

	// takeResync consumes a pending RequestResync. It runs after each read, so
	// the snapshot answering the request is never taken for an older one.
	takeResync := func() {
		if at := a.resyncAt.Swap(0); at != 0 && !awaiting {
			awaiting = true
			deadline = time.Unix(0, at).Add(a.cfg.ResyncTimeout)
		}
	}

	for {
		readDeadline := time.Now().Add(a.cfg.ReadTimeout)
		if at := a.resyncAt.Load(); at != 0 && !awaiting {
			if d := time.Unix(0, at).Add(a.cfg.ResyncTimeout); d.Before(readDeadline) {
				readDeadline = d
			}
		}
		if awaiting && deadline.Before(readDeadline) {
			readDeadline = deadline
		}
		sub.conn.SetReadDeadline(readDeadline)

		_, frame, err := sub.conn.ReadMessage()
		takeResync()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				sub.queue.Close(fmt.Errorf("%w: %w", domain.ErrConnectionLost, ctx.Err()))
			case awaiting && !time.Now().Before(deadline):
				sub.queue.Close(fmt.Errorf("%w: %w", domain.ErrConnectionLost, domain.ErrResyncTimeout))
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("Feed read error", slog.Any("error", err))
				}
				sub.queue.Close(fmt.Errorf("%w: %w", domain.ErrConnectionLost, err))
			}
			return
		}
		received := time.Now()

		msgs, err := a.codec.Decode(frame)
		if err != nil {
			if errors.Is(err, domain.ErrOutOfOrder) {
				violations = 0
				startResync(err.Error())
				continue
			}
			violations++
			slog.Warn("Feed frame dropped",
				slog.Any("error", err),
				slog.Int("consecutive", violations),
			)
			if violations > a.cfg.MaxProtocolViolations {
				sub.queue.Close(fmt.Errorf("%w: %d consecutive protocol violations: %w",
					domain.ErrConnectionLost, violations, err))
				return
			}
			continue
		}
		violations = 0

		for _, msg := range msgs {
			msg.Received = received
			if msg.IsSnapshot() {
				awaiting = false
				lastSeq = msg.Sequence
			} else {
				if awaiting {
					continue
				}
				if msg.Sequence != lastSeq+1 {
					startResync(fmt.Sprintf("sequence gap: got %d after %d", msg.Sequence, lastSeq))
					continue
				}
				lastSeq = msg.Sequence
			}

			if sub.queue.Push(Event{Message: msg}) {
				// everything still queued follows the dropped event
				a.drops.Add(1)
				sub.queue.Clear()
				startResync("queue overflow")
			}
		}

		if awaiting && !time.Now().Before(deadline) {
			sub.queue.Close(fmt.Errorf("%w: %w", domain.ErrConnectionLost, domain.ErrResyncTimeout))
			return
		}
	}
}
