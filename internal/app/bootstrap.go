package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trade_sim/internal/cost"
	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/feed"
	"trade_sim/internal/infra"
	"trade_sim/internal/infra/publish"
	"trade_sim/internal/infra/storage"
	"trade_sim/internal/service"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// statusInterval is how often Run logs the current estimate and metrics.
const statusInterval = 10 * time.Second

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config    *infra.Config
	Engine    *cost.Engine
	Adapter   *feed.Adapter
	Session   *engine.Session
	Service   *service.EstimateService
	Storage   *storage.Storage
	Publisher *publish.RedisPublisher

	// Dialer overrides the websocket dialer; nil uses feed.WSDialer.
	Dialer feed.Dialer
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(cfg *infra.Config) *Bootstrap {
	return &Bootstrap{Config: cfg}
}

// BuildEngine assembles the cost engine from the cost section.
// Configured fee rates replace the schedule's base rates; its discounts stay.
func BuildEngine(cfg *infra.Config) (*cost.Engine, error) {
	schedule, err := cost.LookupSchedule(cfg.Cost.Exchange)
	if err != nil {
		return nil, &domain.ConfigError{Field: "cost.exchange", Err: err}
	}
	if cfg.Cost.FeeRateMaker > 0 {
		schedule.Maker = decimal.NewFromFloat(cfg.Cost.FeeRateMaker)
	}
	if cfg.Cost.FeeRateTaker > 0 {
		schedule.Taker = decimal.NewFromFloat(cfg.Cost.FeeRateTaker)
	}

	model, err := cost.ParseImpactModel(cfg.Cost.ImpactModel)
	if err != nil {
		return nil, &domain.ConfigError{Field: "cost.impact_model", Err: err}
	}
	slippage, err := cost.ParseSlippageModel(cfg.Cost.SlippageModel)
	if err != nil {
		return nil, &domain.ConfigError{Field: "cost.slippage_model", Err: err}
	}

	return cost.NewEngine(cost.Params{
		Fees: cost.FeeModel{
			Schedule:          schedule,
			Tier:              cfg.Cost.FeeTier,
			NeutralMakerShare: decimal.NewFromFloat(cfg.Cost.NeutralMakerShare),
		},
		Impact: cost.ImpactParams{
			Model:        model,
			Coefficient:  cfg.Cost.ImpactCoefficient,
			Eta:          cfg.Cost.Eta,
			Gamma:        cfg.Cost.Gamma,
			RiskAversion: cfg.Cost.RiskAversion,
			Volatility:   cfg.Cost.Volatility,
		},
		Slippage: cost.SlippageParams{
			Model:    slippage,
			Alpha:    cfg.Cost.SlippageAlpha,
			Quantile: cfg.Cost.SlippageQuantile,
		},
		RealizedVolatility: cfg.Cost.VolatilitySource == infra.VolatilityRealized,
	}), nil
}

// Initialize builds every component. Storage and Redis are optional.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	cfg := b.Config
	slog.Info("Bootstrapping trade_sim", slog.String("feed", cfg.Feed.URL), slog.String("codec", cfg.Feed.Codec))

	// 1. Cost Engine
	eng, err := BuildEngine(cfg)
	if err != nil {
		return err
	}
	b.Engine = eng

	// 2. Feed Adapter
	codec, err := feed.NewCodec(cfg.Feed.Codec)
	if err != nil {
		return &domain.ConfigError{Field: "feed.codec", Err: err}
	}
	b.Adapter = feed.NewAdapter(feed.Config{
		URL:                   cfg.Feed.URL,
		Symbol:                cfg.Feed.Symbol,
		QueueSize:             cfg.Feed.QueueSize,
		MaxProtocolViolations: cfg.Feed.MaxProtocolViolations,
		ConnectTimeout:        cfg.ConnectTimeout(),
		ReadTimeout:           cfg.ReadTimeout(),
		ResyncTimeout:         cfg.ResyncTimeout(),
		PingInterval:          cfg.PingInterval(),
	}, b.Dialer, codec)

	// 3. Session
	b.Session = engine.NewSession(engine.Config{
		MaxReconnectAttempts: cfg.Session.MaxReconnectAttempts,
		Backoff:              infra.Backoff{Base: cfg.ReconnectBackoff(), Max: cfg.MaxBackoff()},
		VolumeWindowSize:     cfg.Session.VolumeWindowSize,
		SlippageWindowSize:   cfg.Session.SlippageWindowSize,
		VolatilityWindowSize: cfg.Session.VolatilityWindowSize,
		DumpPath:             "crash_dump.json",
	}, b.Adapter, eng)

	// 4. Storage (DB)
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("Database initialized", slog.String("path", cfg.Storage.Path))
	}

	// 5. Redis
	if cfg.Redis.Enabled {
		pctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
		defer cancel()
		pub, err := publish.NewRedisPublisher(pctx, publish.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			b.Close()
			return err
		}
		b.Publisher = pub
		slog.Info("Redis publisher ready", slog.String("addr", cfg.Redis.Addr))
	}

	// 6. Estimate Service
	var sink service.EstimateSink
	if b.Storage != nil {
		sink = b.Storage
	}
	var pub service.Publisher
	if b.Publisher != nil {
		pub = b.Publisher
	}
	b.Service = service.NewEstimateService(b.Session, sink, pub, service.Options{
		Symbol:    cfg.Feed.Symbol,
		Retention: cfg.Retention(),
	})
	return nil
}

// Run starts the session and blocks until ctx ends or the session gives up.
// The session is always stopped and recorded before Run returns.
func (b *Bootstrap) Run(ctx context.Context) error {
	cfg := b.Config
	sess := b.Session

	if spec, ok, err := cfg.DefaultOrder(); err != nil {
		return &domain.ConfigError{Field: "order", Err: err}
	} else if ok {
		if err := sess.SubmitOrderSpec(spec); err != nil {
			return err
		}
	}

	if b.Storage != nil {
		rec := &storage.SessionRecord{
			ID:        sess.ID(),
			Symbol:    cfg.Feed.Symbol,
			Exchange:  cfg.Cost.Exchange,
			Codec:     cfg.Feed.Codec,
			StartedAt: time.Now(),
		}
		if err := b.Storage.StartSession(ctx, rec); err != nil {
			slog.Warn("Failed to record session start", slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	b.Service.Subscribe()
	g.Go(func() error { return b.Service.Run(gctx) })

	if err := sess.Start(gctx); err != nil {
		cancel()
		return errors.Join(err, g.Wait())
	}
	done := sess.Done()

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-done:
		}
		// the loop also exits on cancellation, possibly mid-backoff with an
		// error state still set
		if gctx.Err() != nil {
			return nil
		}
		st := sess.ConnectionState()
		if st.Status == domain.Disconnected && st.Reason != "" {
			return fmt.Errorf("%w: %s", domain.ErrConnectionLost, st.Reason)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				b.logStatus()
			}
		}
	})

	slog.Info("trade_sim fully operational. Press Ctrl+C to exit.", slog.String("session", sess.ID()))
	err := g.Wait()

	sess.Stop()
	b.finish()
	return err
}

func (b *Bootstrap) logStatus() {
	m := b.Session.CurrentMetrics()
	attrs := []any{
		slog.String("state", m.ConnectionState.String()),
		slog.Float64("latency_ms", m.InternalLatencyMs),
		slog.Float64("updates_per_sec", m.UpdatesPerSecond),
		slog.Uint64("resyncs", m.Resyncs),
		slog.Uint64("drops", m.Drops),
	}
	if sum, ok := b.Session.BookSummary(); ok {
		attrs = append(attrs,
			slog.String("mid", sum.Mid.String()),
			slog.String("spread", sum.Spread.String()),
			slog.String("bid_depth", sum.BidDepth.String()),
			slog.String("ask_depth", sum.AskDepth.String()),
		)
	}
	if est, ok := b.Session.CurrentEstimate(); ok {
		attrs = append(attrs,
			slog.String("fill_price", est.FillPrice.String()),
			slog.String("net_cost", est.NetCost.String()),
			slog.String("net_cost_bps", est.NetCostBps.StringFixed(2)),
			slog.Bool("degraded", est.Degraded),
		)
	}
	slog.Info("Status", attrs...)
}

// finish records the final counters and releases storage and Redis.
func (b *Bootstrap) finish() {
	if b.Storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Storage.FinishSession(ctx, b.Session.ID(), b.Session.CurrentMetrics()); err != nil {
			slog.Warn("Failed to record session end", slog.Any("error", err))
		}
	}
	b.Close()
}

// Close releases storage and Redis. It is safe to call more than once.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
		b.Storage = nil
	}
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			slog.Warn("Failed to close redis", slog.Any("error", err))
		}
		b.Publisher = nil
	}
}
