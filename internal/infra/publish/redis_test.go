package publish

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"trade_sim/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// newTestPublisher needs a live server: TRADESIM_TEST_REDIS_ADDR=localhost:6379.
func newTestPublisher(t *testing.T) *RedisPublisher {
	t.Helper()
	addr := os.Getenv("TRADESIM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRADESIM_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := NewRedisPublisher(ctx, ClientConfig{Addr: addr, Channel: "trade_sim:test:" + uuid.NewString()})
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestRedisPublisher_PublishAndLatest(t *testing.T) {
	p := newTestPublisher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := p.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sessionID := uuid.NewString()
	est := domain.CostEstimate{FillPrice: decimal.RequireFromString("101.5"), BookSequence: 9}
	if err := p.PublishEstimate(ctx, EstimateMessage{SessionID: sessionID, Symbol: "BTC-USDT", Estimate: &est}); err != nil {
		t.Fatalf("PublishEstimate: %v", err)
	}

	select {
	case raw := <-sub:
		var msg EstimateMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.SessionID != sessionID || msg.Estimate == nil || msg.Estimate.BookSequence != 9 {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	latest, ok, err := p.LatestEstimate(ctx, sessionID)
	if err != nil || !ok {
		t.Fatalf("LatestEstimate: ok=%v err=%v", ok, err)
	}
	if !latest.Estimate.FillPrice.Equal(est.FillPrice) {
		t.Errorf("latest fill price %s", latest.Estimate.FillPrice)
	}

	if _, ok, _ := p.LatestEstimate(ctx, "unknown"); ok {
		t.Error("unknown session should have no estimate")
	}
	if err := p.StoreMetrics(ctx, sessionID, domain.MetricsSnapshot{UpdatesTotal: 3}); err != nil {
		t.Errorf("StoreMetrics: %v", err)
	}
}

func TestNewRedisPublisher_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := NewRedisPublisher(ctx, ClientConfig{Addr: "127.0.0.1:1", Channel: "x"}); err == nil {
		t.Fatal("expected ping error for unreachable redis")
	}
}
