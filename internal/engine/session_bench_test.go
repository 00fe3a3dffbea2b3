package engine

import (
	"context"
	"testing"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/feed"

	"github.com/shopspring/decimal"
)

// BenchmarkSession_Handle measures one apply + estimate + metrics cycle.
func BenchmarkSession_Handle(b *testing.B) {
	s := newTestSession(newFakeSource(), 0)
	s.SubmitOrderSpec(buy(3))

	bids := make([]domain.PriceLevel, 0, 50)
	asks := make([]domain.PriceLevel, 0, 50)
	for i := int64(0); i < 50; i++ {
		bids = append(bids, lvl(1000-i, 2))
		asks = append(asks, lvl(1001+i, 2))
	}
	ctx := context.Background()
	s.handle(ctx, feed.Event{Message: domain.NewSnapshot(1, bids, asks)})

	sizes := []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2)}
	price := decimal.NewFromInt(1001)
	now := time.Now()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		msg := domain.NewDelta(uint64(i+2), domain.SideAsk, price, sizes[i%2])
		msg.Received = now
		s.handle(ctx, feed.Event{Message: msg})
	}
}
