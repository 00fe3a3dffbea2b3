package feed

import (
	"encoding/json"

	"trade_sim/internal/domain"
)

// GoMarketCodec decodes the L2 full-book stream, e.g.
// wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP.
// Every frame is a complete book, so each becomes a snapshot with a
// locally increasing sequence.
type GoMarketCodec struct {
	seq uint64
}

type goMarketFrame struct {
	Timestamp string      `json:"timestamp"`
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Asks      []wireLevel `json:"asks"`
	Bids      []wireLevel `json:"bids"`
}

func (c *GoMarketCodec) Name() string { return "gomarket" }

func (c *GoMarketCodec) Reset() { c.seq = 0 }

// Subscribe is empty: the instrument is part of the URL.
func (c *GoMarketCodec) Subscribe(string) [][]byte { return nil }

// Resync is empty: the next frame is a full book anyway.
func (c *GoMarketCodec) Resync(string) [][]byte { return nil }

func (c *GoMarketCodec) Ping() []byte { return nil }

func (c *GoMarketCodec) Decode(frame []byte) ([]domain.FeedMessage, error) {
	var f goMarketFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, violation("invalid json: %v", err)
	}
	if f.Asks == nil && f.Bids == nil {
		return nil, violation("frame without book sides")
	}

	bids, err := parseLevels(f.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(f.Asks)
	if err != nil {
		return nil, err
	}

	c.seq++
	return []domain.FeedMessage{domain.NewSnapshot(c.seq, snapshotLevels(bids), snapshotLevels(asks))}, nil
}
