package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"trade_sim/internal/domain"
)

// GenericCodec speaks the simulator's own sequenced protocol:
//
//	{"type":"snapshot","seq":10,"bids":[["100","5"]],"asks":[["101","5"]]}
//	{"type":"delta","seq":11,"side":"bid","price":"100","size":"0"}
type GenericCodec struct{}

type genericFrame struct {
	Type  string          `json:"type"`
	Seq   *uint64         `json:"seq"`
	Bids  []wireLevel     `json:"bids"`
	Asks  []wireLevel     `json:"asks"`
	Side  string          `json:"side"`
	Price json.RawMessage `json:"price"`
	Size  json.RawMessage `json:"size"`
}

func (c *GenericCodec) Name() string { return "generic" }

func (c *GenericCodec) Reset() {}

func (c *GenericCodec) Subscribe(symbol string) [][]byte {
	return [][]byte{[]byte(fmt.Sprintf(`{"op":"subscribe","symbol":%q}`, symbol))}
}

func (c *GenericCodec) Resync(symbol string) [][]byte {
	return [][]byte{[]byte(fmt.Sprintf(`{"op":"resync","symbol":%q}`, symbol))}
}

func (c *GenericCodec) Ping() []byte { return []byte(`{"op":"ping"}`) }

func (c *GenericCodec) Decode(frame []byte) ([]domain.FeedMessage, error) {
	var f genericFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, violation("invalid json: %v", err)
	}

	switch strings.ToLower(f.Type) {
	case "snapshot":
		if f.Seq == nil {
			return nil, violation("snapshot without seq")
		}
		bids, err := parseLevels(f.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(f.Asks)
		if err != nil {
			return nil, err
		}
		return []domain.FeedMessage{domain.NewSnapshot(*f.Seq, snapshotLevels(bids), snapshotLevels(asks))}, nil

	case "delta":
		if f.Seq == nil {
			return nil, violation("delta without seq")
		}
		var side domain.BookSide
		switch strings.ToLower(f.Side) {
		case "bid", "bids", "buy":
			side = domain.SideBid
		case "ask", "asks", "sell":
			side = domain.SideAsk
		default:
			return nil, violation("unknown side %q", f.Side)
		}
		lvl, err := parseLevel(wireLevel{f.Price, f.Size})
		if err != nil {
			return nil, err
		}
		return []domain.FeedMessage{domain.NewDelta(*f.Seq, side, lvl.Price, lvl.Size)}, nil

	case "ack", "pong", "heartbeat":
		return nil, nil
	}
	return nil, violation("unknown frame type %q", f.Type)
}
