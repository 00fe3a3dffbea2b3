package feed

import (
	"encoding/json"
	"fmt"
	"slices"

	"trade_sim/internal/domain"
)

// OKXCodec decodes the OKX public "books" channel. Venue sequence ids are
// not contiguous, so snapshots and update levels are renumbered with a local
// sequence; continuity is checked with prevSeqId.
type OKXCodec struct {
	seq       uint64 // local
	lastSeqID int64  // venue
	synced    bool
}

type okxFrame struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string         `json:"action"`
	Data   []okxBookEntry `json:"data"`
}

type okxBookEntry struct {
	Asks      []wireLevel `json:"asks"`
	Bids      []wireLevel `json:"bids"`
	Ts        string      `json:"ts"`
	SeqID     int64       `json:"seqId"`
	PrevSeqID int64       `json:"prevSeqId"`
}

func (c *OKXCodec) Name() string { return "okx" }

func (c *OKXCodec) Reset() {
	c.seq = 0
	c.lastSeqID = 0
	c.synced = false
}

func (c *OKXCodec) subscription(op, symbol string) []byte {
	return []byte(fmt.Sprintf(`{"op":%q,"args":[{"channel":"books","instId":%q}]}`, op, symbol))
}

func (c *OKXCodec) Subscribe(symbol string) [][]byte {
	return [][]byte{c.subscription("subscribe", symbol)}
}

// Resync re-subscribes, which makes OKX push a fresh snapshot.
func (c *OKXCodec) Resync(symbol string) [][]byte {
	return [][]byte{c.subscription("unsubscribe", symbol), c.subscription("subscribe", symbol)}
}

// Ping keeps the connection alive; OKX closes it after 30s without traffic.
func (c *OKXCodec) Ping() []byte { return []byte("ping") }

func (c *OKXCodec) Decode(frame []byte) ([]domain.FeedMessage, error) {
	if string(frame) == "pong" {
		return nil, nil
	}

	var f okxFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, violation("invalid json: %v", err)
	}
	switch f.Event {
	case "":
	case "error":
		return nil, violation("okx error %s: %s", f.Code, f.Msg)
	default:
		// subscribe/unsubscribe acks
		return nil, nil
	}

	var out []domain.FeedMessage
	for _, entry := range f.Data {
		bids, err := parseLevels(entry.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(entry.Asks)
		if err != nil {
			return nil, err
		}

		switch f.Action {
		case "snapshot":
			c.seq++
			c.lastSeqID = entry.SeqID
			c.synced = true
			out = append(out, domain.NewSnapshot(c.seq, snapshotLevels(bids), snapshotLevels(asks)))

		case "update":
			if !c.synced {
				continue
			}
			if entry.PrevSeqID != c.lastSeqID {
				c.synced = false
				return nil, fmt.Errorf("%w: okx prevSeqId %d, last seqId %d",
					domain.ErrOutOfOrder, entry.PrevSeqID, c.lastSeqID)
			}
			c.lastSeqID = entry.SeqID
			out = c.appendUpdate(out, bids, asks)

		default:
			return nil, violation("unknown okx action %q", f.Action)
		}
	}
	return out, nil
}

// appendUpdate splits one update into single-level deltas. Removals go first
// on both sides: every intermediate book is then a subset of the final one
// and cannot cross when the venue's own book does not.
func (c *OKXCodec) appendUpdate(out []domain.FeedMessage, bids, asks []domain.PriceLevel) []domain.FeedMessage {
	type sided struct {
		side  domain.BookSide
		level domain.PriceLevel
	}
	levels := make([]sided, 0, len(bids)+len(asks))
	for _, l := range bids {
		levels = append(levels, sided{domain.SideBid, l})
	}
	for _, l := range asks {
		levels = append(levels, sided{domain.SideAsk, l})
	}
	slices.SortStableFunc(levels, func(a, b sided) int {
		ra, rb := a.level.Size.IsZero(), b.level.Size.IsZero()
		switch {
		case ra == rb:
			return 0
		case ra:
			return -1
		default:
			return 1
		}
	})

	for _, l := range levels {
		c.seq++
		out = append(out, domain.NewDelta(c.seq, l.side, l.level.Price, l.level.Size))
	}
	return out
}
