package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

// Codec translates wire frames of one venue protocol into FeedMessages.
// A codec is owned by a single producer goroutine.
type Codec interface {
	Name() string
	// Decode returns the messages carried by a frame. Control frames
	// (acks, pongs) decode to nil. A malformed frame returns an error
	// wrapping domain.ErrProtocolViolation; a detected gap wraps domain.ErrOutOfOrder.
	Decode(frame []byte) ([]domain.FeedMessage, error)
	// Subscribe returns the frames to send after connecting.
	Subscribe(symbol string) [][]byte
	// Resync returns the frames that make the venue send a fresh snapshot.
	Resync(symbol string) [][]byte
	// Ping returns the keepalive frame, or nil if the venue needs none.
	Ping() []byte
	// Reset clears per-subscription state.
	Reset()
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "generic", "":
		return &GenericCodec{}, nil
	case "gomarket":
		return &GoMarketCodec{}, nil
	case "okx":
		return &OKXCodec{}, nil
	}
	return nil, fmt.Errorf("unknown feed codec %q", name)
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// wireLevel is a [price, size, ...] array of strings or numbers.
type wireLevel []json.RawMessage

func parseNumber(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

func parseLevel(w wireLevel) (domain.PriceLevel, error) {
	if len(w) < 2 {
		return domain.PriceLevel{}, violation("level has %d fields", len(w))
	}
	price, err := parseNumber(w[0])
	if err != nil {
		return domain.PriceLevel{}, violation("bad price: %v", err)
	}
	size, err := parseNumber(w[1])
	if err != nil {
		return domain.PriceLevel{}, violation("bad size: %v", err)
	}
	if !price.IsPositive() {
		return domain.PriceLevel{}, violation("non-positive price %s", price)
	}
	if size.IsNegative() {
		return domain.PriceLevel{}, violation("negative size %s", size)
	}
	return domain.PriceLevel{Price: price, Size: size}, nil
}

func parseLevels(ws []wireLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(ws))
	for _, w := range ws {
		l, err := parseLevel(w)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// snapshotLevels drops zero-size entries, which some venues include in full books.
func snapshotLevels(ls []domain.PriceLevel) []domain.PriceLevel {
	out := ls[:0]
	for _, l := range ls {
		if l.Size.IsPositive() {
			out = append(out, l)
		}
	}
	return out
}
