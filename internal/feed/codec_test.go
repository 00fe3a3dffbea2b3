package feed

import (
	"errors"
	"testing"

	"trade_sim/internal/book"
	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

func TestGenericCodec(t *testing.T) {
	c := &GenericCodec{}

	t.Run("snapshot", func(t *testing.T) {
		msgs, err := c.Decode([]byte(`{"type":"snapshot","seq":10,"bids":[["100","5"],["99","0"]],"asks":[["101",5]]}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if len(msgs) != 1 || !msgs[0].IsSnapshot() {
			t.Fatalf("expected one snapshot, got %+v", msgs)
		}
		m := msgs[0]
		if m.Sequence != 10 || len(m.Bids) != 1 || len(m.Asks) != 1 {
			t.Errorf("unexpected snapshot %+v", m)
		}
		if !m.Asks[0].Size.Equal(decimal.NewFromInt(5)) {
			t.Errorf("numeric size not parsed: %s", m.Asks[0].Size)
		}
	})

	t.Run("delta", func(t *testing.T) {
		msgs, err := c.Decode([]byte(`{"type":"delta","seq":11,"side":"ask","price":"101","size":"0"}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		m := msgs[0]
		if m.Kind != domain.KindDelta || m.Side != domain.SideAsk || !m.Size.IsZero() || m.Sequence != 11 {
			t.Errorf("unexpected delta %+v", m)
		}
	})

	t.Run("control frame", func(t *testing.T) {
		msgs, err := c.Decode([]byte(`{"type":"ack"}`))
		if err != nil || msgs != nil {
			t.Errorf("expected nil, nil; got %v, %v", msgs, err)
		}
	})

	bad := map[string]string{
		"not json":      `{oops`,
		"unknown type":  `{"type":"trade"}`,
		"missing seq":   `{"type":"delta","side":"bid","price":"1","size":"1"}`,
		"bad side":      `{"type":"delta","seq":1,"side":"mid","price":"1","size":"1"}`,
		"negative size": `{"type":"delta","seq":1,"side":"bid","price":"1","size":"-1"}`,
		"zero price":    `{"type":"snapshot","seq":1,"bids":[["0","1"]]}`,
		"short level":   `{"type":"snapshot","seq":1,"bids":[["1"]]}`,
		"missing price": `{"type":"delta","seq":1,"side":"bid","size":"1"}`,
	}
	for name, frame := range bad {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Decode([]byte(frame)); !errors.Is(err, domain.ErrProtocolViolation) {
				t.Errorf("expected ErrProtocolViolation, got %v", err)
			}
		})
	}
}

func TestGoMarketCodec_LocalSequence(t *testing.T) {
	c := &GoMarketCodec{}
	frame := []byte(`{"timestamp":"2025-05-04T10:39:13Z","exchange":"OKX","symbol":"BTC-USDT-SWAP",
		"asks":[["95445.5","9.06"],["95448","2.05"]],"bids":[["95445.4","1104.23"]]}`)

	for want := uint64(1); want <= 3; want++ {
		msgs, err := c.Decode(frame)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !msgs[0].IsSnapshot() || msgs[0].Sequence != want {
			t.Fatalf("expected snapshot seq %d, got %+v", want, msgs[0])
		}
	}

	c.Reset()
	msgs, _ := c.Decode(frame)
	if msgs[0].Sequence != 1 {
		t.Errorf("Reset should restart the local sequence, got %d", msgs[0].Sequence)
	}

	if _, err := c.Decode([]byte(`{"timestamp":"x"}`)); !errors.Is(err, domain.ErrProtocolViolation) {
		t.Errorf("frame without sides should be a violation, got %v", err)
	}
}

func TestOKXCodec(t *testing.T) {
	c := &OKXCodec{}

	ack := []byte(`{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USDT"}}`)
	if msgs, err := c.Decode(ack); err != nil || msgs != nil {
		t.Fatalf("ack: expected nil, nil; got %v, %v", msgs, err)
	}

	// updates before the first snapshot are ignored
	early := []byte(`{"arg":{"channel":"books"},"action":"update","data":[{"bids":[["1","1","0","1"]],"asks":[],"seqId":5,"prevSeqId":4}]}`)
	if msgs, err := c.Decode(early); err != nil || len(msgs) != 0 {
		t.Fatalf("early update: got %v, %v", msgs, err)
	}

	snap := []byte(`{"arg":{"channel":"books","instId":"BTC-USDT"},"action":"snapshot","data":[{
		"asks":[["8476.98","415","0","13"]],"bids":[["8476.97","256","0","12"]],"ts":"1597026383085","seqId":100,"prevSeqId":-1}]}`)
	msgs, err := c.Decode(snap)
	if err != nil || len(msgs) != 1 || !msgs[0].IsSnapshot() || msgs[0].Sequence != 1 {
		t.Fatalf("snapshot: got %+v, %v", msgs, err)
	}

	upd := []byte(`{"arg":{"channel":"books"},"action":"update","data":[{
		"asks":[["8476.98","0","0","0"]],"bids":[["8476.97","300","0","14"],["8476.5","1","0","1"]],"seqId":123,"prevSeqId":100}]}`)
	msgs, err = c.Decode(upd)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Kind != domain.KindDelta || m.Sequence != uint64(2+i) {
			t.Errorf("delta %d: unexpected %+v", i, m)
		}
	}
	if msgs[0].Side != domain.SideAsk || !msgs[0].Size.IsZero() {
		t.Errorf("expected ask removal first, got %+v", msgs[0])
	}

	gap := []byte(`{"arg":{"channel":"books"},"action":"update","data":[{"asks":[],"bids":[],"seqId":130,"prevSeqId":125}]}`)
	if _, err := c.Decode(gap); !errors.Is(err, domain.ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder on prevSeqId gap, got %v", err)
	}

	if _, err := c.Decode([]byte(`{"event":"error","code":"60012","msg":"Invalid request"}`)); !errors.Is(err, domain.ErrProtocolViolation) {
		t.Errorf("expected ErrProtocolViolation for error event, got %v", err)
	}
}

func TestOKXCodec_UpMoveNeverCrossesBook(t *testing.T) {
	c := &OKXCodec{}
	store := book.NewStore()

	frames := []string{
		`{"arg":{"channel":"books"},"action":"snapshot","data":[{"bids":[["100","1","0","1"]],"asks":[["101","1","0","1"]],"seqId":1,"prevSeqId":-1}]}`,
		`{"arg":{"channel":"books"},"action":"update","data":[{"bids":[["102","1","0","1"]],"asks":[["101","0","0","0"],["103","1","0","1"]],"seqId":2,"prevSeqId":1}]}`,
	}
	for _, f := range frames {
		msgs, err := c.Decode([]byte(f))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		for _, m := range msgs {
			if _, err := store.Apply(m); err != nil {
				t.Fatalf("Apply seq %d: %v", m.Sequence, err)
			}
		}
	}

	bid, _ := store.BestBid()
	ask, _ := store.BestAsk()
	if !bid.Price.Equal(decimal.NewFromInt(102)) || !ask.Price.Equal(decimal.NewFromInt(103)) {
		t.Errorf("expected 102/103, got %s/%s", bid.Price, ask.Price)
	}
}

func TestNewCodec(t *testing.T) {
	for _, name := range []string{"generic", "gomarket", "OKX", ""} {
		if _, err := NewCodec(name); err != nil {
			t.Errorf("NewCodec(%q): %v", name, err)
		}
	}
	if _, err := NewCodec("fix"); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestCodecKeepalive(t *testing.T) {
	cases := map[string]string{
		"generic":  `{"op":"ping"}`,
		"okx":      "ping",
		"gomarket": "",
	}
	for name, want := range cases {
		c, err := NewCodec(name)
		if err != nil {
			t.Fatalf("NewCodec(%q): %v", name, err)
		}
		if got := string(c.Ping()); got != want {
			t.Errorf("%s ping = %q, want %q", name, got, want)
		}
	}
}
