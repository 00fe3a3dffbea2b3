package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade_sim/internal/domain"
)

func seqEvent(seq uint64) Event {
	return Event{Message: domain.FeedMessage{Kind: domain.KindDelta, Sequence: seq}}
}

func TestQueue_DropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(3)
	for i := uint64(1); i <= 3; i++ {
		if q.Push(seqEvent(i)) {
			t.Fatalf("unexpected drop at %d", i)
		}
	}
	if !q.Push(seqEvent(4)) {
		t.Fatal("expected overflow to report a drop")
	}
	if q.Drops() != 1 {
		t.Errorf("expected 1 drop, got %d", q.Drops())
	}

	ctx := context.Background()
	for _, want := range []uint64{2, 3, 4} {
		ev, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if ev.Message.Sequence != want {
			t.Errorf("expected seq %d, got %d", want, ev.Message.Sequence)
		}
	}
}

func TestQueue_CloseDrainsFirst(t *testing.T) {
	q := NewQueue(4)
	q.Push(seqEvent(1))
	q.Close(domain.ErrConnectionLost)
	q.Push(seqEvent(2)) // ignored after close

	ev, err := q.Pop(context.Background())
	if err != nil || ev.Message.Sequence != 1 {
		t.Fatalf("expected queued event before close error, got %v %v", ev, err)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, domain.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue(1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(seqEvent(7))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Pop(ctx)
	if err != nil || ev.Message.Sequence != 7 {
		t.Fatalf("expected seq 7, got %v %v", ev, err)
	}
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue(2)
	q.Push(seqEvent(1))
	q.Push(seqEvent(2))
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}
