package engine

import "trade_sim/internal/domain"

// NotificationKind tells subscribers what changed.
type NotificationKind int

const (
	NotifyEstimate NotificationKind = iota + 1
	NotifyState
)

// Notification is delivered to subscribers on every new estimate (or
// estimate failure, with Err set) and on every state transition.
type Notification struct {
	Kind      NotificationKind
	SessionID string
	Estimate  *domain.CostEstimate
	Err       error
	State     domain.ConnectionState
}

// Subscribe registers a listener with the given buffer. Delivery never blocks
// the session: a full subscriber misses notifications. Call the returned
// function to unsubscribe; it closes the channel.
func (s *Session) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notification, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Session) publish(n Notification) {
	if s.closed.Load() {
		return
	}
	n.SessionID = s.id

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
