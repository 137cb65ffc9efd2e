package stream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventActionSubmitted = "action.submitted"
	EventActionDecided   = "action.decided"
	EventCreditGranted   = "credit.granted"
	EventCreditRedeemed  = "credit.redeemed"
)

// Event is a domain notification pushed to live subscribers.
type Event struct {
	Type      string           `json:"type"`
	AccountID string           `json:"accountId"`
	ActionID  string           `json:"actionId,omitempty"`
	ItemID    string           `json:"itemId,omitempty"`
	Category  string           `json:"category,omitempty"`
	Status    string           `json:"status,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Publisher accepts events. A nil Publisher is valid for callers that use Publish below.
type Publisher interface {
	Publish(evt Event)
}

// Publish sends evt through p when p is set, stamping the time if missing.
func Publish(p Publisher, evt Event) {
	if p == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	p.Publish(evt)
}

type subscriber struct {
	ch        chan Event
	accountID string
}

// Stream fans events out to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// A non-empty accountID restricts delivery to that account's events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, accountID string) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, accountID: accountID}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out to matching subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.accountID != "" && sub.accountID != evt.AccountID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports how many clients are connected.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
