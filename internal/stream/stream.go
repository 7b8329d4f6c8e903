package stream

import (
	"context"
	"sync"
	"time"
)

// Event types published by the marketplace core.
const (
	TypeTaskCreated       = "task.created"
	TypeTaskAccepted      = "task.accepted"
	TypeTaskSubmitted     = "task.submitted"
	TypeTaskCompleted     = "task.completed"
	TypeReputationUpdated = "reputation.updated"
	TypeTokensDistributed = "tokens.distributed"
)

// Event is a marketplace notification consumed by SSE clients and the
// off-platform registration/approval workflow.
type Event struct {
	Type      string         `json:"type"`
	TaskID    int64          `json:"task_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Amount    int64          `json:"amount,omitempty"`
	Score     int            `json:"score,omitempty"`
	Delta     int            `json:"delta,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Stream fan-outs marketplace events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
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

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
