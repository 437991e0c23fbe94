package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Sent records one Send call on a Memory queue.
type Sent struct {
	ID      string
	Payload []byte
	Options SendOptions
}

// Memory is an in-process delayed queue used by tests and the local producer.
// Received messages are removed immediately; Ack only reports AckErr.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	seq     int
	pending []memoryMessage
	sent    []Sent

	SendErr error
	AckErr  error
}

type memoryMessage struct {
	Sent
	visibleAt time.Time
	expiresAt time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{now: now}
}

func (q *Memory) Send(_ context.Context, payload []byte, opts SendOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.SendErr != nil {
		return "", q.SendErr
	}
	q.seq++
	id := "m" + strconv.Itoa(q.seq)
	s := Sent{ID: id, Payload: append([]byte(nil), payload...), Options: opts}
	q.sent = append(q.sent, s)
	now := q.now()
	m := memoryMessage{Sent: s, visibleAt: now.Add(opts.Delay)}
	if opts.TTL > 0 {
		m.expiresAt = now.Add(opts.TTL)
	}
	q.pending = append(q.pending, m)
	return id, nil
}

func (q *Memory) Receive(_ context.Context, max int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var out []Message
	kept := q.pending[:0]
	for _, m := range q.pending {
		switch {
		case !m.expiresAt.IsZero() && !now.Before(m.expiresAt):
			// dropped
		case len(out) < max && !now.Before(m.visibleAt):
			out = append(out, Message{
				ID:           m.ID,
				Payload:      m.Payload,
				Attributes:   m.Options.Attributes,
				DequeueCount: 1,
				ack:          q.ack,
			})
		default:
			kept = append(kept, m)
		}
	}
	q.pending = kept
	return out, nil
}

func (q *Memory) ack(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.AckErr
}

// Sent returns every Send call so far, in order.
func (q *Memory) Sent() []Sent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Sent(nil), q.sent...)
}

// Message wraps payload as a received message of q, for driving handlers directly.
func (q *Memory) Message(payload []byte) Message {
	return Message{ID: "direct", Payload: payload, DequeueCount: 1, ack: q.ack}
}
