// Package queue is the consumer-side contract with the delayed queues used
// for retries, expirations and dead letters: messages become visible after a
// delay, expire after a TTL and stay leased until they are acknowledged.
package queue

import (
	"context"
	"time"
)

type Message struct {
	ID           string
	Payload      []byte
	Attributes   map[string]string
	DequeueCount int
	ack          func(ctx context.Context) error
}

// NewMessage builds a message whose Ack calls ack.
func NewMessage(id string, payload []byte, ack func(ctx context.Context) error) Message {
	return Message{ID: id, Payload: payload, ack: ack}
}

// Ack removes the message from its queue. An unacknowledged message is
// delivered again once its lease runs out.
func (m Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

type SendOptions struct {
	Delay      time.Duration // visibility delay
	TTL        time.Duration // zero keeps the message until it is acknowledged
	Attributes map[string]string
}

type Sender interface {
	Send(ctx context.Context, payload []byte, opts SendOptions) (string, error)
}

type Receiver interface {
	Receive(ctx context.Context, max int) ([]Message, error)
}

type Handler func(ctx context.Context, m Message) error
