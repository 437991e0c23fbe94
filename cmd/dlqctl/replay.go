package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/dlq"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
)

type peeker interface {
	Peek(ctx context.Context, n int) ([]queue.Message, error)
}

// replay sends up to limit dead letters to target and acknowledges each one
// after its send succeeded. An empty consumer matches every message.
func replay(ctx context.Context, from peeker, target queue.Sender, consumer string, limit int, ttl time.Duration) (int, error) {
	msgs, err := from.Peek(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if consumer != "" && m.Attributes[dlq.AttrConsumer] != consumer {
			continue
		}
		if _, err := target.Send(ctx, m.Payload, queue.SendOptions{TTL: ttl}); err != nil {
			return n, fmt.Errorf("replay %s: %w", m.ID, err)
		}
		if err := m.Ack(ctx); err != nil {
			return n, fmt.Errorf("remove %s after replay: %w", m.ID, err)
		}
		n++
	}
	return n, nil
}
