package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/dlq"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
)

type fakeDLQ struct {
	msgs  []queue.Message
	acked []string
}

func (f *fakeDLQ) add(id, consumer, payload string) {
	m := queue.NewMessage(id, []byte(payload), func(context.Context) error {
		f.acked = append(f.acked, id)
		return nil
	})
	m.Attributes = map[string]string{dlq.AttrConsumer: consumer}
	f.msgs = append(f.msgs, m)
}

func (f *fakeDLQ) Peek(_ context.Context, n int) ([]queue.Message, error) {
	if n < len(f.msgs) {
		return f.msgs[:n], nil
	}
	return f.msgs, nil
}

func TestReplay_FiltersByConsumer(t *testing.T) {
	from := &fakeDLQ{}
	from.add("1", "closure-retry", `{"a":1}`)
	from.add("2", "expiration", `{"b":2}`)
	from.add("3", "closure-retry", `test`)
	to := queue.NewMemory(nil)

	n, err := replay(context.Background(), from, to, "closure-retry", 10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(from.acked) != 2 || from.acked[0] != "1" || from.acked[1] != "3" {
		t.Fatalf("n=%d acked=%v", n, from.acked)
	}
	sent := to.Sent()
	if string(sent[1].Payload) != "test" || sent[1].Options.TTL != time.Hour || sent[1].Options.Delay != 0 {
		t.Fatalf("sent=%+v", sent)
	}
}

func TestReplay_KeepsMessageWhenSendFails(t *testing.T) {
	from := &fakeDLQ{}
	from.add("1", "expiration", `x`)
	to := queue.NewMemory(nil)
	to.SendErr = errors.New("redis down")

	n, err := replay(context.Background(), from, to, "", 10, time.Hour)
	if !errors.Is(err, to.SendErr) || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(from.acked) != 0 {
		t.Fatalf("acked=%v", from.acked)
	}
}
