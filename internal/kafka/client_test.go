package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
)

type fakeSession struct {
	sarama.ConsumerGroupSession
	marked []int64
}

func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) { s.marked = append(s.marked, m.Offset) }
func (s *fakeSession) Context() context.Context { return context.Background() }

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	topic string
	msgs  chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return c.topic }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func claimOf(topic string, values ...string) *fakeClaim {
	c := &fakeClaim{topic: topic, msgs: make(chan *sarama.ConsumerMessage, len(values))}
	for i, v := range values {
		c.msgs <- &sarama.ConsumerMessage{Topic: topic, Offset: int64(i), Value: []byte(v)}
	}
	close(c.msgs)
	return c
}

func TestConsumeClaim_MarksAcknowledgedMessages(t *testing.T) {
	var seen []string
	h := &ConsumerHandler{Logger: zerolog.Nop(), Routes: map[string]queue.Handler{
		"closure": func(ctx context.Context, m queue.Message) error {
			seen = append(seen, string(m.Payload))
			if string(m.Payload) == "skip-ack" {
				return nil
			}
			return m.Ack(ctx)
		},
	}}
	sess := &fakeSession{}
	if err := h.ConsumeClaim(sess, claimOf("closure", "a", "skip-ack", "c")); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 {
		t.Fatalf("seen=%v", seen)
	}
	if len(sess.marked) != 2 || sess.marked[0] != 0 || sess.marked[1] != 2 {
		t.Fatalf("marked=%v", sess.marked)
	}
}

func TestConsumeClaim_StopsOnHandlerError(t *testing.T) {
	boom := errors.New("store down")
	calls := 0
	h := &ConsumerHandler{Logger: zerolog.Nop(), Routes: map[string]queue.Handler{
		"closure": func(ctx context.Context, m queue.Message) error {
			calls++
			if calls == 2 {
				return boom
			}
			return m.Ack(ctx)
		},
	}}
	sess := &fakeSession{}
	err := h.ConsumeClaim(sess, claimOf("closure", "a", "b", "c"))
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if calls != 2 || len(sess.marked) != 1 {
		t.Fatalf("calls=%d marked=%v", calls, sess.marked)
	}
}

func TestConsumeClaim_UnknownTopic(t *testing.T) {
	h := &ConsumerHandler{Logger: zerolog.Nop(), Routes: map[string]queue.Handler{}}
	if err := h.ConsumeClaim(&fakeSession{}, claimOf("other", "a")); err == nil {
		t.Fatal("expected error for unrouted topic")
	}
}

func TestPublish(t *testing.T) {
	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"x":1}` {
			return errors.New("unexpected value " + string(val))
		}
		return nil
	})
	if err := Publish(context.Background(), p, "t", "tx1", []byte(`{"x":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}
