package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
)

// Config holds runtime configuration for Kafka.
type Config struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"groupId"`
	TLS     bool     `yaml:"tls"`
}

func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0 // Kafka 3.7 (KRaft)
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Net.MaxOpenRequests = 1
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Metadata.Retry.Max = 5
	cfg.Metadata.Retry.Backoff = 2 * time.Second
	return cfg
}

func saramaConfig(cfg Config) *sarama.Config {
	scfg := NewSaramaConfig()
	if cfg.TLS {
		scfg.Net.TLS.Enable = true
		scfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return scfg
}

// NewProducer creates a Sarama SyncProducer.
func NewProducer(cfg Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg))
}

// NewConsumerGroup creates a Sarama ConsumerGroup.
func NewConsumerGroup(cfg Config) (sarama.ConsumerGroup, error) {
	return sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig(cfg))
}

// Publish sends a message keyed by transaction id.
func Publish(ctx context.Context, p sarama.SyncProducer, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := p.SendMessage(msg)
	return err
}

// ConsumerHandler routes each topic to a pipeline handler. Acknowledging a
// message marks its offset. A handler error ends the claim, which restarts
// the session from the last marked offset so the message is redelivered.
type ConsumerHandler struct {
	Routes map[string]queue.Handler
	Logger zerolog.Logger
}

func (h *ConsumerHandler) Topics() []string {
	topics := make([]string, 0, len(h.Routes))
	for t := range h.Routes {
		topics = append(topics, t)
	}
	return topics
}

func (h *ConsumerHandler) Setup(_ sarama.ConsumerGroupSession) error { return nil }
func (h *ConsumerHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }
func (h *ConsumerHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	handle, ok := h.Routes[claim.Topic()]
	if !ok {
		return fmt.Errorf("no handler for topic %s", claim.Topic())
	}
	for msg := range claim.Messages() {
		msg := msg
		m := queue.NewMessage(
			fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
			msg.Value,
			func(context.Context) error {
				sess.MarkMessage(msg, "")
				return nil
			},
		)
		if err := handle(sess.Context(), m); err != nil {
			h.Logger.Error().Err(err).Str("topic", msg.Topic).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Msg("consumer handler error")
			return err
		}
	}
	return nil
}

// Run consumes until ctx is done, re-joining the group after every session.
func Run(ctx context.Context, group sarama.ConsumerGroup, h *ConsumerHandler) error {
	topics := h.Topics()
	go func() {
		for err := range group.Errors() {
			h.Logger.Error().Err(err).Msg("consumer group error")
		}
	}()
	for {
		if err := group.Consume(ctx, topics, h); err != nil {
			h.Logger.Error().Err(err).Msg("consume error")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
