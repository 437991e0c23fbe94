// Command producer feeds a local dispatcher with sample transactions: it
// writes their event log and publishes the event each consumer waits for.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/config"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/kafka"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/storage"
)

type scenario struct {
	name    string
	history []models.Event
	// topic is empty when the last event goes to the expiration queue.
	topic string
}

type producer struct {
	store      storage.EventStore
	kafka      sarama.SyncProducer
	expiration queue.Sender
	expireIn   time.Duration
	topics     config.Topics
}

func main() {
	cfg, err := config.Load(config.MustEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()
	kp, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("create producer")
	}
	defer kp.Close()
	rdb, err := queue.Connect(cfg.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	p := producer{
		store:      store,
		kafka:      kp,
		expiration: queue.NewRedis(rdb, cfg.Queues.Expiration, cfg.Redis.Lease),
		expireIn:   15 * time.Second,
		topics:     cfg.Topics,
	}
	rate := 1
	if v := os.Getenv("EVENT_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rate = n
		}
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s := p.randomScenario(time.Now().UTC())
		if err := p.send(ctx, s); err != nil {
			log.Error().Err(err).Str("scenario", s.name).Msg("publish failed")
			continue
		}
		last := s.history[len(s.history)-1]
		log.Info().Str("scenario", s.name).Str("transactionId", last.TransactionID).Str("eventCode", string(last.Code)).Msg("transaction published")
	}
}

// send stores the history and publishes its last event.
func (p producer) send(ctx context.Context, s scenario) error {
	for _, ev := range s.history {
		if err := p.store.Save(ctx, ev); err != nil {
			return fmt.Errorf("save %s: %w", ev.Code, err)
		}
	}
	last := s.history[len(s.history)-1]
	payload, err := json.Marshal(models.QueueEvent{
		Event:       last,
		TracingInfo: &models.TracingInfo{Traceparent: traceparent()},
	})
	if err != nil {
		return err
	}
	if s.topic == "" {
		_, err = p.expiration.Send(ctx, payload, queue.SendOptions{Delay: p.expireIn})
		return err
	}
	return kafka.Publish(ctx, p.kafka, s.topic, last.TransactionID, payload)
}

func (p producer) randomScenario(now time.Time) scenario {
	id := uuid.NewString()
	seq := 0
	event := func(code models.EventCode, data models.EventData) models.Event {
		seq++
		return models.Event{
			ID:            uuid.NewString(),
			TransactionID: id,
			Code:          code,
			Version:       models.V2,
			CreationDate:  now.Add(time.Duration(seq) * time.Millisecond),
			Data:          data,
		}
	}
	activated := event(models.EventActivated, models.ActivatedData{
		Email:    "citizen@example.com",
		ClientID: "CHECKOUT",
		PaymentNotices: []models.PaymentNotice{{
			PaymentToken: uuid.NewString()[:8],
			RptID:        "77777777777302016723749670035",
			Description:  "TARI 2026",
			Amount:       1000 + rand.Intn(9000),
		}},
		PaymentTokenValiditySeconds: 900,
	})
	gateway := []models.PaymentGateway{models.GatewayNPG, models.GatewayVPOS, models.GatewayXPAY}[rand.Intn(3)]
	authorization := event(models.EventAuthorizationRequested, models.AuthorizationRequestData{
		Amount:                 activated.Data.(models.ActivatedData).TotalAmount(),
		Fee:                    100,
		PaymentInstrumentID:    uuid.NewString(),
		PspID:                  "BCITITMM",
		PaymentTypeCode:        "CP",
		PaymentMethodName:      "CARDS",
		PspBusinessName:        "Intesa Sanpaolo",
		AuthorizationRequestID: uuid.NewString(),
		PaymentGateway:         gateway,
	})

	switch rand.Intn(4) {
	case 0:
		return scenario{name: "canceled", topic: p.topics.ClosePayment,
			history: []models.Event{activated, event(models.EventUserCanceled, nil)}}
	case 1:
		return scenario{name: "authorization requested", topic: p.topics.AuthorizationRequested,
			history: []models.Event{activated, authorization}}
	case 2:
		outcome := []models.Outcome{models.OutcomeOK, models.OutcomeKO}[rand.Intn(2)]
		return scenario{name: "receipt requested", topic: p.topics.Notifications,
			history: []models.Event{
				activated,
				authorization,
				event(models.EventAuthorizationCompleted, models.AuthorizationCompletedData{AuthorizationCode: "000123", Outcome: models.OutcomeOK}),
				event(models.EventClosed, models.ClosureData{Outcome: models.OutcomeOK}),
				event(models.EventUserReceiptRequested, models.UserReceiptData{Outcome: outcome, Language: "it-IT", PaymentDate: now}),
			}}
	default:
		return scenario{name: "abandoned", history: []models.Event{activated}}
	}
}

// traceparent returns a random sampled W3C trace context.
func traceparent() string {
	return fmt.Sprintf("00-%016x%016x-%016x-01", rand.Uint64(), rand.Uint64(), rand.Uint64())
}
