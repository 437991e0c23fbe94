// Package retry re-enqueues a failed side effect as a *_RETRIED event on a
// delayed queue. It only counts attempts; callers re-check the transaction
// state when the retry is delivered.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/metrics"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/transaction"
)

// ErrNoAttemptsLeft is returned once attempt reaches the configured ceiling.
var ErrNoAttemptsLeft = errors.New("no attempts left")

type Config struct {
	Offset      time.Duration `yaml:"offset"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	MaxAttempts int           `yaml:"maxAttempts"`
	TTL         time.Duration `yaml:"-"`
}

type Service struct {
	sender queue.Sender
	code   models.EventCode
	cfg    Config
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDs(newID func() string) Option { return func(s *Service) { s.newID = newID } }

// New returns a service writing events with the given retry code to sender.
func New(sender queue.Sender, code models.EventCode, cfg Config, opts ...Option) *Service {
	s := &Service{sender: sender, code: code, cfg: cfg, now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Code() models.EventCode { return s.code }

// Delay is Offset*(attempt+1) capped at MaxDelay; it never decreases with attempt.
func (s *Service) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	steps := int64(attempt) + 1
	if s.cfg.MaxDelay > 0 && s.cfg.Offset > 0 && steps > int64(s.cfg.MaxDelay/s.cfg.Offset) {
		return s.cfg.MaxDelay
	}
	return s.cfg.Offset * time.Duration(steps)
}

// Enqueue writes a retry event with retryCount attempt+1 for tx.
func (s *Service) Enqueue(ctx context.Context, tx transaction.Transaction, attempt int, tracing *models.TracingInfo) error {
	if attempt >= s.cfg.MaxAttempts {
		return fmt.Errorf("transaction %s, %s attempt %d of %d: %w", tx.TransactionID(), s.code, attempt, s.cfg.MaxAttempts, ErrNoAttemptsLeft)
	}
	ev := models.Event{
		ID:            s.newID(),
		TransactionID: tx.TransactionID(),
		Code:          s.code,
		Version:       models.V2,
		CreationDate:  s.now(),
		Data:          models.RetriedData{RetryCount: attempt + 1},
	}
	payload, err := json.Marshal(models.QueueEvent{Event: ev, TracingInfo: tracing})
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.code, err)
	}
	if _, err := s.sender.Send(ctx, payload, queue.SendOptions{Delay: s.Delay(attempt), TTL: s.cfg.TTL}); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", s.code, tx.TransactionID(), err)
	}
	metrics.RetriesEnqueued.WithLabelValues(string(s.code)).Inc()
	return nil
}
