package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type PollOptions struct {
	Interval    time.Duration `yaml:"interval"`
	Batch       int           `yaml:"batch"`
	Concurrency int           `yaml:"concurrency"`
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Batch <= 0 {
		o.Batch = 16
	}
	if o.Concurrency <= 0 {
		o.Concurrency = o.Batch
	}
	return o
}

// Poll receives batches from r and runs h on each message until ctx is done.
// A full batch is followed by another receive without waiting.
// Handler errors are logged; the message stays unacknowledged.
func Poll(ctx context.Context, r Receiver, h Handler, opts PollOptions, logger zerolog.Logger) error {
	opts = opts.withDefaults()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for {
		n, err := PollOnce(ctx, r, h, opts, logger)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("queue poll failed")
		}
		if n == opts.Batch && err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce handles one batch and returns how many messages it received.
func PollOnce(ctx context.Context, r Receiver, h Handler, opts PollOptions, logger zerolog.Logger) (int, error) {
	opts = opts.withDefaults()
	msgs, err := r.Receive(ctx, opts.Batch)
	if err != nil {
		return 0, err
	}
	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, m := range msgs {
		m := m
		g.Go(func() error {
			if err := h(ctx, m); err != nil {
				logger.Warn().Err(err).Str("messageId", m.ID).Int("dequeueCount", m.DequeueCount).Msg("message left for redelivery")
			}
			return nil
		})
	}
	return len(msgs), g.Wait()
}
