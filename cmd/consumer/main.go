package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/cache"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/client"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/config"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/consumers"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/dlq"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/kafka"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/mail"
	imetrics "github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/metrics"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/retry"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/storage"
)

type poller struct {
	queue  *queue.Redis
	runner *consumers.Runner
}

func main() {
	cfg, err := config.Load(config.MustEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	logger := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	metricsSrv := imetrics.Serve(cfg.MetricsAddr)

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("open store")
	}
	defer store.Close()

	rdb, err := queue.Connect(cfg.Redis.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("connect redis")
	}
	defer rdb.Close()
	newQueue := func(name string) *queue.Redis { return queue.NewRedis(rdb, name, cfg.Redis.Lease) }
	expirationQ := newQueue(cfg.Queues.Expiration)
	closureQ := newQueue(cfg.Queues.ClosureRetry)
	notificationsQ := newQueue(cfg.Queues.NotificationsRetry)
	refundQ := newQueue(cfg.Queues.RefundRetry)
	authorizationQ := newQueue(cfg.Queues.AuthorizationRetry)

	now, newID := time.Now, uuid.NewString
	deps := consumers.Deps{
		Events:     store,
		Views:      store,
		DeadLetter: dlq.New(newQueue(cfg.Queues.DeadLetter), cfg.Queues.DeadLetterTTL, logger).WithClock(now),
		Logger:     logger,
		Now:        now,
		NewID:      newID,
	}
	newRetry := func(q queue.Sender, code models.EventCode, c retry.Config) *retry.Service {
		return retry.New(q, code, c, retry.WithClock(now), retry.WithIDs(newID))
	}
	gateway := client.NewGatewayClient(cfg.Clients.Gateway)
	refundRetry := newRetry(refundQ, models.EventRefundRetried, cfg.Retry.Refund)

	closure := consumers.Closure{
		Settlement:  client.NewSettlementClient(cfg.Clients.Settlement),
		Cache:       cache.NewPaymentRequests(rdb),
		Retry:       newRetry(closureQ, models.EventClosureRetried, cfg.Retry.Closure),
		Gateway:     gateway,
		RefundRetry: refundRetry,
	}
	notification := consumers.Notification{
		Notifier:    client.NewNotificationsClient(cfg.Clients.Notifications),
		Mail:        mail.Builder{PaymentMethodLogo: cfg.Mail.PaymentMethodLogo},
		Retry:       newRetry(notificationsQ, models.EventUserReceiptAddRetried, cfg.Retry.Notifications),
		Gateway:     gateway,
		RefundRetry: refundRetry,
	}
	authorization := consumers.Authorization{
		Gateway: gateway,
		Retry:   newRetry(authorizationQ, models.EventAuthorizationRequestedRetried, cfg.Retry.Authorization),
	}
	if cfg.Clients.UserStats.URI != "" {
		authorization.UserStats = client.NewUserStatsClient(cfg.Clients.UserStats)
	}
	expiration := consumers.Expiration{
		Queue:                    expirationQ,
		TransientTTL:             cfg.Queues.TransientTTL,
		SendPaymentResultTimeout: cfg.SendPaymentResult.Timeout,
		ExpirationOffset:         cfg.SendPaymentResult.ExpirationOffset,
		Gateway:                  gateway,
		RefundRetry:              refundRetry,
	}

	closureRetry := consumers.NewClosureRetry(deps, closure)
	authorizationRequested := consumers.NewAuthorizationRequested(deps, authorization)

	group, err := kafka.NewConsumerGroup(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("create consumer group")
	}
	defer group.Close()
	h := &kafka.ConsumerHandler{
		Logger: logger,
		Routes: map[string]queue.Handler{
			cfg.Topics.ClosePayment:           consumers.NewClosePayment(deps, closure).Handle,
			cfg.Topics.ClosureError:           closureRetry.Handle,
			cfg.Topics.Notifications:          consumers.NewNotifications(deps, notification).Handle,
			cfg.Topics.AuthorizationRequested: authorizationRequested.Handle,
		},
	}
	pollers := []poller{
		{expirationQ, consumers.NewExpiration(deps, expiration)},
		{closureQ, closureRetry},
		{notificationsQ, consumers.NewNotificationsRetry(deps, notification)},
		{refundQ, consumers.NewRefundRetry(deps, consumers.Refund{Gateway: gateway, Retry: refundRetry})},
		{authorizationQ, authorizationRequested},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return kafka.Run(ctx, group, h) })
	for _, p := range pollers {
		p := p
		g.Go(func() error {
			l := logger.With().Str("queue", p.queue.Name()).Str("consumer", p.runner.Name()).Logger()
			return queue.Poll(ctx, p.queue, p.runner.Handle, cfg.Queues.Poll, l)
		})
	}
	log.Info().Strs("topics", h.Topics()).Int("queues", len(pollers)).Msg("dispatcher started")

	err = g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("dispatcher stopped")
		return
	}
	log.Info().Msg("dispatcher stopped")
}
