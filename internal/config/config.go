// Package config loads the dispatcher configuration: built-in defaults, then
// an optional YAML file, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/client"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/kafka"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/queue"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/retry"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/storage"
)

type Config struct {
	Kafka             kafka.Config      `yaml:"kafka"`
	Topics            Topics            `yaml:"topics"`
	Redis             Redis             `yaml:"redis"`
	Queues            Queues            `yaml:"queues"`
	Store             storage.Config    `yaml:"store"`
	Retry             Retries           `yaml:"retry"`
	SendPaymentResult SendPaymentResult `yaml:"sendPaymentResult"`
	Clients           Clients           `yaml:"clients"`
	Mail              Mail              `yaml:"mail"`
	MetricsAddr       string            `yaml:"metricsAddr"`
	APIAddr           string            `yaml:"apiAddr"`
	LogLevel          string            `yaml:"logLevel"`
}

// Topics carry first deliveries published by the other eCommerce services.
type Topics struct {
	ClosePayment           string `yaml:"closePayment"`
	ClosureError           string `yaml:"closureError"`
	Notifications          string `yaml:"notifications"`
	AuthorizationRequested string `yaml:"authorizationRequested"`
}

type Redis struct {
	Addr  string        `yaml:"addr"`
	Lease time.Duration `yaml:"lease"`
}

// Queues names the delayed queues owned by the dispatcher.
type Queues struct {
	Expiration         string            `yaml:"expiration"`
	ClosureRetry       string            `yaml:"closureRetry"`
	NotificationsRetry string            `yaml:"notificationsRetry"`
	RefundRetry        string            `yaml:"refundRetry"`
	AuthorizationRetry string            `yaml:"authorizationRetry"`
	DeadLetter         string            `yaml:"deadLetter"`
	TransientTTL       time.Duration     `yaml:"transientTTL"`
	DeadLetterTTL      time.Duration     `yaml:"deadLetterTTL"`
	Poll               queue.PollOptions `yaml:"poll"`
}

type Retries struct {
	Closure       retry.Config `yaml:"closure"`
	Notifications retry.Config `yaml:"notifications"`
	Refund        retry.Config `yaml:"refund"`
	Authorization retry.Config `yaml:"authorization"`
}

type SendPaymentResult struct {
	Timeout          time.Duration `yaml:"timeout"`
	ExpirationOffset time.Duration `yaml:"expirationOffset"`
}

type Clients struct {
	Settlement    client.Config `yaml:"settlement"`
	Gateway       client.Config `yaml:"gateway"`
	Notifications client.Config `yaml:"notifications"`
	UserStats     client.Config `yaml:"userStats"`
}

type Mail struct {
	PaymentMethodLogo string `yaml:"paymentMethodLogo"`
}

func Default() Config {
	defaultRetry := retry.Config{Offset: 10 * time.Second, MaxDelay: 5 * time.Minute, MaxAttempts: 3}
	clientDefaults := client.Config{ConnectTimeout: 5 * time.Second, ReadTimeout: 10 * time.Second}
	return Config{
		Kafka: kafka.Config{Brokers: []string{"kafka:9092"}, GroupID: "event-dispatcher"},
		Topics: Topics{
			ClosePayment:           "transaction-close-payment",
			ClosureError:           "transaction-closure-error",
			Notifications:          "transaction-notifications",
			AuthorizationRequested: "transaction-authorization-requested",
		},
		Redis: Redis{Addr: "redis:6379", Lease: 30 * time.Second},
		Queues: Queues{
			Expiration:         "transaction-expiration",
			ClosureRetry:       "transaction-closure-retry",
			NotificationsRetry: "transaction-notifications-retry",
			RefundRetry:        "transaction-refund-retry",
			AuthorizationRetry: "transaction-authorization-retry",
			DeadLetter:         "transaction-dead-letter",
			TransientTTL:       7 * 24 * time.Hour,
			DeadLetterTTL:      7 * 24 * time.Hour,
			Poll:               queue.PollOptions{Interval: time.Second, Batch: 16, Concurrency: 8},
		},
		Store: storage.Config{Driver: "mssql", MaxConns: 10},
		Retry: Retries{
			Closure:       defaultRetry,
			Notifications: defaultRetry,
			Refund:        defaultRetry,
			Authorization: retry.Config{Offset: 5 * time.Second, MaxDelay: time.Minute, MaxAttempts: 5},
		},
		SendPaymentResult: SendPaymentResult{Timeout: 120 * time.Second, ExpirationOffset: 10 * time.Second},
		Clients: Clients{
			Settlement:    clientDefaults,
			Gateway:       clientDefaults,
			Notifications: clientDefaults,
			UserStats:     clientDefaults,
		},
		MetricsAddr: ":2112",
		APIAddr:     ":8080",
		LogLevel:    "info",
	}
}

// Load reads path (if not empty) over the defaults and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.finish()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.Kafka.Brokers = SplitAndTrim(MustEnv("KAFKA_BROKERS", strings.Join(c.Kafka.Brokers, ",")))
	c.Kafka.GroupID = MustEnv("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Kafka.TLS = MustEnv("KAFKA_TLS", strconv.FormatBool(c.Kafka.TLS)) == "true"
	c.Redis.Addr = MustEnv("REDIS_ADDR", c.Redis.Addr)
	c.Store.Driver = MustEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.MSSQLConn = MustEnv("MSSQL_CONN", c.Store.MSSQLConn)
	c.Store.PostgresURL = MustEnv("POSTGRES_URL", c.Store.PostgresURL)
	c.MetricsAddr = MustEnv("METRICS_ADDR", c.MetricsAddr)
	c.APIAddr = MustEnv("API_ADDR", c.APIAddr)
	c.LogLevel = MustEnv("LOG_LEVEL", c.LogLevel)
	c.Clients.Settlement.URI = MustEnv("SETTLEMENT_URI", c.Clients.Settlement.URI)
	c.Clients.Settlement.APIKey = MustEnv("SETTLEMENT_API_KEY", c.Clients.Settlement.APIKey)
	c.Clients.Gateway.URI = MustEnv("GATEWAY_URI", c.Clients.Gateway.URI)
	c.Clients.Gateway.APIKey = MustEnv("GATEWAY_API_KEY", c.Clients.Gateway.APIKey)
	c.Clients.Notifications.URI = MustEnv("NOTIFICATIONS_URI", c.Clients.Notifications.URI)
	c.Clients.Notifications.APIKey = MustEnv("NOTIFICATIONS_API_KEY", c.Clients.Notifications.APIKey)
	c.Clients.UserStats.URI = MustEnv("USER_STATS_URI", c.Clients.UserStats.URI)

	var err error
	if c.Queues.TransientTTL, err = envDuration("TRANSIENT_QUEUE_TTL", c.Queues.TransientTTL); err != nil {
		return err
	}
	if c.Queues.DeadLetterTTL, err = envDuration("DEAD_LETTER_TTL", c.Queues.DeadLetterTTL); err != nil {
		return err
	}
	if c.SendPaymentResult.Timeout, err = envDuration("SEND_PAYMENT_RESULT_TIMEOUT", c.SendPaymentResult.Timeout); err != nil {
		return err
	}
	if c.SendPaymentResult.ExpirationOffset, err = envDuration("SEND_PAYMENT_RESULT_EXPIRATION_OFFSET", c.SendPaymentResult.ExpirationOffset); err != nil {
		return err
	}
	return nil
}

// finish copies shared settings into the sections that need them.
func (c *Config) finish() {
	for _, r := range []*retry.Config{&c.Retry.Closure, &c.Retry.Notifications, &c.Retry.Refund, &c.Retry.Authorization} {
		r.TTL = c.Queues.TransientTTL
	}
}

func (c Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is empty"))
	}
	if c.SendPaymentResult.ExpirationOffset >= c.SendPaymentResult.Timeout {
		errs = append(errs, errors.New("sendPaymentResult.expirationOffset must be lower than the timeout"))
	}
	for name, r := range map[string]retry.Config{
		"closure": c.Retry.Closure, "notifications": c.Retry.Notifications,
		"refund": c.Retry.Refund, "authorization": c.Retry.Authorization,
	} {
		if r.Offset <= 0 || r.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("retry.%s: offset must be positive and maxAttempts not negative", name))
		}
	}
	switch c.Store.Driver {
	case "mssql", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q not supported", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// MustEnv returns the value of the environment variable name, or def when unset.
func MustEnv(name string, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

func SplitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}
