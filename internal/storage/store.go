// Package storage holds the append-only transaction event log and the
// denormalized transactions view.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	imetrics "github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/metrics"
	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

var ErrNotFound = errors.New("not found")

type EventStore interface {
	// FindByTransactionID returns events in append order.
	FindByTransactionID(ctx context.Context, transactionID string) ([]models.Event, error)
	// FindByTransactionIDOrderByCreationDateAsc returns events in replay order.
	FindByTransactionIDOrderByCreationDateAsc(ctx context.Context, transactionID string) ([]models.Event, error)
	Save(ctx context.Context, ev models.Event) error
}

type ViewStore interface {
	FindView(ctx context.Context, transactionID string) (models.TransactionView, error)
	SaveView(ctx context.Context, v models.TransactionView) error
}

type Store interface {
	EventStore
	ViewStore
	Close() error
}

type Config struct {
	Driver      string `yaml:"driver"` // mssql, postgres or memory
	MSSQLConn   string `yaml:"mssqlConn"`
	PostgresURL string `yaml:"postgresUrl"`
	MaxConns    int    `yaml:"maxConns"`
}

// Open connects to the configured driver and prepares its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "mssql":
		db, err := Connect(cfg.MSSQLConn)
		if err != nil {
			return nil, err
		}
		if err := db.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init mssql schema: %w", err)
		}
		return db, nil
	case "postgres":
		return ConnectPostgres(ctx, cfg.PostgresURL, cfg.MaxConns)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func encodeEvent(ev models.Event) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	return string(b), nil
}

func observe(start time.Time) {
	imetrics.DBLatency.Observe(time.Since(start).Seconds())
}
