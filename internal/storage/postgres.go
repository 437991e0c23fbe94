package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type eventRow struct {
	Seq           int64  `gorm:"column:seq;->"`
	EventID       string `gorm:"column:event_id;primaryKey"`
	TransactionID string `gorm:"column:transaction_id"`
	EventCode     string `gorm:"column:event_code"`
	CreationDate  time.Time
	Body          string
}

func (eventRow) TableName() string { return "transaction_events" }

type viewRow struct {
	TransactionID string `gorm:"column:transaction_id;primaryKey"`
	Status        string
	Amount        int64
	Email         string
	ClientID      string `gorm:"column:client_id"`
	CreationDate  time.Time
	UpdatedAt     time.Time
}

func (viewRow) TableName() string { return "transactions_view" }

// Postgres is the gorm-backed store.
type Postgres struct {
	db *gorm.DB
}

// ConnectPostgres opens and validates the pool and applies embedded migrations.
func ConnectPostgres(ctx context.Context, databaseURL string, maxConns int) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return p, nil
}

// migrate applies embedded SQL migrations in lexical order.
func (p *Postgres) migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := p.db.WithContext(ctx).Exec(string(raw)).Error; err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) Save(ctx context.Context, ev models.Event) error {
	defer observe(time.Now())
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	row := eventRow{
		EventID:       ev.ID,
		TransactionID: ev.TransactionID,
		EventCode:     string(ev.Code),
		CreationDate:  ev.CreationDate.UTC(),
		Body:          body,
	}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	return nil
}

func (p *Postgres) FindByTransactionID(ctx context.Context, transactionID string) ([]models.Event, error) {
	return p.findEvents(ctx, transactionID, "seq")
}

func (p *Postgres) FindByTransactionIDOrderByCreationDateAsc(ctx context.Context, transactionID string) ([]models.Event, error) {
	return p.findEvents(ctx, transactionID, "creation_date, seq")
}

func (p *Postgres) findEvents(ctx context.Context, transactionID, order string) ([]models.Event, error) {
	defer observe(time.Now())
	var rows []eventRow
	err := p.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order(order).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find events of %s: %w", transactionID, err)
	}
	events := make([]models.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := models.ParseStored([]byte(r.Body))
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (p *Postgres) FindView(ctx context.Context, transactionID string) (models.TransactionView, error) {
	defer observe(time.Now())
	var r viewRow
	err := p.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TransactionView{}, ErrNotFound
		}
		return models.TransactionView{}, fmt.Errorf("find view %s: %w", transactionID, err)
	}
	return models.TransactionView{
		TransactionID: r.TransactionID,
		Status:        models.Status(r.Status),
		Amount:        int(r.Amount),
		Email:         r.Email,
		ClientID:      r.ClientID,
		CreationDate:  r.CreationDate,
	}, nil
}

func (p *Postgres) SaveView(ctx context.Context, v models.TransactionView) error {
	defer observe(time.Now())
	r := viewRow{
		TransactionID: v.TransactionID,
		Status:        string(v.Status),
		Amount:        int64(v.Amount),
		Email:         v.Email,
		ClientID:      v.ClientID,
		CreationDate:  v.CreationDate.UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":     r.Status,
			"amount":     r.Amount,
			"email":      r.Email,
			"client_id":  r.ClientID,
			"updated_at": r.UpdatedAt,
		}),
	}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("save view %s: %w", v.TransactionID, err)
	}
	return nil
}
