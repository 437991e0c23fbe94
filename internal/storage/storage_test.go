package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

var t0 = time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC)

// exerciseStore runs the behaviour every Store implementation shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	txID := uuid.NewString()

	// appended out of creation order on purpose
	later := models.Event{ID: uuid.NewString(), TransactionID: txID, Code: models.EventUserCanceled, Version: models.V2, CreationDate: t0.Add(time.Minute)}
	first := models.Event{ID: uuid.NewString(), TransactionID: txID, Code: models.EventActivated, Version: models.V1, CreationDate: t0, Data: models.ActivatedData{
		Email: "a@b.it", ClientID: "CHECKOUT", PaymentTokenValiditySeconds: 900,
		PaymentNotices: []models.PaymentNotice{{PaymentToken: "pt", RptID: "77777777777302016723749670035", Description: "d", Amount: 1000}},
	}}
	for _, ev := range []models.Event{later, first, later} {
		if err := s.Save(ctx, ev); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	appended, err := s.FindByTransactionID(ctx, txID)
	if err != nil {
		t.Fatal(err)
	}
	if len(appended) != 2 || appended[0].Code != models.EventUserCanceled {
		t.Fatalf("append order=%v", appended)
	}
	ordered, err := s.FindByTransactionIDOrderByCreationDateAsc(ctx, txID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ordered) != 2 || ordered[0].Code != models.EventActivated || ordered[1].Code != models.EventUserCanceled {
		t.Fatalf("creation order=%v", ordered)
	}
	if d, ok := ordered[0].Data.(models.ActivatedData); !ok || d.TotalAmount() != 1000 || ordered[0].Version != models.V1 {
		t.Fatalf("data=%#v", ordered[0])
	}

	if _, err := s.FindView(ctx, txID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing view err=%v", err)
	}
	v := models.TransactionView{TransactionID: txID, Status: models.StatusActivated, Amount: 1000, Email: "a@b.it", ClientID: "CHECKOUT", CreationDate: t0}
	if err := s.SaveView(ctx, v); err != nil {
		t.Fatal(err)
	}
	v.Status = models.StatusCancellationRequested
	if err := s.SaveView(ctx, v); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindView(ctx, txID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCancellationRequested || got.Amount != 1000 || !got.CreationDate.Equal(t0) {
		t.Fatalf("view=%+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryStore_InjectedFailures(t *testing.T) {
	m := NewMemory()
	m.SaveErr = errors.New("disk full")
	if err := m.Save(context.Background(), models.Event{TransactionID: "x"}); !errors.Is(err, m.SaveErr) {
		t.Fatalf("err=%v", err)
	}
}

func TestMSSQLStore_Integration(t *testing.T) {
	cs := os.Getenv("MSSQL_CONN")
	if cs == "" {
		t.Skip("MSSQL_CONN not set")
	}
	s, err := Open(context.Background(), Config{Driver: "mssql", MSSQLConn: cs})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore_Integration(t *testing.T) {
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("POSTGRES_URL not set")
	}
	s, err := Open(context.Background(), Config{Driver: "postgres", PostgresURL: url, MaxConns: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mongo"}); err == nil {
		t.Fatal("expected error")
	}
}
