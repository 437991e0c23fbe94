package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/pagopa/pagoa-ecommerce-event-dispatcher-service/internal/models"
)

// Memory keeps events and views in process. The Err fields, when set, are
// returned by the matching operation.
type Memory struct {
	mu     sync.Mutex
	events map[string][]models.Event
	views  map[string]models.TransactionView

	SaveErr     error
	SaveViewErr error
	FindErr     error
}

func NewMemory() *Memory {
	return &Memory{events: map[string][]models.Event{}, views: map[string]models.TransactionView{}}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Save(_ context.Context, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	for _, e := range m.events[ev.TransactionID] {
		if ev.ID != "" && e.ID == ev.ID {
			return nil
		}
	}
	m.events[ev.TransactionID] = append(m.events[ev.TransactionID], ev)
	return nil
}

func (m *Memory) FindByTransactionID(_ context.Context, transactionID string) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	return append([]models.Event(nil), m.events[transactionID]...), nil
}

func (m *Memory) FindByTransactionIDOrderByCreationDateAsc(ctx context.Context, transactionID string) ([]models.Event, error) {
	events, err := m.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreationDate.Before(events[j].CreationDate)
	})
	return events, nil
}

func (m *Memory) FindView(_ context.Context, transactionID string) (models.TransactionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return models.TransactionView{}, m.FindErr
	}
	v, ok := m.views[transactionID]
	if !ok {
		return models.TransactionView{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) SaveView(_ context.Context, v models.TransactionView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveViewErr != nil {
		return m.SaveViewErr
	}
	m.views[v.TransactionID] = v
	return nil
}
