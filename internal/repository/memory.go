package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/relaygate/internal/model"
)

// MemoryOrderStore keeps records for the lifetime of the process.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[model.OrderID]model.OrderRecord
	now    func() time.Time
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		orders: make(map[model.OrderID]model.OrderRecord),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryOrderStore) FindByID(ctx context.Context, id model.OrderID) (*model.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &rec, nil
}

func (s *MemoryOrderStore) InsertIfAbsent(ctx context.Context, rec *model.OrderRecord) (bool, error) {
	if err := validateNew(rec); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[rec.OrderID]; ok {
		return false, nil
	}
	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.orders[rec.OrderID] = stored
	return true, nil
}

func (s *MemoryOrderStore) UpdateStatus(ctx context.Context, id model.OrderID, status model.OrderStatus, fields model.RecordFields) (*model.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id.Hex(), ErrOrderNotFound)
	}
	if err := checkTransition(id, rec.Status, status); err != nil {
		return nil, err
	}
	rec.Status = status
	fields.Apply(&rec)
	rec.UpdatedAt = s.now()
	s.orders[id] = rec
	return &rec, nil
}

func (s *MemoryOrderStore) FindByStatus(ctx context.Context, statuses ...model.OrderStatus) ([]*model.OrderRecord, error) {
	want := make(map[model.OrderStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	result := make([]*model.OrderRecord, 0)
	for _, rec := range s.orders {
		if want[rec.Status] {
			r := rec
			result = append(result, &r)
		}
	}
	s.mu.RUnlock()

	sortRecords(result)
	return result, nil
}

func (s *MemoryOrderStore) ListOrders(ctx context.Context, q ListQuery) ([]*model.OrderRecord, error) {
	recs, err := s.FindByStatus(ctx, q.Statuses...)
	if err != nil {
		return nil, err
	}
	return page(recs, q), nil
}

func sortRecords(recs []*model.OrderRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].OrderID.Hex() < recs[j].OrderID.Hex()
	})
}

// MemoryCursorStore keeps watermarks for the lifetime of the process.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]model.WatcherCursor
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]model.WatcherCursor)}
}

func cursorKey(domain uint32, kind model.EventKind) string {
	return fmt.Sprintf("%d:%s", domain, kind)
}

func (s *MemoryCursorStore) LoadCursor(ctx context.Context, domain uint32, kind model.EventKind) (model.WatcherCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[cursorKey(domain, kind)]
	if !ok {
		return model.WatcherCursor{Domain: domain, Kind: kind}, nil
	}
	return c, nil
}

func (s *MemoryCursorStore) SaveCursor(ctx context.Context, cursor model.WatcherCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor.Initialized = true
	s.cursors[cursorKey(cursor.Domain, cursor.Kind)] = cursor
	return nil
}
