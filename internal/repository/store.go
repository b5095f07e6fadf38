package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
)

var ErrOrderNotFound = errors.New("order not found")

// OrderStore is the single source of truth for which orders the relayer has
// handled. Every implementation guarantees:
//   - InsertIfAbsent is atomic: concurrent inserts of one id create one record.
//   - UpdateStatus only moves a record one step forward and never touches
//     fields other than the status, the ones in fields and UpdatedAt.
//   - Records are never deleted.
type OrderStore interface {
	// FindByID returns ErrOrderNotFound when no record exists.
	FindByID(ctx context.Context, id model.OrderID) (*model.OrderRecord, error)
	// InsertIfAbsent stores rec and reports whether it was created.
	InsertIfAbsent(ctx context.Context, rec *model.OrderRecord) (bool, error)
	UpdateStatus(ctx context.Context, id model.OrderID, status model.OrderStatus, fields model.RecordFields) (*model.OrderRecord, error)
	// FindByStatus returns matching records oldest first.
	FindByStatus(ctx context.Context, statuses ...model.OrderStatus) ([]*model.OrderRecord, error)
	// ListOrders is FindByStatus with paging done by the store.
	ListOrders(ctx context.Context, q ListQuery) ([]*model.OrderRecord, error)
}

// ListQuery selects one page of records in FindByStatus order. A zero Limit
// means no limit.
type ListQuery struct {
	Statuses []model.OrderStatus
	Limit    int
	Offset   int
}

// page cuts q's window out of recs, which must already be in list order.
func page(recs []*model.OrderRecord, q ListQuery) []*model.OrderRecord {
	if q.Offset >= len(recs) {
		return []*model.OrderRecord{}
	}
	recs = recs[max(q.Offset, 0):]
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return recs
}

// CursorStore persists watcher watermarks across restarts.
type CursorStore interface {
	// LoadCursor returns a cursor with Initialized false when none was saved.
	LoadCursor(ctx context.Context, domain uint32, kind model.EventKind) (model.WatcherCursor, error)
	SaveCursor(ctx context.Context, cursor model.WatcherCursor) error
}

// Exists is the idempotence check used before acting on an event.
func Exists(ctx context.Context, store OrderStore, id model.OrderID) (bool, error) {
	_, err := store.FindByID(ctx, id)
	if errors.Is(err, ErrOrderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func checkTransition(id model.OrderID, current, next model.OrderStatus) error {
	if current == next {
		return apperrors.NewAlreadyProcessed(fmt.Sprintf("order %s already %s", id.Hex(), next))
	}
	if !current.CanTransitionTo(next) {
		return apperrors.NewInvariantViolation(
			fmt.Sprintf("order %s cannot move from %s to %s", id.Hex(), current, next))
	}
	return nil
}

func validateNew(rec *model.OrderRecord) error {
	if rec == nil {
		return apperrors.New(apperrors.ErrInvalidRequest, "nil order record", nil)
	}
	if !rec.Status.Valid() {
		return apperrors.New(apperrors.ErrInvalidRequest, fmt.Sprintf("invalid status %q", rec.Status), nil)
	}
	return nil
}
