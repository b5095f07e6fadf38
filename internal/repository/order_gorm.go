package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderRow struct {
	OrderID            string    `gorm:"primaryKey;size:66"`
	OrderData          []byte    `gorm:"not null"`
	Status             string    `gorm:"size:32;not null;index"`
	FillerIdentifier   string    `gorm:"size:66"`
	FillTxRef          string    `gorm:"size:128"`
	FillPosition       uint64
	ForwardSettleTxRef string    `gorm:"size:128"`
	SettleTxRef        string    `gorm:"size:128"`
	CreatedAt          time.Time `gorm:"index"`
	UpdatedAt          time.Time
}

func (orderRow) TableName() string { return "relay_orders" }

type cursorRow struct {
	DomainID  uint32 `gorm:"primaryKey;autoIncrement:false"`
	Kind      string `gorm:"primaryKey;size:16"`
	LastSeen  uint64
	UpdatedAt time.Time
}

func (cursorRow) TableName() string { return "relay_watcher_cursors" }

// GormOrderStore persists records in postgres (or sqlite).
type GormOrderStore struct {
	db *gorm.DB
}

func NewGormOrderStore(db *gorm.DB) *GormOrderStore {
	return &GormOrderStore{db: db}
}

func (s *GormOrderStore) FindByID(ctx context.Context, id model.OrderID) (*model.OrderRecord, error) {
	var row orderRow
	err := s.db.WithContext(ctx).First(&row, "order_id = ?", id.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToRecord(&row)
}

func (s *GormOrderStore) InsertIfAbsent(ctx context.Context, rec *model.OrderRecord) (bool, error) {
	if err := validateNew(rec); err != nil {
		return false, err
	}
	row := recordToRow(rec)
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = row.CreatedAt

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormOrderStore) UpdateStatus(ctx context.Context, id model.OrderID, status model.OrderStatus, fields model.RecordFields) (*model.OrderRecord, error) {
	var row orderRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "order_id = ?", id.Hex()).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("update %s: %w", id.Hex(), ErrOrderNotFound)
			}
			return err
		}
		if err := checkTransition(id, model.OrderStatus(row.Status), status); err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":     string(status),
			"updated_at": now,
		}
		if fields.ForwardSettleTxRef != "" {
			updates["forward_settle_tx_ref"] = fields.ForwardSettleTxRef
			row.ForwardSettleTxRef = fields.ForwardSettleTxRef
		}
		if fields.SettleTxRef != "" {
			updates["settle_tx_ref"] = fields.SettleTxRef
			row.SettleTxRef = fields.SettleTxRef
		}

		// compare-and-swap on the status read above
		res := tx.Model(&orderRow{}).
			Where("order_id = ? AND status = ?", row.OrderID, row.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NewInvariantViolation(fmt.Sprintf("order %s changed status concurrently", id.Hex()))
		}
		row.Status = string(status)
		row.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rowToRecord(&row)
}

func (s *GormOrderStore) FindByStatus(ctx context.Context, statuses ...model.OrderStatus) ([]*model.OrderRecord, error) {
	return s.ListOrders(ctx, ListQuery{Statuses: statuses})
}

func (s *GormOrderStore) ListOrders(ctx context.Context, q ListQuery) ([]*model.OrderRecord, error) {
	if len(q.Statuses) == 0 {
		return []*model.OrderRecord{}, nil
	}
	values := make([]string, len(q.Statuses))
	for i, st := range q.Statuses {
		values[i] = string(st)
	}

	query := s.db.WithContext(ctx).
		Where("status IN ?", values).
		Order("created_at ASC, order_id ASC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	var rows []orderRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]*model.OrderRecord, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func recordToRow(rec *model.OrderRecord) orderRow {
	return orderRow{
		OrderID:            rec.OrderID.Hex(),
		OrderData:          codec.Encode(rec.Order),
		Status:             string(rec.Status),
		FillerIdentifier:   rec.FillerIdentifier.Hex(),
		FillTxRef:          rec.FillTxRef,
		FillPosition:       rec.FillPosition,
		ForwardSettleTxRef: rec.ForwardSettleTxRef,
		SettleTxRef:        rec.SettleTxRef,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

// rowToRecord re-derives the resolved view from the stored encoding; both
// are immutable so nothing is lost by not storing it.
func rowToRecord(row *orderRow) (*model.OrderRecord, error) {
	order, err := codec.Decode(row.OrderData)
	if err != nil {
		return nil, fmt.Errorf("stored order %s: %w", row.OrderID, err)
	}
	return &model.OrderRecord{
		OrderID:            common.HexToHash(row.OrderID),
		Order:              order,
		Resolved:           codec.Resolve(order),
		Status:             model.OrderStatus(row.Status),
		FillerIdentifier:   common.HexToHash(row.FillerIdentifier),
		FillTxRef:          row.FillTxRef,
		FillPosition:       row.FillPosition,
		ForwardSettleTxRef: row.ForwardSettleTxRef,
		SettleTxRef:        row.SettleTxRef,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}, nil
}

// GormCursorStore persists watcher watermarks next to the order records.
type GormCursorStore struct {
	db *gorm.DB
}

func NewGormCursorStore(db *gorm.DB) *GormCursorStore {
	return &GormCursorStore{db: db}
}

func (s *GormCursorStore) LoadCursor(ctx context.Context, domain uint32, kind model.EventKind) (model.WatcherCursor, error) {
	cursor := model.WatcherCursor{Domain: domain, Kind: kind}
	var row cursorRow
	err := s.db.WithContext(ctx).First(&row, "domain_id = ? AND kind = ?", domain, string(kind)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cursor, nil
	}
	if err != nil {
		return cursor, err
	}
	cursor.LastSeen = row.LastSeen
	cursor.Initialized = true
	return cursor, nil
}

func (s *GormCursorStore) SaveCursor(ctx context.Context, cursor model.WatcherCursor) error {
	row := cursorRow{
		DomainID:  cursor.Domain,
		Kind:      string(cursor.Kind),
		LastSeen:  cursor.LastSeen,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen", "updated_at"}),
	}).Create(&row).Error
}
