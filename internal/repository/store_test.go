package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testOrder(nonce uint64) model.OrderData {
	return model.OrderData{
		Sender:             common.HexToHash("0x01"),
		Recipient:          common.HexToHash("0x02"),
		InputToken:         common.HexToHash("0x03"),
		OutputToken:        common.HexToHash("0x04"),
		AmountIn:           *uint256.NewInt(100),
		AmountOut:          *uint256.NewInt(99),
		SenderNonce:        *uint256.NewInt(nonce),
		OriginDomain:       1,
		DestinationDomain:  2,
		DestinationSettler: common.HexToHash("0x05"),
		FillDeadline:       2_000_000_000,
		OrderType:          model.OrderTypePublic,
	}
}

func testRecord(nonce uint64, status model.OrderStatus) *model.OrderRecord {
	order := testOrder(nonce)
	return &model.OrderRecord{
		OrderID:          codec.ID(order),
		Order:            order,
		Resolved:         codec.Resolve(order),
		Status:           status,
		FillerIdentifier: common.HexToHash("0xf1"),
		FillTxRef:        "0xfill",
		FillPosition:     42,
	}
}

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type storeFactory struct {
	name string
	new  func(t *testing.T) OrderStore
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "memory", new: func(t *testing.T) OrderStore { return NewMemoryOrderStore() }},
		{name: "gorm-sqlite", new: func(t *testing.T) OrderStore { return NewGormOrderStore(newSQLiteDB(t)) }},
		{name: "redis", new: func(t *testing.T) OrderStore { return NewRedisOrderStore(newMiniRedis(t), "test:") }},
	}
}

func TestOrderStore_InsertIfAbsent(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.new(t)
			ctx := context.Background()
			rec := testRecord(1, model.StatusFilled)

			created, err := store.InsertIfAbsent(ctx, rec)
			require.NoError(t, err)
			assert.True(t, created)

			dup := testRecord(1, model.StatusFilledPrivately)
			created, err = store.InsertIfAbsent(ctx, dup)
			require.NoError(t, err)
			assert.False(t, created)

			got, err := store.FindByID(ctx, rec.OrderID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusFilled, got.Status, "second insert must not overwrite")
			assert.Equal(t, rec.Order, got.Order)
			assert.Equal(t, rec.Resolved.OrderID, got.Resolved.OrderID)
			assert.Equal(t, uint64(42), got.FillPosition)
			assert.Equal(t, "0xfill", got.FillTxRef)
		})
	}
}

func TestOrderStore_FindByIDMissing(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.new(t)
			_, err := store.FindByID(context.Background(), common.HexToHash("0xbeef"))
			assert.ErrorIs(t, err, ErrOrderNotFound)

			ok, err := Exists(context.Background(), store, common.HexToHash("0xbeef"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestOrderStore_ConcurrentInsertCreatesOne(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.new(t)
			var created int32
			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := store.InsertIfAbsent(context.Background(), testRecord(9, model.StatusFilled))
					assert.NoError(t, err)
					if ok {
						atomic.AddInt32(&created, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), created)
		})
	}
}

func TestOrderStore_StatusMonotonic(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.new(t)
			ctx := context.Background()
			rec := testRecord(2, model.StatusFilledPrivately)
			_, err := store.InsertIfAbsent(ctx, rec)
			require.NoError(t, err)

			_, err = store.UpdateStatus(ctx, rec.OrderID, model.StatusSettled, model.RecordFields{})
			assert.True(t, apperrors.Is(err, apperrors.ErrInvariantViolation), "skipping a step")

			_, err = store.UpdateStatus(ctx, rec.OrderID, model.StatusFilled, model.RecordFields{})
			assert.True(t, apperrors.Is(err, apperrors.ErrInvariantViolation), "sibling fill status")

			updated, err := store.UpdateStatus(ctx, rec.OrderID, model.StatusSettleForwarded,
				model.RecordFields{ForwardSettleTxRef: "0xfwd"})
			require.NoError(t, err)
			assert.Equal(t, model.StatusSettleForwarded, updated.Status)
			assert.Equal(t, "0xfwd", updated.ForwardSettleTxRef)
			assert.Equal(t, "0xfill", updated.FillTxRef, "unrelated fields untouched")

			_, err = store.UpdateStatus(ctx, rec.OrderID, model.StatusSettleForwarded, model.RecordFields{})
			assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyProcessed))

			_, err = store.UpdateStatus(ctx, rec.OrderID, model.StatusFilledPrivately, model.RecordFields{})
			assert.True(t, apperrors.Is(err, apperrors.ErrInvariantViolation), "regression")

			final, err := store.UpdateStatus(ctx, rec.OrderID, model.StatusSettled, model.RecordFields{SettleTxRef: "0xsettle"})
			require.NoError(t, err)
			assert.Equal(t, "0xfwd", final.ForwardSettleTxRef)
			assert.Equal(t, "0xsettle", final.SettleTxRef)

			for _, st := range []model.OrderStatus{model.StatusOpened, model.StatusFilled, model.StatusSettleForwarded} {
				_, err = store.UpdateStatus(ctx, rec.OrderID, st, model.RecordFields{})
				assert.Error(t, err)
			}
			got, err := store.FindByID(ctx, rec.OrderID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusSettled, got.Status)

			_, err = store.UpdateStatus(ctx, common.HexToHash("0x404"), model.StatusSettled, model.RecordFields{})
			assert.ErrorIs(t, err, ErrOrderNotFound)
		})
	}
}

func TestOrderStore_FindByStatus(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.new(t)
			ctx := context.Background()
			base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

			for i, st := range []model.OrderStatus{
				model.StatusFilled, model.StatusFilledPrivately, model.StatusFilled, model.StatusSettleForwarded,
			} {
				rec := testRecord(uint64(100+i), st)
				rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				_, err := store.InsertIfAbsent(ctx, rec)
				require.NoError(t, err)
			}

			filled, err := store.FindByStatus(ctx, model.StatusFilled, model.StatusFilledPrivately)
			require.NoError(t, err)
			require.Len(t, filled, 3)
			for i := 1; i < len(filled); i++ {
				assert.False(t, filled[i].CreatedAt.Before(filled[i-1].CreatedAt), "oldest first")
			}

			forwarded, err := store.FindByStatus(ctx, model.StatusSettleForwarded)
			require.NoError(t, err)
			assert.Len(t, forwarded, 1)

			none, err := store.FindByStatus(ctx, model.StatusSettled)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestOrderStore_ListOrdersPages(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.new(t)
			ctx := context.Background()
			base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

			var ids []model.OrderID
			for i := 0; i < 5; i++ {
				st := model.StatusFilled
				if i%2 == 1 {
					st = model.StatusFilledPrivately
				}
				rec := testRecord(uint64(200+i), st)
				rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				_, err := store.InsertIfAbsent(ctx, rec)
				require.NoError(t, err)
				ids = append(ids, rec.OrderID)
			}
			both := []model.OrderStatus{model.StatusFilled, model.StatusFilledPrivately}

			got, err := store.ListOrders(ctx, ListQuery{Statuses: both, Limit: 2, Offset: 1})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, ids[1], got[0].OrderID)
			assert.Equal(t, ids[2], got[1].OrderID)

			got, err = store.ListOrders(ctx, ListQuery{Statuses: both, Limit: 10, Offset: 3})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, ids[4], got[1].OrderID)

			got, err = store.ListOrders(ctx, ListQuery{Statuses: both, Limit: 3, Offset: 5})
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = store.ListOrders(ctx, ListQuery{Statuses: []model.OrderStatus{model.StatusFilled}, Limit: 2})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, ids[0], got[0].OrderID)
			assert.Equal(t, ids[2], got[1].OrderID)
		})
	}
}

func TestOrderStore_ConcurrentUpdateAppliesOnce(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			store := f.new(t)
			ctx := context.Background()
			rec := testRecord(300, model.StatusFilled)
			_, err := store.InsertIfAbsent(ctx, rec)
			require.NoError(t, err)

			var applied int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.UpdateStatus(ctx, rec.OrderID, model.StatusSettleForwarded,
						model.RecordFields{ForwardSettleTxRef: "0xfwd"})
					if err == nil {
						atomic.AddInt32(&applied, 1)
						return
					}
					// a lost compare-and-swap is also a non-application
					assert.True(t, apperrors.Is(err, apperrors.ErrAlreadyProcessed) ||
						apperrors.Is(err, apperrors.ErrInvariantViolation), err)
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), applied)

			got, err := store.FindByID(ctx, rec.OrderID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusSettleForwarded, got.Status)

			idx, err := store.FindByStatus(ctx, model.StatusFilled)
			require.NoError(t, err)
			assert.Empty(t, idx, "status index follows the update")
		})
	}
}

func TestCursorStores(t *testing.T) {
	stores := map[string]CursorStore{
		"memory":      NewMemoryCursorStore(),
		"gorm-sqlite": NewGormCursorStore(newSQLiteDB(t)),
		"redis":       NewRedisCursorStore(newMiniRedis(t), "test:"),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c, err := store.LoadCursor(ctx, 7, model.EventOpened)
			require.NoError(t, err)
			assert.False(t, c.Initialized)

			require.NoError(t, store.SaveCursor(ctx, model.WatcherCursor{Domain: 7, Kind: model.EventOpened, LastSeen: 10}))
			require.NoError(t, store.SaveCursor(ctx, model.WatcherCursor{Domain: 7, Kind: model.EventOpened, LastSeen: 12}))

			c, err = store.LoadCursor(ctx, 7, model.EventOpened)
			require.NoError(t, err)
			assert.True(t, c.Initialized)
			assert.Equal(t, uint64(12), c.LastSeen)

			other, err := store.LoadCursor(ctx, 7, model.EventFilled)
			require.NoError(t, err)
			assert.False(t, other.Initialized)
		})
	}
}

func TestRedisRecordEncoding(t *testing.T) {
	rec := testRecord(5, model.StatusSettleForwarded)
	rec.ForwardSettleTxRef = "0xfwd"
	rec.CreatedAt = time.UnixMilli(1_700_000_000_123).UTC()
	rec.UpdatedAt = rec.CreatedAt.Add(time.Minute)

	raw, err := encodeRedisRecord(rec)
	require.NoError(t, err)
	decoded, err := decodeRedisRecord(raw)
	require.NoError(t, err)

	assert.Equal(t, rec.OrderID, decoded.OrderID)
	assert.Equal(t, rec.Order, decoded.Order)
	assert.Equal(t, rec.Status, decoded.Status)
	assert.Equal(t, rec.FillerIdentifier, decoded.FillerIdentifier)
	assert.Equal(t, rec.ForwardSettleTxRef, decoded.ForwardSettleTxRef)
	assert.True(t, rec.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, rec.UpdatedAt.Equal(decoded.UpdatedAt))

	_, err = decodeRedisRecord(`{"order_id":"0x01","order_data":"0x00"}`)
	assert.True(t, apperrors.Is(err, apperrors.ErrMalformedOrder))
}
