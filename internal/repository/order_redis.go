package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/config"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/redis/go-redis/v9"
)

const redisTxRetries = 5

func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// RedisOrderStore keeps one JSON document per order plus one set of ids per
// status. Writes use WATCH/MULTI so the document and the index move together.
type RedisOrderStore struct {
	client *redis.Client
	prefix string
}

func NewRedisOrderStore(client *redis.Client, prefix string) *RedisOrderStore {
	return &RedisOrderStore{client: client, prefix: prefix}
}

func (s *RedisOrderStore) orderKey(id model.OrderID) string {
	return s.prefix + "order:" + id.Hex()
}

func (s *RedisOrderStore) statusKey(status model.OrderStatus) string {
	return s.prefix + "status:" + string(status)
}

func (s *RedisOrderStore) FindByID(ctx context.Context, id model.OrderID) (*model.OrderRecord, error) {
	raw, err := s.client.Get(ctx, s.orderKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRedisRecord(raw)
}

func (s *RedisOrderStore) InsertIfAbsent(ctx context.Context, rec *model.OrderRecord) (bool, error) {
	if err := validateNew(rec); err != nil {
		return false, err
	}
	stored := *rec
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = stored.CreatedAt
	payload, err := encodeRedisRecord(&stored)
	if err != nil {
		return false, err
	}

	key := s.orderKey(rec.OrderID)
	inserted := false
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			inserted = false
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, s.statusKey(stored.Status), redis.Z{
				Score:  float64(stored.CreatedAt.UnixMilli()),
				Member: stored.OrderID.Hex(),
			})
			return nil
		})
		if err == nil {
			inserted = true
		}
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return inserted, err
	}
	return false, fmt.Errorf("insert %s: too much contention", rec.OrderID.Hex())
}

func (s *RedisOrderStore) UpdateStatus(ctx context.Context, id model.OrderID, status model.OrderStatus, fields model.RecordFields) (*model.OrderRecord, error) {
	key := s.orderKey(id)
	var updated *model.OrderRecord
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("update %s: %w", id.Hex(), ErrOrderNotFound)
		}
		if err != nil {
			return err
		}
		rec, err := decodeRedisRecord(raw)
		if err != nil {
			return err
		}
		previous := rec.Status
		if err := checkTransition(id, previous, status); err != nil {
			return err
		}
		rec.Status = status
		fields.Apply(rec)
		rec.UpdatedAt = time.Now().UTC()
		payload, err := encodeRedisRecord(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZRem(ctx, s.statusKey(previous), id.Hex())
			pipe.ZAdd(ctx, s.statusKey(status), redis.Z{
				Score:  float64(rec.CreatedAt.UnixMilli()),
				Member: id.Hex(),
			})
			return nil
		})
		if err == nil {
			updated = rec
		}
		return err
	}

	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, apperrors.NewInvariantViolation(fmt.Sprintf("order %s changed status concurrently", id.Hex()))
}

func (s *RedisOrderStore) FindByStatus(ctx context.Context, statuses ...model.OrderStatus) ([]*model.OrderRecord, error) {
	return s.load(ctx, statuses, -1)
}

// ListOrders reads only the first Offset+Limit ids of each status index; the
// indexes are scored by creation time, so the page lies within them.
func (s *RedisOrderStore) ListOrders(ctx context.Context, q ListQuery) ([]*model.OrderRecord, error) {
	stop := int64(-1)
	if q.Limit > 0 {
		stop = int64(max(q.Offset, 0) + q.Limit - 1)
	}
	recs, err := s.load(ctx, q.Statuses, stop)
	if err != nil {
		return nil, err
	}
	return page(recs, q), nil
}

// load reads the ids ranked 0..stop of each status index, -1 meaning all.
func (s *RedisOrderStore) load(ctx context.Context, statuses []model.OrderStatus, stop int64) ([]*model.OrderRecord, error) {
	result := make([]*model.OrderRecord, 0)
	for _, st := range statuses {
		ids, err := s.client.ZRange(ctx, s.statusKey(st), 0, stop).Result()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			continue
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.prefix + "order:" + id
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			rec, err := decodeRedisRecord(raw)
			if err != nil {
				return nil, err
			}
			// the index may briefly lag a concurrent update
			if rec.Status == st {
				result = append(result, rec)
			}
		}
	}
	sortRecords(result)
	return result, nil
}

type redisRecord struct {
	OrderID            string `json:"order_id"`
	OrderData          string `json:"order_data"`
	Status             string `json:"status"`
	FillerIdentifier   string `json:"filler"`
	FillTxRef          string `json:"fill_tx,omitempty"`
	FillPosition       uint64 `json:"fill_position"`
	ForwardSettleTxRef string `json:"forward_settle_tx,omitempty"`
	SettleTxRef        string `json:"settle_tx,omitempty"`
	CreatedAt          int64  `json:"created_at"`
	UpdatedAt          int64  `json:"updated_at"`
}

func encodeRedisRecord(rec *model.OrderRecord) (string, error) {
	wire := redisRecord{
		OrderID:            rec.OrderID.Hex(),
		OrderData:          codec.EncodeHex(rec.Order),
		Status:             string(rec.Status),
		FillerIdentifier:   rec.FillerIdentifier.Hex(),
		FillTxRef:          rec.FillTxRef,
		FillPosition:       rec.FillPosition,
		ForwardSettleTxRef: rec.ForwardSettleTxRef,
		SettleTxRef:        rec.SettleTxRef,
		CreatedAt:          rec.CreatedAt.UnixMilli(),
		UpdatedAt:          rec.UpdatedAt.UnixMilli(),
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRedisRecord(raw string) (*model.OrderRecord, error) {
	var wire redisRecord
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, err
	}
	data, err := hexutil.Decode(wire.OrderData)
	if err != nil {
		return nil, fmt.Errorf("stored order %s: %w", wire.OrderID, err)
	}
	order, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("stored order %s: %w", wire.OrderID, err)
	}
	return &model.OrderRecord{
		OrderID:            common.HexToHash(wire.OrderID),
		Order:              order,
		Resolved:           codec.Resolve(order),
		Status:             model.OrderStatus(wire.Status),
		FillerIdentifier:   common.HexToHash(wire.FillerIdentifier),
		FillTxRef:          wire.FillTxRef,
		FillPosition:       wire.FillPosition,
		ForwardSettleTxRef: wire.ForwardSettleTxRef,
		SettleTxRef:        wire.SettleTxRef,
		CreatedAt:          time.UnixMilli(wire.CreatedAt).UTC(),
		UpdatedAt:          time.UnixMilli(wire.UpdatedAt).UTC(),
	}, nil
}

// RedisCursorStore keeps watcher watermarks as plain integers.
type RedisCursorStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCursorStore(client *redis.Client, prefix string) *RedisCursorStore {
	return &RedisCursorStore{client: client, prefix: prefix}
}

func (s *RedisCursorStore) key(domain uint32, kind model.EventKind) string {
	return s.prefix + "cursor:" + cursorKey(domain, kind)
}

func (s *RedisCursorStore) LoadCursor(ctx context.Context, domain uint32, kind model.EventKind) (model.WatcherCursor, error) {
	cursor := model.WatcherCursor{Domain: domain, Kind: kind}
	raw, err := s.client.Get(ctx, s.key(domain, kind)).Result()
	if errors.Is(err, redis.Nil) {
		return cursor, nil
	}
	if err != nil {
		return cursor, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return cursor, fmt.Errorf("corrupt cursor %s: %w", s.key(domain, kind), err)
	}
	cursor.LastSeen = v
	cursor.Initialized = true
	return cursor, nil
}

func (s *RedisCursorStore) SaveCursor(ctx context.Context, cursor model.WatcherCursor) error {
	return s.client.Set(ctx, s.key(cursor.Domain, cursor.Kind), strconv.FormatUint(cursor.LastSeen, 10), 0).Err()
}
