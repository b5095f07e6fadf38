package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/config"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const usage = `usage:
  inspector decode <hex encoded order>   print the order id and resolved order
  inspector lookup <order id>            print the stored record (uses the relayer config)`

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	var (
		out any
		err error
	)
	switch os.Args[1] {
	case "decode":
		out, err = decode(os.Args[2])
	case "lookup":
		out, err = lookup(os.Args[2])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type decoded struct {
	OrderID   model.OrderID       `json:"order_id"`
	OrderType string              `json:"order_type"`
	Hidden    bool                `json:"hidden_sender"`
	Resolved  model.ResolvedOrder `json:"resolved"`
}

func decode(raw string) (*decoded, error) {
	o, err := codec.DecodeHex(raw)
	if err != nil {
		return nil, err
	}
	return &decoded{
		OrderID:   codec.ID(o),
		OrderType: o.OrderType.String(),
		Hidden:    o.HiddenSender(),
		Resolved:  codec.Resolve(o),
	}, nil
}

func lookup(raw string) (*model.OrderView, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return nil, fmt.Errorf("order id must be 0x-prefixed 32 byte hex")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := store.FindByID(ctx, common.BytesToHash(b))
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, fmt.Errorf("no record for %s", common.BytesToHash(b).Hex())
	}
	if err != nil {
		return nil, err
	}
	view := model.NewOrderView(rec)
	return &view, nil
}

func openStore(cfg *config.Config) (repository.OrderStore, func(), error) {
	switch cfg.Store.Driver {
	case "postgres", "sqlite":
		db, err := repository.NewDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewGormOrderStore(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil
	case "redis":
		rdb, err := repository.NewRedisClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewRedisOrderStore(rdb, cfg.Redis.KeyPrefix), func() { rdb.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("store driver %q keeps no state between processes", cfg.Store.Driver)
	}
}
