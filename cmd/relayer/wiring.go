package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/GoPolymarket/relaygate/internal/config"
	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/domain/aztec"
	"github.com/GoPolymarket/relaygate/internal/domain/evm"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/proof"
	"github.com/GoPolymarket/relaygate/internal/repository"
	"github.com/GoPolymarket/relaygate/internal/service"
	"github.com/GoPolymarket/relaygate/internal/signer"
	"github.com/ethereum/go-ethereum/common"
)

// stores bundles the order and cursor stores of the configured driver with
// whatever must be closed on shutdown.
type stores struct {
	orders  repository.OrderStore
	cursors repository.CursorStore
	closers []io.Closer
}

func openStores(cfg *config.Config) (*stores, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("Using in-memory order store, state is lost on restart")
		return &stores{
			orders:  repository.NewMemoryOrderStore(),
			cursors: repository.NewMemoryCursorStore(),
		}, nil
	case "postgres", "sqlite":
		db, err := repository.NewDB(cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to SQL store", "driver", cfg.Store.Driver)
		return &stores{
			orders:  repository.NewGormOrderStore(db),
			cursors: repository.NewGormCursorStore(db),
			closers: []io.Closer{sqlDB},
		}, nil
	case "redis":
		rdb, err := repository.NewRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to Redis store", "addr", cfg.Redis.Addr)
		return &stores{
			orders:  repository.NewRedisOrderStore(rdb, cfg.Redis.KeyPrefix),
			cursors: repository.NewRedisCursorStore(rdb, cfg.Redis.KeyPrefix),
			closers: []io.Closer{rdb},
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (s *stores) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}
}

// contractID converts a configured contract address to the 32 byte form
// used across domains. EVM addresses are left padded.
func contractID(kind, hex string) common.Hash {
	if kind == "evm" {
		return common.BytesToHash(common.HexToAddress(hex).Bytes())
	}
	return common.HexToHash(hex)
}

func dialDomain(ctx context.Context, cfg *config.Config, d config.DomainConfig) (domain.DomainClient, error) {
	switch d.Kind {
	case "evm":
		s, err := signer.NewSigner(cfg.Filler.PrivateKey, d.ChainID)
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", d.Name, err)
		}
		return evm.Dial(ctx, d.RPCURL, evm.Config{
			Name:         d.Name,
			DomainID:     d.DomainID,
			Gateway:      common.HexToAddress(d.Gateway),
			OutboxSlot:   d.OutboxSlot,
			Inbox:        common.HexToAddress(d.Inbox),
			InboxSlot:    d.InboxSlot,
			PollInterval: d.PollInterval,
		}, s)
	case "aztec":
		return aztec.Dial(ctx, d.RPCURL, d.WalletURL, aztec.Config{
			Name:         d.Name,
			DomainID:     d.DomainID,
			Gateway:      common.HexToHash(d.Gateway),
			Account:      common.HexToHash(cfg.Filler.AztecAddress),
			PollInterval: d.PollInterval,
			LogsPerEvent: d.LogsPerEvent,
		})
	default:
		return nil, fmt.Errorf("domain %s: unknown kind %q", d.Name, d.Kind)
	}
}

// buildRegistry dials every configured domain and returns the registry with
// the confirmation timeout of each.
func buildRegistry(ctx context.Context, cfg *config.Config) (*domain.Registry, service.Timeouts, error) {
	registry := domain.NewRegistry()
	timeouts := make(service.Timeouts, len(cfg.Domains))
	for _, d := range cfg.Domains {
		client, err := dialDomain(ctx, cfg, d)
		if err != nil {
			return nil, nil, err
		}
		registry.Register(domain.WithRateLimit(client, d.RateLimitQPS, d.RateLimitBurst), contractID(d.Kind, d.Gateway))
		timeouts[d.DomainID] = d.ConfirmationTimeout
		logger.Info("Domain connected", "name", d.Name, "kind", d.Kind, "domain_id", d.DomainID, "account", client.Account().Hex())
	}
	return registry, timeouts, nil
}

func buildRoutes(cfg *config.Config) ([]service.Route, error) {
	byID := make(map[uint32]config.DomainConfig, len(cfg.Domains))
	for _, d := range cfg.Domains {
		byID[d.DomainID] = d
	}
	routes := make([]service.Route, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		mode, err := proof.ParseMode(strings.TrimSpace(r.ProofMode))
		if err != nil {
			return nil, err
		}
		fwdKind := byID[r.ForwarderDomain].Kind
		routes = append(routes, service.Route{
			Origin:          r.Origin,
			Destination:     r.Destination,
			ForwarderDomain: r.ForwarderDomain,
			Forwarder:       contractID(fwdKind, r.Forwarder),
			Anchor:          contractID(fwdKind, r.Anchor),
			Mode:            mode,
			BeaconAnchored:  r.BeaconAnchored,
			OutboxSlot:      byID[r.Destination].OutboxSlot,
		})
	}
	return routes, nil
}
