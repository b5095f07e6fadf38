package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/notify"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/pkg/metrics"
	"github.com/GoPolymarket/relaygate/internal/proof"
	"github.com/GoPolymarket/relaygate/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const (
	fnLatestAnchor  = "latestAnchor"
	fnForwardSettle = "forwardSettle"
)

// Route says how fills on Destination are proven back to Origin: which
// domain runs the forwarder, where it reads its anchor and what kind of
// proof it accepts.
type Route struct {
	Origin          uint32
	Destination     uint32
	ForwarderDomain uint32
	Forwarder       common.Hash
	Anchor          common.Hash
	Mode            proof.Mode
	// BeaconAnchored routes commit beacon block roots instead of execution
	// state roots.
	BeaconAnchored bool
	// OutboxSlot is the base slot of the destination gateway's mapping of
	// settled messages.
	OutboxSlot uint64
}

type routeKey struct{ origin, destination uint32 }

// SettlementForwarder proves confirmed fills to the domain that forwards
// settlement messages back to the origin.
type SettlementForwarder struct {
	registry *domain.Registry
	store    repository.OrderStore
	routes   map[routeKey]Route
	beacon   proof.BeaconSource
	notifier notify.Publisher
	timeouts Timeouts
	sweep    sync.Mutex
	log      *slog.Logger
}

func NewSettlementForwarder(registry *domain.Registry, store repository.OrderStore, routes []Route,
	beacon proof.BeaconSource, notifier notify.Publisher, timeouts Timeouts) *SettlementForwarder {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	f := &SettlementForwarder{
		registry: registry,
		store:    store,
		routes:   make(map[routeKey]Route, len(routes)),
		beacon:   beacon,
		notifier: notifier,
		timeouts: timeouts,
		log:      logger.Component("forwarder"),
	}
	for _, r := range routes {
		f.routes[routeKey{r.Origin, r.Destination}] = r
	}
	return f
}

// ForwardSweep forwards every filled order whose fill the forwarder's anchor
// already covers. A sweep that overlaps a running one returns immediately.
func (f *SettlementForwarder) ForwardSweep(ctx context.Context) error {
	if !f.sweep.TryLock() {
		metrics.SweepSkips.WithLabelValues("forward", "overlap").Inc()
		return nil
	}
	defer f.sweep.Unlock()

	records, err := f.store.FindByStatus(ctx, model.StatusFilled, model.StatusFilledPrivately)
	if err != nil {
		return err
	}
	log := f.log.With("sweep_id", uuid.NewString())
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.forward(ctx, rec); err != nil {
			metrics.SweepSkips.WithLabelValues("forward", string(apperrors.TypeOf(err))).Inc()
			logger.LogAt(ctx, log, apperrors.LogLevel(err), err, "forward skipped", "order_id", rec.OrderID.Hex())
		}
	}
	return nil
}

func (f *SettlementForwarder) forward(ctx context.Context, rec *model.OrderRecord) error {
	route, ok := f.routes[routeKey{rec.Order.OriginDomain, rec.Order.DestinationDomain}]
	if !ok {
		return apperrors.New(apperrors.ErrUnsupportedDomain,
			fmt.Sprintf("no route from %d to %d", rec.Order.DestinationDomain, rec.Order.OriginDomain), nil)
	}
	fwd, err := f.registry.Client(route.ForwarderDomain)
	if err != nil {
		return err
	}
	dst, err := f.registry.Client(route.Destination)
	if err != nil {
		return err
	}

	raw, err := fwd.ReadState(ctx, domain.Call{
		Contract: route.Anchor,
		Function: fnLatestAnchor,
		Args:     []any{route.Destination},
	})
	if err != nil {
		return err
	}
	anchor, err := proof.DecodeAnchor(raw)
	if err != nil {
		return err
	}
	if anchor.Position < rec.FillPosition {
		return apperrors.NewProofNotReady(
			fmt.Sprintf("anchor at %d, fill at %d", anchor.Position, rec.FillPosition))
	}

	pkg, err := f.buildPackage(ctx, route, dst, rec, anchor)
	if err != nil {
		return err
	}
	data, err := pkg.Encode()
	if err != nil {
		return err
	}

	ref, err := fwd.SubmitTransaction(ctx, domain.Call{
		Contract: route.Forwarder,
		Function: fnForwardSettle,
		Args:     []any{rec.OrderID, rec.FillerIdentifier, data},
	})
	if err != nil {
		return err
	}
	f.log.Info("settlement forwarded", "order_id", rec.OrderID.Hex(), "domain", fwd.Name(), "tx", ref.Hash, "anchor", anchor.Position)
	if _, err := confirm(ctx, fwd, ref, f.timeouts.For(route.ForwarderDomain)); err != nil {
		return err
	}

	updated, err := f.store.UpdateStatus(ctx, rec.OrderID, model.StatusSettleForwarded,
		model.RecordFields{ForwardSettleTxRef: ref.Hash})
	if err != nil {
		return err
	}
	announce(ctx, f.notifier, f.log, updated, ref.Hash)
	return nil
}

// buildPackage proves the settled message on the destination at the anchored
// position, adding the beacon branch when the anchor is a beacon block root.
func (f *SettlementForwarder) buildPackage(ctx context.Context, route Route, dst domain.DomainClient,
	rec *model.OrderRecord, anchor proof.Anchor) (*proof.Package, error) {
	msg := proof.MessageHash(rec.OrderID, rec.FillerIdentifier)
	pkg := &proof.Package{
		Mode:           route.Mode,
		AnchorPosition: anchor.Position,
		AnchorRoot:     anchor.Root,
	}

	stateRoot := anchor.Root
	if route.BeaconAnchored {
		if f.beacon == nil {
			return nil, apperrors.New(apperrors.ErrInternal, "beacon anchored route without a beacon source", nil)
		}
		block, err := f.beacon.FetchBeaconBlock(ctx, anchor.Root)
		if err != nil {
			return nil, err
		}
		if n := block.ExecutionBlockNumber(); n != anchor.Position {
			return nil, apperrors.NewInvariantViolation(
				fmt.Sprintf("beacon block carries execution block %d, anchor says %d", n, anchor.Position))
		}
		branch, err := proof.ExecutionStateRootProof(block)
		if err != nil {
			return nil, err
		}
		stateRoot = branch.StateRoot
		pkg.StateRoot = branch.StateRoot
		pkg.StateBranch = branch.Branch
	}

	switch route.Mode {
	case proof.ModeStorage:
		p, err := dst.GetStorageProof(ctx, rec.Order.DestinationSettler, proof.SettledSlotKey(msg, route.OutboxSlot), anchor.Position)
		if err != nil {
			return nil, err
		}
		if common.BytesToHash(p.Value) == (common.Hash{}) {
			return nil, apperrors.NewProofNotReady("settled message not in destination storage at anchor")
		}
		if p.Root != stateRoot {
			return nil, apperrors.NewInvariantViolation(
				fmt.Sprintf("storage proof root %s does not match anchored root %s", p.Root.Hex(), stateRoot.Hex()))
		}
		pkg.Proof = p
	case proof.ModeMembership:
		p, err := dst.GetMembershipWitness(ctx, domain.TreeOutbound, anchor.Position, msg)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, apperrors.NewProofNotReady("settled message not in destination outbox at anchor")
		}
		pkg.Proof = p
	default:
		return nil, apperrors.New(apperrors.ErrInternal, fmt.Sprintf("unknown proof mode %d", route.Mode), nil)
	}
	return pkg, nil
}
