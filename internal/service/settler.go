package service

import (
	"context"
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
	"github.com/google/uuid"
)

const fnSettle = "settle"

// Settler completes forwarded settlements on the origin domain, releasing
// the order's input to the filler.
type Settler struct {
	registry *domain.Registry
	store    repository.OrderStore
	notifier notify.Publisher
	timeouts Timeouts
	sweep    sync.Mutex
	log      *slog.Logger
}

func NewSettler(registry *domain.Registry, store repository.OrderStore, notifier notify.Publisher, timeouts Timeouts) *Settler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Settler{
		registry: registry,
		store:    store,
		notifier: notifier,
		timeouts: timeouts,
		log:      logger.Component("settler"),
	}
}

// SettleSweep settles every forwarded order whose message has reached the
// origin's inbound tree.
func (s *Settler) SettleSweep(ctx context.Context) error {
	if !s.sweep.TryLock() {
		metrics.SweepSkips.WithLabelValues("settle", "overlap").Inc()
		return nil
	}
	defer s.sweep.Unlock()

	records, err := s.store.FindByStatus(ctx, model.StatusSettleForwarded)
	if err != nil {
		return err
	}
	log := s.log.With("sweep_id", uuid.NewString())
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.settle(ctx, rec); err != nil {
			metrics.SweepSkips.WithLabelValues("settle", string(apperrors.TypeOf(err))).Inc()
			logger.LogAt(ctx, log, apperrors.LogLevel(err), err, "settle skipped", "order_id", rec.OrderID.Hex())
		}
	}
	return nil
}

func (s *Settler) settle(ctx context.Context, rec *model.OrderRecord) error {
	originID := rec.Order.OriginDomain
	origin, err := s.registry.Client(originID)
	if err != nil {
		return err
	}
	gateway, err := s.registry.Gateway(originID)
	if err != nil {
		return err
	}

	msg := proof.MessageHash(rec.OrderID, rec.FillerIdentifier)
	head, err := origin.CurrentHead(ctx)
	if err != nil {
		return err
	}
	w, err := origin.GetMembershipWitness(ctx, domain.TreeInbound, head, msg)
	if err != nil {
		return err
	}
	if w == nil {
		return apperrors.NewProofNotReady("settlement message not delivered to origin yet")
	}
	witness, err := proof.EncodeWitness(w)
	if err != nil {
		return err
	}

	ref, err := origin.SubmitTransaction(ctx, domain.Call{
		Contract: gateway,
		Function: fnSettle,
		Args:     []any{rec.OrderID, rec.FillerIdentifier, witness},
	})
	if err != nil {
		return err
	}
	s.log.Info("settle submitted", "order_id", rec.OrderID.Hex(), "domain", origin.Name(), "tx", ref.Hash)
	if _, err := confirm(ctx, origin, ref, s.timeouts.For(originID)); err != nil {
		return err
	}

	updated, err := s.store.UpdateStatus(ctx, rec.OrderID, model.StatusSettled, model.RecordFields{SettleTxRef: ref.Hash})
	if err != nil {
		return err
	}
	s.log.Info("order settled", "order_id", rec.OrderID.Hex())
	announce(ctx, s.notifier, s.log, updated, ref.Hash)
	return nil
}
