package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/manager"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/notify"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/pkg/metrics"
	"github.com/GoPolymarket/relaygate/internal/repository"
	"github.com/ethereum/go-ethereum/common"
)

const (
	fnFill        = "fill"
	fnFillPrivate = "fill_private"
	fnOrderStatus = "orderStatus"
)

// FillCoordinator fills orders opened on an origin domain by delivering the
// output on their destination domain.
type FillCoordinator struct {
	registry *domain.Registry
	store    repository.OrderStore
	locks    *manager.DomainLocks
	pricer   *Pricer
	notifier notify.Publisher
	timeouts Timeouts
	now      func() time.Time
	log      *slog.Logger

	// pending holds Open events whose fill failed transiently. The watcher
	// never delivers an event twice, so they are retried from here.
	pendingMu sync.Mutex
	pending   map[model.OrderID]model.OrderEvent
}

func NewFillCoordinator(registry *domain.Registry, store repository.OrderStore, locks *manager.DomainLocks,
	pricer *Pricer, notifier notify.Publisher, timeouts Timeouts) *FillCoordinator {
	if pricer == nil {
		pricer = NewPricer(nil, 0)
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &FillCoordinator{
		registry: registry,
		store:    store,
		locks:    locks,
		pricer:   pricer,
		notifier: notifier,
		timeouts: timeouts,
		now:      time.Now,
		log:      logger.Component("fill"),
		pending:  make(map[model.OrderID]model.OrderEvent),
	}
}

// HandleOpened attempts a fill for every Open event. Expected skips are
// logged per order; the remaining failures are returned joined. Orders that
// failed transiently are kept for RetryPending.
func (c *FillCoordinator) HandleOpened(ctx context.Context, events []model.OrderEvent) error {
	return c.attempt(ctx, events)
}

// RetryPending attempts again every fill that failed transiently. An order
// leaves the pending set once it is recorded, expires, turns out filled on
// its destination or fails for good.
func (c *FillCoordinator) RetryPending(ctx context.Context) error {
	c.pendingMu.Lock()
	events := make([]model.OrderEvent, 0, len(c.pending))
	for _, ev := range c.pending {
		events = append(events, ev)
	}
	c.pendingMu.Unlock()
	if len(events) == 0 {
		return nil
	}
	c.log.Debug("retrying pending fills", "count", len(events))
	return c.attempt(ctx, events)
}

// Pending returns the number of orders waiting for a fill retry.
func (c *FillCoordinator) Pending() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *FillCoordinator) attempt(ctx context.Context, events []model.OrderEvent) error {
	var errs []error
	for _, ev := range events {
		if ev.Kind != model.EventOpened {
			continue
		}
		err := c.fill(ctx, ev)
		metrics.Fills.WithLabelValues(domainLabel(ev.Order.DestinationDomain), fillResult(err)).Inc()
		c.track(ev, retryable(err))
		if err == nil || errors.Is(err, errDeclined) {
			continue
		}
		if errors.Is(err, errNotServed) {
			c.log.Debug("order for a domain this relayer does not serve", "order_id", ev.OrderID.Hex(),
				"destination", ev.Order.DestinationDomain)
			continue
		}
		if expected(err) {
			logger.LogAt(ctx, c.log, apperrors.LogLevel(err), err, "fill skipped", "order_id", ev.OrderID.Hex())
			continue
		}
		errs = append(errs, fmt.Errorf("order %s: %w", ev.OrderID.Hex(), err))
	}
	return errors.Join(errs...)
}

func (c *FillCoordinator) fill(ctx context.Context, ev model.OrderEvent) error {
	order := ev.Order
	if err := c.checkFresh(ctx, ev.OrderID); err != nil {
		return err
	}
	if int64(order.FillDeadline) < c.now().Unix() {
		return apperrors.NewOrderExpired(fmt.Sprintf("fill deadline %d passed", order.FillDeadline))
	}
	dst, err := c.registry.Client(order.DestinationDomain)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrUnsupportedDomain) {
			return errNotServed
		}
		return err
	}
	quote := c.pricer.Evaluate(order)
	if !quote.Accept {
		c.log.Info("order declined by pricer", "order_id", ev.OrderID.Hex(), "reason", quote.Reason)
		return errDeclined
	}
	c.log.Debug("order priced", "order_id", ev.OrderID.Hex(), "spread_bps", quote.SpreadBps.StringFixed(2))
	if err := c.checkDestination(ctx, dst, order.DestinationSettler, ev.OrderID); err != nil {
		return err
	}

	rec, err := c.fillLocked(ctx, ev, dst)
	if err != nil {
		return err
	}
	// Published after the destination lock is released.
	announce(ctx, c.notifier, c.log, rec, rec.FillTxRef)
	return nil
}

// fillLocked submits the fill while holding the destination lock and
// records it once confirmed.
func (c *FillCoordinator) fillLocked(ctx context.Context, ev model.OrderEvent, dst domain.DomainClient) (*model.OrderRecord, error) {
	order := ev.Order
	unlock := c.locks.Lock(order.DestinationDomain)
	defer unlock()

	// A concurrent attempt may have filled while we waited for the lock.
	if err := c.checkFresh(ctx, ev.OrderID); err != nil {
		return nil, err
	}
	if err := c.checkDestination(ctx, dst, order.DestinationSettler, ev.OrderID); err != nil {
		return nil, err
	}

	timeout := c.timeouts.For(order.DestinationDomain)
	private := order.OrderType.IsPrivate()
	auth := domain.Authorization{
		Token:   order.OutputToken,
		Spender: order.DestinationSettler,
		Amount:  order.AmountOut.ToBig(),
		Private: private,
	}
	if private {
		if _, err := rand.Read(auth.Nonce[:]); err != nil {
			return nil, fmt.Errorf("authorization nonce: %w", err)
		}
	}
	authRef, err := dst.Authorize(ctx, auth)
	if err != nil {
		return nil, err
	}
	if authRef != nil {
		if _, err := confirm(ctx, dst, *authRef, timeout); err != nil {
			return nil, err
		}
	}

	call := domain.Call{
		Contract: order.DestinationSettler,
		Function: fnFill,
		Args:     []any{ev.OrderID, codec.Encode(order), dst.Account().Bytes()},
	}
	if private {
		call.Function = fnFillPrivate
		call.Args = append(call.Args, auth.Nonce)
	}
	ref, err := dst.SubmitTransaction(ctx, call)
	if err != nil {
		return nil, err
	}
	c.log.Info("fill submitted", "order_id", ev.OrderID.Hex(), "domain", dst.Name(), "tx", ref.Hash, "function", call.Function)

	receipt, err := confirm(ctx, dst, ref, timeout)
	if err != nil {
		return nil, err
	}
	return c.record(ctx, ev.OrderID, order, dst.Account(), ref.Hash, receipt.Position)
}

func (c *FillCoordinator) track(ev model.OrderEvent, retry bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if retry {
		c.pending[ev.OrderID] = ev
		return
	}
	delete(c.pending, ev.OrderID)
}

// checkFresh fails with AlreadyProcessed when a record for id exists.
func (c *FillCoordinator) checkFresh(ctx context.Context, id model.OrderID) error {
	exists, err := repository.Exists(ctx, c.store, id)
	if err != nil {
		return err
	}
	if exists {
		return apperrors.NewAlreadyProcessed("order already recorded")
	}
	return nil
}

func (c *FillCoordinator) checkDestination(ctx context.Context, dst domain.DomainClient, settler common.Hash, id model.OrderID) error {
	out, err := dst.ReadState(ctx, domain.Call{Contract: settler, Function: fnOrderStatus, Args: []any{id}})
	if err != nil {
		return err
	}
	if common.BytesToHash(out) != (common.Hash{}) {
		return apperrors.NewAlreadyProcessed("order already filled on destination")
	}
	return nil
}

// record stores the fill. The caller announces the returned record.
func (c *FillCoordinator) record(ctx context.Context, id model.OrderID, order model.OrderData, filler common.Hash, txRef string, position uint64) (*model.OrderRecord, error) {
	now := c.now().UTC()
	rec := &model.OrderRecord{
		OrderID:          id,
		Order:            order,
		Resolved:         codec.Resolve(order),
		Status:           model.FillStatus(order.OrderType),
		FillerIdentifier: filler,
		FillTxRef:        txRef,
		FillPosition:     position,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	created, err := c.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, apperrors.NewAlreadyProcessed("order recorded concurrently")
	}
	c.log.Info("order filled", "order_id", id.Hex(), "status", rec.Status, "position", position)
	return rec, nil
}

// HandleFilled records fills made by this relayer that the store is missing,
// which happens when the process stops between confirmation and insert.
func (c *FillCoordinator) HandleFilled(ctx context.Context, events []model.OrderEvent) error {
	var errs []error
	for _, ev := range events {
		if ev.Kind != model.EventFilled {
			continue
		}
		dst, err := c.registry.Client(ev.Domain)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ev.Filler != dst.Account() {
			continue
		}
		exists, err := repository.Exists(ctx, c.store, ev.OrderID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if exists {
			continue
		}
		rec, err := c.record(ctx, ev.OrderID, ev.Order, ev.Filler, ev.TxRef, ev.Position)
		if err != nil {
			if !expected(err) {
				errs = append(errs, fmt.Errorf("reconcile %s: %w", ev.OrderID.Hex(), err))
			}
			continue
		}
		c.log.Warn("reconciled fill missing from store", "order_id", ev.OrderID.Hex(), "tx", ev.TxRef)
		announce(ctx, c.notifier, c.log, rec, ev.TxRef)
	}
	return errors.Join(errs...)
}

var (
	errDeclined  = errors.New("declined by pricer")
	errNotServed = errors.New("destination domain not served")
)

// retryable reports whether a failed fill may succeed on a later attempt.
// Malformed orders, unknown destinations and invariant violations never will.
func retryable(err error) bool {
	if err == nil || errors.Is(err, errDeclined) || errors.Is(err, errNotServed) || expected(err) {
		return false
	}
	switch apperrors.TypeOf(err) {
	case apperrors.ErrMalformedOrder, apperrors.ErrUnsupportedDomain, apperrors.ErrInvariantViolation:
		return false
	}
	return true
}

func fillResult(err error) string {
	switch {
	case err == nil:
		return "filled"
	case errors.Is(err, errDeclined):
		return "declined"
	case errors.Is(err, errNotServed):
		return "not_served"
	case apperrors.Is(err, apperrors.ErrAlreadyProcessed):
		return "already_processed"
	case apperrors.Is(err, apperrors.ErrOrderExpired):
		return "expired"
	default:
		return "failed"
	}
}
