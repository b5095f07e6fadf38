package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/notify"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/pkg/metrics"
)

const DefaultConfirmationTimeout = 2 * time.Minute

// Timeouts holds the confirmation timeout of each domain.
type Timeouts map[uint32]time.Duration

func (t Timeouts) For(domainID uint32) time.Duration {
	if d, ok := t[domainID]; ok && d > 0 {
		return d
	}
	return DefaultConfirmationTimeout
}

// confirm waits for ref and fails unless the transaction succeeded. The wait
// is detached from ctx cancellation: once a transaction is sent the outcome
// is awaited until the timeout even during shutdown.
func confirm(ctx context.Context, c domain.DomainClient, ref domain.TxRef, timeout time.Duration) (*domain.Receipt, error) {
	start := time.Now()
	receipt, err := c.WaitForConfirmation(context.WithoutCancel(ctx), ref, timeout)
	metrics.ConfirmationLatency.WithLabelValues(c.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return nil, apperrors.DomainRPC(c.Name(), "confirm "+ref.Hash, errors.New("transaction reverted"))
	}
	return receipt, nil
}

// announce counts the transition of rec and publishes it.
func announce(ctx context.Context, n notify.Publisher, l *slog.Logger, rec *model.OrderRecord, txRef string) {
	metrics.StatusTransitions.WithLabelValues(string(rec.Status)).Inc()
	if err := n.Publish(ctx, notify.FromRecord(rec, txRef)); err != nil {
		logger.LogAt(ctx, l, slog.LevelWarn, err, "status notification failed", "order_id", rec.OrderID.Hex(), "status", rec.Status)
	}
}

func domainLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

// expected reports whether err is an outcome a task loop tolerates silently.
func expected(err error) bool {
	return apperrors.LogLevel(err) < slog.LevelWarn
}
