package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/pkg/metrics"
	"github.com/GoPolymarket/relaygate/internal/repository"
)

// Handler receives the events assembled by one poll. Its error is logged and
// never causes the events to be delivered again.
type Handler func(ctx context.Context, events []model.OrderEvent) error

type Options struct {
	// LogRetryMax bounds the retries of a fetch that hits ErrLogsNotReady.
	LogRetryMax int
	// LogRetryBackoff is the first retry delay; it doubles every attempt.
	LogRetryBackoff time.Duration
	// PartialHold is how many positions the logs of an incomplete multi-log
	// event are kept waiting for the rest of the event.
	PartialHold uint64
}

const defaultPartialHold = 64

// Watcher follows one event kind on one domain. It keeps a watermark of the
// last position handed to the handler and never looks at a position twice.
type Watcher struct {
	client  domain.DomainClient
	kind    model.EventKind
	cursors repository.CursorStore
	handler Handler
	opts    Options
	log     *slog.Logger

	mu     sync.Mutex
	cursor model.WatcherCursor
	loaded bool
	// carry holds logs of events that were still missing logs at the last poll.
	carry []domain.RawEvent
}

func New(client domain.DomainClient, kind model.EventKind, cursors repository.CursorStore, handler Handler, opts Options) *Watcher {
	if opts.LogRetryBackoff <= 0 {
		opts.LogRetryBackoff = 200 * time.Millisecond
	}
	if opts.PartialHold == 0 {
		opts.PartialHold = defaultPartialHold
	}
	return &Watcher{
		client:  client,
		kind:    kind,
		cursors: cursors,
		handler: handler,
		opts:    opts,
		log: logger.Component("watcher").With(
			"domain", client.Name(),
			"kind", string(kind),
		),
	}
}

// Name identifies the watcher in schedules and logs.
func (w *Watcher) Name() string {
	return fmt.Sprintf("watch-%s-%s", w.client.Name(), w.kind)
}

// Cursor returns the current watermark.
func (w *Watcher) Cursor() model.WatcherCursor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// Poll runs one cycle: fetch everything after the watermark up to the head,
// advance the watermark, then hand the assembled events to the handler.
func (w *Watcher) Poll(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	head, err := w.client.CurrentHead(ctx)
	if err != nil {
		return rpcError(w.client.Name(), "current_head", err)
	}

	if err := w.loadCursor(ctx, head); err != nil {
		return err
	}
	if w.cursor.LastSeen+1 > head {
		return nil
	}

	from := w.cursor.LastSeen + 1
	raw, err := w.fetch(ctx, from, head)
	if err != nil {
		return err
	}

	if len(w.carry) > 0 {
		raw = append(append(make([]domain.RawEvent, 0, len(w.carry)+len(raw)), w.carry...), raw...)
	}
	assembled := Assemble(w.client.DomainID(), w.kind, raw, Layout{
		LogsPerEvent: w.client.LogsPerEvent(w.kind),
		FillerOffset: w.client.FillerOffset(),
	})
	events := assembled.Events
	domainLabel := strconv.FormatUint(uint64(w.client.DomainID()), 10)
	if assembled.Overfull > 0 {
		metrics.WatcherDropped.WithLabelValues(domainLabel, "overfull_group").Add(float64(assembled.Overfull))
		w.log.Warn("log groups with too many logs dropped", "groups", assembled.Overfull, "from", from, "to", head)
	}
	w.holdIncomplete(assembled.Incomplete, head, domainLabel)
	for _, p := range assembled.Problems {
		metrics.WatcherDropped.WithLabelValues(domainLabel, string(apperrors.TypeOf(p))).Inc()
		logger.LogAt(ctx, w.log, apperrors.LogLevel(p), p, "discarding event", "from", from, "to", head)
	}

	// At-most-once: the watermark moves before the handler runs.
	w.cursor.LastSeen = head
	w.cursor.Initialized = true
	if err := w.cursors.SaveCursor(ctx, w.cursor); err != nil {
		logger.LogAt(ctx, w.log, slog.LevelWarn, err, "failed to persist watermark", "last_seen", head)
	}
	metrics.WatcherWatermark.WithLabelValues(domainLabel, string(w.kind)).Set(float64(head))

	if len(events) == 0 {
		return nil
	}
	metrics.OrdersObserved.WithLabelValues(domainLabel, string(w.kind)).Add(float64(len(events)))
	w.log.Debug("events assembled", "count", len(events), "from", from, "to", head)

	if err := w.handler(ctx, events); err != nil {
		logger.LogAt(ctx, w.log, apperrors.LogLevel(err), err, "handler failed", "count", len(events))
	}
	return nil
}

// holdIncomplete keeps the logs of unfinished events for the next poll and
// drops those that have waited more than PartialHold positions.
func (w *Watcher) holdIncomplete(logs []domain.RawEvent, head uint64, domainLabel string) {
	w.carry = nil
	dropped := 0
	for _, l := range logs {
		if l.Position+w.opts.PartialHold < head {
			dropped++
			continue
		}
		w.carry = append(w.carry, l)
	}
	if dropped > 0 {
		metrics.WatcherDropped.WithLabelValues(domainLabel, "partial_group").Add(float64(dropped))
		w.log.Warn("incomplete event logs expired", "logs", dropped, "head", head)
	}
	if len(w.carry) > 0 {
		w.log.Debug("holding incomplete event logs", "logs", len(w.carry))
	}
}

func (w *Watcher) loadCursor(ctx context.Context, head uint64) error {
	if w.loaded {
		return nil
	}
	cursor, err := w.cursors.LoadCursor(ctx, w.client.DomainID(), w.kind)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	if !cursor.Initialized {
		// start one behind the head so the head position is processed
		cursor.LastSeen = 0
		if head > 0 {
			cursor.LastSeen = head - 1
		}
		cursor.Initialized = true
		w.log.Info("watermark initialized", "last_seen", cursor.LastSeen)
	} else {
		w.log.Info("watermark resumed", "last_seen", cursor.LastSeen)
	}
	w.cursor = cursor
	w.loaded = true
	return nil
}

// fetch retries while the node reports the logs of the range as not yet
// indexed, doubling the delay each time.
func (w *Watcher) fetch(ctx context.Context, from, to uint64) ([]domain.RawEvent, error) {
	delay := w.opts.LogRetryBackoff
	for attempt := 0; ; attempt++ {
		raw, err := w.client.GetEvents(ctx, w.kind, from, to)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, domain.ErrLogsNotReady) || attempt >= w.opts.LogRetryMax {
			return nil, rpcError(w.client.Name(), "get_events", err)
		}
		w.log.Debug("logs not ready, retrying", "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func rpcError(domainName, op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.DomainRPC(domainName, op, err)
}
