package watcher

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
)

// FillerDataLength is the size of the filler identifier that follows the
// order in a Filled payload.
const FillerDataLength = 32

// Layout describes how the logs of one domain make up an event.
type Layout struct {
	// LogsPerEvent is the number of logs one event spans.
	LogsPerEvent int
	// FillerOffset is where the filler data starts in a joined Filled payload.
	FillerOffset int
}

// Assembly is the outcome of grouping one batch of raw logs.
type Assembly struct {
	Events []model.OrderEvent
	// Incomplete holds the logs of groups still short of logsPerEvent. They
	// are fed back into the next batch so late logs can complete them.
	Incomplete []domain.RawEvent
	// Overfull counts groups holding more logs than an event is made of.
	Overfull int
	// Problems holds one error per discarded group.
	Problems []error
}

type logGroup struct {
	key      common.Hash
	txRef    string
	position uint64
	logs     []domain.RawEvent
}

// Assemble groups raw logs into events. Logs are grouped by correlation key
// and then by transaction; a group is complete when it holds exactly
// layout.LogsPerEvent logs. Payload fragments are joined in (position, index)
// order. Events come out in the order their first log was emitted.
func Assemble(domainID uint32, kind model.EventKind, raw []domain.RawEvent, layout Layout) Assembly {
	var out Assembly
	logsPerEvent := layout.LogsPerEvent
	if logsPerEvent <= 0 {
		logsPerEvent = 1
	}
	if layout.FillerOffset < codec.OrderDataLength {
		layout.FillerOffset = codec.OrderDataLength
	}

	groups := make(map[common.Hash]map[string]*logGroup)
	var keys []common.Hash
	for _, ev := range raw {
		if ev.Kind != "" && ev.Kind != kind {
			continue
		}
		byTx, ok := groups[ev.Key]
		if !ok {
			byTx = make(map[string]*logGroup)
			groups[ev.Key] = byTx
			keys = append(keys, ev.Key)
		}
		g, ok := byTx[ev.TxRef]
		if !ok {
			g = &logGroup{key: ev.Key, txRef: ev.TxRef, position: ev.Position}
			byTx[ev.TxRef] = g
		}
		g.logs = append(g.logs, ev)
		if ev.Position < g.position {
			g.position = ev.Position
		}
	}

	for _, key := range keys {
		var complete []*logGroup
		for _, g := range groups[key] {
			switch {
			case len(g.logs) < logsPerEvent:
				out.Incomplete = append(out.Incomplete, g.logs...)
				continue
			case len(g.logs) > logsPerEvent:
				out.Overfull++
				continue
			}
			complete = append(complete, g)
		}
		if len(complete) == 0 {
			continue
		}
		sort.Slice(complete, func(i, j int) bool {
			if complete[i].position != complete[j].position {
				return complete[i].position < complete[j].position
			}
			return complete[i].txRef < complete[j].txRef
		})

		var chosen *model.OrderEvent
		var chosenPayload []byte
		for _, g := range complete {
			payload := joinPayload(g.logs)
			ev, err := decodeGroup(domainID, kind, g, payload, layout.FillerOffset)
			if err != nil {
				out.Problems = append(out.Problems, err)
				chosen = nil
				break
			}
			if chosen == nil {
				chosen = ev
				chosenPayload = payload
				continue
			}
			if !bytes.Equal(chosenPayload, payload) {
				out.Problems = append(out.Problems, apperrors.NewInvariantViolation(
					fmt.Sprintf("order %s: conflicting %s events in %s and %s", key.Hex(), kind, chosen.TxRef, g.txRef)))
				chosen = nil
				break
			}
		}
		if chosen != nil {
			out.Events = append(out.Events, *chosen)
		}
	}

	sort.SliceStable(out.Events, func(i, j int) bool {
		return out.Events[i].Position < out.Events[j].Position
	})
	return out
}

func joinPayload(logs []domain.RawEvent) []byte {
	sorted := make([]domain.RawEvent, len(logs))
	copy(sorted, logs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].Index < sorted[j].Index
	})
	var buf bytes.Buffer
	for _, l := range sorted {
		buf.Write(l.Data)
	}
	return buf.Bytes()
}

func decodeGroup(domainID uint32, kind model.EventKind, g *logGroup, payload []byte, fillerOffset int) (*model.OrderEvent, error) {
	need := codec.OrderDataLength
	if kind == model.EventFilled {
		need = fillerOffset + FillerDataLength
	}
	if len(payload) < need {
		return nil, apperrors.NewMalformedOrder(
			fmt.Sprintf("order %s: %s payload is %d bytes, want %d", g.key.Hex(), kind, len(payload), need))
	}

	order, err := codec.Decode(payload[:codec.OrderDataLength])
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", g.key.Hex(), err)
	}
	id := codec.ID(order)
	if id != g.key {
		return nil, apperrors.NewInvariantViolation(
			fmt.Sprintf("log key %s does not match order id %s", g.key.Hex(), id.Hex()))
	}

	ev := &model.OrderEvent{
		Kind:     kind,
		Domain:   domainID,
		OrderID:  id,
		Order:    order,
		Position: g.position,
		TxRef:    g.txRef,
	}
	if kind == model.EventFilled {
		ev.Filler = common.BytesToHash(payload[fillerOffset:need])
	}
	return ev, nil
}
