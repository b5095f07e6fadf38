package notify

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// Event announces that an order record reached a new status.
type Event struct {
	OrderID     common.Hash       `json:"order_id"`
	Status      model.OrderStatus `json:"status"`
	Origin      uint32            `json:"origin_domain"`
	Destination uint32            `json:"destination_domain"`
	TxRef       string            `json:"tx_ref,omitempty"`
	At          time.Time         `json:"at"`
}

// FromRecord builds the event for rec's current status.
func FromRecord(rec *model.OrderRecord, txRef string) Event {
	return Event{
		OrderID:     rec.OrderID,
		Status:      rec.Status,
		Origin:      rec.Order.OriginDomain,
		Destination: rec.Order.DestinationDomain,
		TxRef:       txRef,
		At:          rec.UpdatedAt,
	}
}

// Publisher delivers status events. Delivery is best effort: the order store
// stays the source of truth and a failed publish never rolls anything back.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
