package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderRecord is the relayer's durable view of an order. One per OrderID.
type OrderRecord struct {
	OrderID            OrderID
	Order              OrderData
	Resolved           ResolvedOrder
	Status             OrderStatus
	FillerIdentifier   common.Hash
	FillTxRef          string
	FillPosition       uint64
	ForwardSettleTxRef string
	SettleTxRef        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RecordFields carries the optional fields written alongside a status change.
// Empty values leave the stored field untouched.
type RecordFields struct {
	ForwardSettleTxRef string
	SettleTxRef        string
}

// Apply copies the non-empty fields onto rec.
func (f RecordFields) Apply(rec *OrderRecord) {
	if f.ForwardSettleTxRef != "" {
		rec.ForwardSettleTxRef = f.ForwardSettleTxRef
	}
	if f.SettleTxRef != "" {
		rec.SettleTxRef = f.SettleTxRef
	}
}

type EventKind string

const (
	EventOpened EventKind = "Open"
	EventFilled EventKind = "Filled"
)

// OrderEvent is a fully assembled Open or Filled event.
type OrderEvent struct {
	Kind     EventKind
	Domain   uint32
	OrderID  OrderID
	Order    OrderData
	Filler   common.Hash
	Position uint64
	TxRef    string
}

// WatcherCursor is the watermark of one watcher: the last position whose
// events have been handed off.
type WatcherCursor struct {
	Domain      uint32
	Kind        EventKind
	LastSeen    uint64
	Initialized bool
}
