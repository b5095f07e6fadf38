package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderView is the JSON shape of an order record on the ops API.
type OrderView struct {
	OrderID            OrderID       `json:"order_id"`
	Status             OrderStatus   `json:"status"`
	OrderType          string        `json:"order_type"`
	OriginDomain       uint32        `json:"origin_domain"`
	DestinationDomain  uint32        `json:"destination_domain"`
	AmountIn           string        `json:"amount_in"`
	AmountOut          string        `json:"amount_out"`
	FillDeadline       uint32        `json:"fill_deadline"`
	Filler             common.Hash   `json:"filler"`
	FillTxRef          string        `json:"fill_tx_ref"`
	FillPosition       uint64        `json:"fill_position"`
	ForwardSettleTxRef string        `json:"forward_settle_tx_ref,omitempty"`
	SettleTxRef        string        `json:"settle_tx_ref,omitempty"`
	Resolved           ResolvedOrder `json:"resolved"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func NewOrderView(rec *OrderRecord) OrderView {
	return OrderView{
		OrderID:            rec.OrderID,
		Status:             rec.Status,
		OrderType:          rec.Order.OrderType.String(),
		OriginDomain:       rec.Order.OriginDomain,
		DestinationDomain:  rec.Order.DestinationDomain,
		AmountIn:           rec.Order.AmountIn.Dec(),
		AmountOut:          rec.Order.AmountOut.Dec(),
		FillDeadline:       rec.Order.FillDeadline,
		Filler:             rec.FillerIdentifier,
		FillTxRef:          rec.FillTxRef,
		FillPosition:       rec.FillPosition,
		ForwardSettleTxRef: rec.ForwardSettleTxRef,
		SettleTxRef:        rec.SettleTxRef,
		Resolved:           rec.Resolved,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

// DomainView describes one configured domain on the ops API.
type DomainView struct {
	DomainID uint32      `json:"domain_id"`
	Name     string      `json:"name"`
	Account  common.Hash `json:"account"`
	Head     uint64      `json:"head"`
	Error    string      `json:"error,omitempty"`
}
