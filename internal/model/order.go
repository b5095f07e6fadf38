package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OrderID is the keccak256 content address of an encoded OrderData.
type OrderID = common.Hash

type OrderType uint8

const (
	OrderTypePublic OrderType = iota
	OrderTypePrivate
	OrderTypePublicWithHook
	OrderTypePrivateWithHook
)

func (t OrderType) Valid() bool {
	return t <= OrderTypePrivateWithHook
}

// IsPrivate reports whether the order must be filled through the private path.
func (t OrderType) IsPrivate() bool {
	return t == OrderTypePrivate || t == OrderTypePrivateWithHook
}

func (t OrderType) HasHook() bool {
	return t == OrderTypePublicWithHook || t == OrderTypePrivateWithHook
}

func (t OrderType) String() string {
	switch t {
	case OrderTypePublic:
		return "PUBLIC"
	case OrderTypePrivate:
		return "PRIVATE"
	case OrderTypePublicWithHook:
		return "PUBLIC_WITH_HOOK"
	case OrderTypePrivateWithHook:
		return "PRIVATE_WITH_HOOK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// OrderData is the immutable order as opened on the origin domain.
// All fields are fixed width so the struct is comparable with ==.
type OrderData struct {
	Sender             common.Hash
	Recipient          common.Hash
	InputToken         common.Hash
	OutputToken        common.Hash
	AmountIn           uint256.Int
	AmountOut          uint256.Int
	SenderNonce        uint256.Int
	OriginDomain       uint32
	DestinationDomain  uint32
	DestinationSettler common.Hash
	FillDeadline       uint32
	OrderType          OrderType
	Data               common.Hash
}

// HiddenSender reports whether the opener chose not to reveal its identity.
func (o OrderData) HiddenSender() bool {
	return o.Sender == (common.Hash{})
}

// Output is one leg of a resolved order.
type Output struct {
	Token     common.Hash `json:"token"`
	Amount    string      `json:"amount"`
	Recipient common.Hash `json:"recipient"`
	Domain    uint32      `json:"domain"`
}

type FillInstruction struct {
	DestinationDomain  uint32      `json:"destination_domain"`
	DestinationSettler common.Hash `json:"destination_settler"`
	OriginData         []byte      `json:"origin_data"`
}

// ResolvedOrder is the cross-domain view of an order, derived once from its
// Open event. MaxSpent is what the filler delivers on the destination,
// MinReceived what the filler is paid on the origin.
type ResolvedOrder struct {
	User             common.Hash       `json:"user"`
	OriginDomain     uint32            `json:"origin_domain"`
	OpenDeadline     uint32            `json:"open_deadline"`
	FillDeadline     uint32            `json:"fill_deadline"`
	OrderID          OrderID           `json:"order_id"`
	MaxSpent         []Output          `json:"max_spent"`
	MinReceived      []Output          `json:"min_received"`
	FillInstructions []FillInstruction `json:"fill_instructions"`
}
