package codec

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// OrderDataLength is the size of the canonical encoding.
const OrderDataLength = 301

// Field offsets of the canonical layout. Fixed width, big-endian, no padding.
const (
	offSender             = 0
	offRecipient          = 32
	offInputToken         = 64
	offOutputToken        = 96
	offAmountIn           = 128
	offAmountOut          = 160
	offSenderNonce        = 192
	offOriginDomain       = 224
	offDestinationDomain  = 228
	offDestinationSettler = 232
	offFillDeadline       = 264
	offOrderType          = 268
	offData               = 269
)

// Encode returns the canonical 301 byte encoding of o.
func Encode(o model.OrderData) []byte {
	data := make([]byte, OrderDataLength)

	copy(data[offSender:offRecipient], o.Sender.Bytes())
	copy(data[offRecipient:offInputToken], o.Recipient.Bytes())
	copy(data[offInputToken:offOutputToken], o.InputToken.Bytes())
	copy(data[offOutputToken:offAmountIn], o.OutputToken.Bytes())

	amountIn := o.AmountIn.Bytes32()
	copy(data[offAmountIn:offAmountOut], amountIn[:])
	amountOut := o.AmountOut.Bytes32()
	copy(data[offAmountOut:offSenderNonce], amountOut[:])
	nonce := o.SenderNonce.Bytes32()
	copy(data[offSenderNonce:offOriginDomain], nonce[:])

	binary.BigEndian.PutUint32(data[offOriginDomain:offDestinationDomain], o.OriginDomain)
	binary.BigEndian.PutUint32(data[offDestinationDomain:offDestinationSettler], o.DestinationDomain)
	copy(data[offDestinationSettler:offFillDeadline], o.DestinationSettler.Bytes())
	binary.BigEndian.PutUint32(data[offFillDeadline:offOrderType], o.FillDeadline)
	data[offOrderType] = byte(o.OrderType)
	copy(data[offData:OrderDataLength], o.Data.Bytes())

	return data
}

// Decode parses a canonical encoding. It fails with MALFORMED_ORDER on a
// length mismatch or an unknown order type.
func Decode(data []byte) (model.OrderData, error) {
	var o model.OrderData
	if len(data) != OrderDataLength {
		return o, apperrors.NewMalformedOrder(
			fmt.Sprintf("order data is %d bytes, want %d", len(data), OrderDataLength))
	}

	orderType := model.OrderType(data[offOrderType])
	if !orderType.Valid() {
		return o, apperrors.NewMalformedOrder(fmt.Sprintf("unknown order type %d", uint8(orderType)))
	}

	o.Sender = common.BytesToHash(data[offSender:offRecipient])
	o.Recipient = common.BytesToHash(data[offRecipient:offInputToken])
	o.InputToken = common.BytesToHash(data[offInputToken:offOutputToken])
	o.OutputToken = common.BytesToHash(data[offOutputToken:offAmountIn])
	o.AmountIn.SetBytes32(data[offAmountIn:offAmountOut])
	o.AmountOut.SetBytes32(data[offAmountOut:offSenderNonce])
	o.SenderNonce.SetBytes32(data[offSenderNonce:offOriginDomain])
	o.OriginDomain = binary.BigEndian.Uint32(data[offOriginDomain:offDestinationDomain])
	o.DestinationDomain = binary.BigEndian.Uint32(data[offDestinationDomain:offDestinationSettler])
	o.DestinationSettler = common.BytesToHash(data[offDestinationSettler:offFillDeadline])
	o.FillDeadline = binary.BigEndian.Uint32(data[offFillDeadline:offOrderType])
	o.OrderType = orderType
	o.Data = common.BytesToHash(data[offData:OrderDataLength])

	return o, nil
}

// ID is keccak256 over the canonical encoding. Pure and offline.
func ID(o model.OrderData) model.OrderID {
	return crypto.Keccak256Hash(Encode(o))
}

// Resolve derives the cross-domain view of o.
func Resolve(o model.OrderData) model.ResolvedOrder {
	return model.ResolvedOrder{
		User:         o.Sender,
		OriginDomain: o.OriginDomain,
		OpenDeadline: 0,
		FillDeadline: o.FillDeadline,
		OrderID:      ID(o),
		MaxSpent: []model.Output{{
			Token:     o.OutputToken,
			Amount:    o.AmountOut.Dec(),
			Recipient: o.Recipient,
			Domain:    o.DestinationDomain,
		}},
		MinReceived: []model.Output{{
			Token:  o.InputToken,
			Amount: o.AmountIn.Dec(),
			Domain: o.OriginDomain,
		}},
		FillInstructions: []model.FillInstruction{{
			DestinationDomain:  o.DestinationDomain,
			DestinationSettler: o.DestinationSettler,
			OriginData:         Encode(o),
		}},
	}
}

func EncodeHex(o model.OrderData) string {
	return hexutil.Encode(Encode(o))
}

// DecodeHex accepts the encoding with or without a 0x prefix.
func DecodeHex(s string) (model.OrderData, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return model.OrderData{}, apperrors.New(apperrors.ErrMalformedOrder, "invalid hex", err)
	}
	return Decode(raw)
}
