package main

import (
	"testing"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	o := model.OrderData{
		Recipient:         common.HexToHash("0x02"),
		AmountIn:          *uint256.NewInt(10),
		AmountOut:         *uint256.NewInt(9),
		OriginDomain:      1,
		DestinationDomain: 2,
		OrderType:         model.OrderTypePrivate,
	}
	out, err := decode(codec.EncodeHex(o))
	require.NoError(t, err)
	assert.Equal(t, codec.ID(o), out.OrderID)
	assert.Equal(t, "PRIVATE", out.OrderType)
	assert.True(t, out.Hidden)
	assert.Equal(t, out.OrderID, out.Resolved.OrderID)

	_, err = decode("0x1234")
	assert.Error(t, err)
}

func TestLookupRejectsBadID(t *testing.T) {
	_, err := lookup("0xabc")
	assert.ErrorContains(t, err, "32 byte hex")
}
