package proof

import (
	"fmt"
	"math/big"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// SettleTag domain-separates settlement messages from any other message the
// gateways exchange.
var SettleTag = crypto.Keccak256Hash([]byte("SETTLE"))

// MessageHash is keccak256(abi.encode(SETTLE_TAG, orderId, filler)). All
// three are bytes32, so the encoding is their plain concatenation.
func MessageHash(orderID model.OrderID, filler common.Hash) common.Hash {
	return crypto.Keccak256Hash(SettleTag.Bytes(), orderID.Bytes(), filler.Bytes())
}

// SettledSlotKey is the storage key of messageHash in a mapping whose base
// slot is baseSlot.
func SettledSlotKey(messageHash common.Hash, baseSlot uint64) common.Hash {
	slot := math.U256Bytes(new(big.Int).SetUint64(baseSlot))
	return crypto.Keccak256Hash(messageHash.Bytes(), slot)
}

// Anchor is the newest destination state a trusting domain has committed.
type Anchor struct {
	Position uint64
	Root     common.Hash
}

// DecodeAnchor parses the (uint256 position, bytes32 root) returned by an
// anchor contract's latestAnchor.
func DecodeAnchor(data []byte) (Anchor, error) {
	if len(data) < 64 {
		return Anchor{}, apperrors.NewInvariantViolation(fmt.Sprintf("anchor response is %d bytes, want 64", len(data)))
	}
	pos := new(big.Int).SetBytes(data[:32])
	if !pos.IsUint64() {
		return Anchor{}, apperrors.NewInvariantViolation("anchor position overflows uint64")
	}
	return Anchor{Position: pos.Uint64(), Root: common.BytesToHash(data[32:64])}, nil
}
