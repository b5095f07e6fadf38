package manager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
)

// PendingNonceSource reports the next nonce an account may use, mempool included.
// *ethclient.Client satisfies it.
type PendingNonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out EVM transaction nonces optimistically so several
// submissions from the same account do not wait on each other's inclusion.
type NonceManager struct {
	source PendingNonceSource

	txNonces map[common.Address]uint64
	txMu     sync.Mutex
}

func NewNonceManager(source PendingNonceSource) *NonceManager {
	return &NonceManager{
		source:   source,
		txNonces: make(map[common.Address]uint64),
	}
}

// NextTxNonce reserves the next nonce for addr. The first call per address
// fetches the pending nonce from the chain.
func (m *NonceManager) NextTxNonce(ctx context.Context, addr common.Address) (uint64, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	nonce, ok := m.txNonces[addr]
	if !ok {
		fetched, err := m.source.PendingNonceAt(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch pending nonce: %w", err)
		}
		nonce = fetched
	}
	m.txNonces[addr] = nonce + 1
	return nonce, nil
}

// ResetTxNonce forces a re-sync from the chain.
// Call this after "nonce too low" or when a reserved nonce was never broadcast.
func (m *NonceManager) ResetTxNonce(ctx context.Context, addr common.Address) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	fetched, err := m.source.PendingNonceAt(ctx, addr)
	if err != nil {
		delete(m.txNonces, addr)
		return err
	}
	m.txNonces[addr] = fetched
	logger.Info("Reset TX nonce", "address", addr.Hex(), "nonce", fetched)
	return nil
}

// IsNonceError reports whether err is a node rejection caused by a stale nonce.
func IsNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced") ||
		strings.Contains(msg, "already known")
}
