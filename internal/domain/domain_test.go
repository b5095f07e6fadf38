package domain

import (
	"context"
	"testing"
	"time"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	id    uint32
	heads int
}

func (s *stubClient) DomainID() uint32 { return s.id }
func (s *stubClient) Name() string { return "stub" }
func (s *stubClient) Account() common.Hash { return common.Hash{} }
func (s *stubClient) LogsPerEvent(model.EventKind) int { return 1 }
func (s *stubClient) FillerOffset() int { return 301 }
func (s *stubClient) CurrentHead(context.Context) (uint64, error) {
	s.heads++
	return 10, nil
}
func (s *stubClient) GetEvents(context.Context, model.EventKind, uint64, uint64) ([]RawEvent, error) {
	return nil, nil
}
func (s *stubClient) ReadState(context.Context, Call) ([]byte, error) { return nil, nil }
func (s *stubClient) SubmitTransaction(context.Context, Call) (TxRef, error) { return TxRef{}, nil }
func (s *stubClient) Authorize(context.Context, Authorization) (*TxRef, error) { return nil, nil }
func (s *stubClient) WaitForConfirmation(context.Context, TxRef, time.Duration) (*Receipt, error) {
	return nil, nil
}
func (s *stubClient) GetMembershipWitness(context.Context, MessageTree, uint64, common.Hash) (*Proof, error) {
	return nil, nil
}
func (s *stubClient) GetStorageProof(context.Context, common.Hash, common.Hash, uint64) (*Proof, error) {
	return nil, nil
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	gateway := common.HexToHash("0xabc")
	reg.Register(&stubClient{id: 2}, gateway)
	reg.Register(&stubClient{id: 1}, common.Hash{})

	c, err := reg.Client(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), c.DomainID())

	g, err := reg.Gateway(2)
	require.NoError(t, err)
	assert.Equal(t, gateway, g)

	_, err = reg.Client(3)
	assert.True(t, apperrors.Is(err, apperrors.ErrUnsupportedDomain))

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, uint32(1), all[0].DomainID())
}

func TestRateLimitPassThrough(t *testing.T) {
	inner := &stubClient{id: 5}
	assert.Same(t, inner, WithRateLimit(inner, 0, 0))

	limited := WithRateLimit(inner, 1000, 10)
	head, err := limited.CurrentHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), head)
	assert.Equal(t, 1, inner.heads)
	assert.Equal(t, uint32(5), limited.DomainID())
}

func TestRateLimitHonoursContext(t *testing.T) {
	limited := WithRateLimit(&stubClient{id: 5}, 0.001, 1)
	ctx := context.Background()
	_, err := limited.CurrentHead(ctx)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = limited.CurrentHead(ctx)
	assert.Error(t, err)
}
