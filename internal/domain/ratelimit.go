package domain

import (
	"context"
	"time"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// RateLimited throttles every RPC-backed call of the wrapped client.
type RateLimited struct {
	inner   DomainClient
	limiter *rate.Limiter
}

// WithRateLimit wraps c with a token bucket of qps and burst. A non-positive
// qps returns c unchanged.
func WithRateLimit(c DomainClient, qps float64, burst int) DomainClient {
	if qps <= 0 {
		return c
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{inner: c, limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

func (r *RateLimited) DomainID() uint32 { return r.inner.DomainID() }
func (r *RateLimited) Name() string { return r.inner.Name() }
func (r *RateLimited) Account() common.Hash { return r.inner.Account() }

func (r *RateLimited) LogsPerEvent(kind model.EventKind) int {
	return r.inner.LogsPerEvent(kind)
}

func (r *RateLimited) FillerOffset() int { return r.inner.FillerOffset() }

func (r *RateLimited) CurrentHead(ctx context.Context) (uint64, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return r.inner.CurrentHead(ctx)
}

func (r *RateLimited) GetEvents(ctx context.Context, kind model.EventKind, from, to uint64) ([]RawEvent, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetEvents(ctx, kind, from, to)
}

func (r *RateLimited) ReadState(ctx context.Context, call Call) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.ReadState(ctx, call)
}

func (r *RateLimited) SubmitTransaction(ctx context.Context, call Call) (TxRef, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return TxRef{}, err
	}
	return r.inner.SubmitTransaction(ctx, call)
}

func (r *RateLimited) Authorize(ctx context.Context, auth Authorization) (*TxRef, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Authorize(ctx, auth)
}

// WaitForConfirmation is not throttled; the inner client paces its own polling.
func (r *RateLimited) WaitForConfirmation(ctx context.Context, ref TxRef, timeout time.Duration) (*Receipt, error) {
	return r.inner.WaitForConfirmation(ctx, ref, timeout)
}

func (r *RateLimited) GetMembershipWitness(ctx context.Context, tree MessageTree, position uint64, leaf common.Hash) (*Proof, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetMembershipWitness(ctx, tree, position, leaf)
}

func (r *RateLimited) GetStorageProof(ctx context.Context, address common.Hash, slot common.Hash, position uint64) (*Proof, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetStorageProof(ctx, address, slot, position)
}
