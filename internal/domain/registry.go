package domain

import (
	"fmt"
	"sort"
	"sync"

	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
)

// Registry resolves domain ids to their clients and gateway contracts.
type Registry struct {
	mu       sync.RWMutex
	clients  map[uint32]DomainClient
	gateways map[uint32]common.Hash
}

func NewRegistry() *Registry {
	return &Registry{
		clients:  make(map[uint32]DomainClient),
		gateways: make(map[uint32]common.Hash),
	}
}

// Register adds c. gateway is the contract that emits Open and Filled and
// accepts fill and settle calls on that domain.
func (r *Registry) Register(c DomainClient, gateway common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.DomainID()] = c
	r.gateways[c.DomainID()] = gateway
}

func (r *Registry) Client(id uint32) (DomainClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrUnsupportedDomain, fmt.Sprintf("domain %d is not configured", id), nil)
	}
	return c, nil
}

func (r *Registry) Gateway(id uint32) (common.Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[id]
	if !ok {
		return common.Hash{}, apperrors.New(apperrors.ErrUnsupportedDomain, fmt.Sprintf("domain %d has no gateway", id), nil)
	}
	return g, nil
}

// All returns the registered clients ordered by domain id.
func (r *Registry) All() []DomainClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DomainClient, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DomainID() < out[j].DomainID() })
	return out
}
