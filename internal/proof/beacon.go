package proof

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
)

// BeaconSource fetches beacon blocks by root.
type BeaconSource interface {
	FetchBeaconBlock(ctx context.Context, root common.Hash) (*BeaconBlock, error)
}

// HTTPBeaconSource reads block field roots from a beacon proof provider:
//
//	GET {base}/v1/blocks/{root}/field_roots
//
// The provider serves hash tree roots, not full blocks; the block root is
// recomputed locally so a lying provider is caught.
type HTTPBeaconSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPBeaconSource(baseURL string, timeout time.Duration) *HTTPBeaconSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBeaconSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		},
	}
}

type fieldRootsResponse struct {
	Slot          string        `json:"slot"`
	ProposerIndex string        `json:"proposer_index"`
	ParentRoot    common.Hash   `json:"parent_root"`
	StateRoot     common.Hash   `json:"state_root"`
	BodyRoots     []common.Hash `json:"body_roots"`
	PayloadRoots  []common.Hash `json:"execution_payload_roots"`
}

func (s *HTTPBeaconSource) FetchBeaconBlock(ctx context.Context, root common.Hash) (*BeaconBlock, error) {
	url := fmt.Sprintf("%s/v1/blocks/%s/field_roots", s.baseURL, root.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.DomainRPC("beacon", "fetch_block", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.NewProofNotReady(fmt.Sprintf("beacon block %s not available yet", root.Hex()))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.DomainRPC("beacon", "fetch_block",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var data fieldRootsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, apperrors.DomainRPC("beacon", "decode_block", err)
	}
	slot, err := strconv.ParseUint(data.Slot, 10, 64)
	if err != nil {
		return nil, apperrors.DomainRPC("beacon", "decode_block", fmt.Errorf("slot: %w", err))
	}
	proposer, err := strconv.ParseUint(data.ProposerIndex, 10, 64)
	if err != nil {
		return nil, apperrors.DomainRPC("beacon", "decode_block", fmt.Errorf("proposer_index: %w", err))
	}

	block := &BeaconBlock{
		Slot:          slot,
		ProposerIndex: proposer,
		ParentRoot:    data.ParentRoot,
		StateRoot:     data.StateRoot,
		BodyFields:    data.BodyRoots,
		PayloadFields: data.PayloadRoots,
	}
	got, err := block.Root()
	if err != nil {
		return nil, err
	}
	if got != root {
		return nil, apperrors.NewInvariantViolation(
			fmt.Sprintf("beacon provider returned block %s for root %s", got.Hex(), root.Hex()))
	}
	return block, nil
}
