package aztec

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Caller is satisfied by *rpc.Client.
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

type Config struct {
	Name     string
	DomainID uint32
	Gateway  common.Hash
	// Account is the address the wallet sidecar signs for.
	Account      common.Hash
	PollInterval time.Duration
	LogsPerEvent int
}

// Client implements domain.DomainClient for Aztec. Reads go to the node,
// anything that needs the filler's keys goes to the wallet sidecar.
type Client struct {
	cfg    Config
	node   Caller
	wallet Caller
	log    *slog.Logger
}

func Dial(ctx context.Context, nodeURL, walletURL string, cfg Config) (*Client, error) {
	node, err := rpc.DialContext(ctx, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s node: %w", cfg.Name, err)
	}
	wallet, err := rpc.DialContext(ctx, walletURL)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("dial %s wallet: %w", cfg.Name, err)
	}
	return NewClient(cfg, node, wallet), nil
}

func NewClient(cfg Config, node, wallet Caller) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LogsPerEvent <= 0 {
		cfg.LogsPerEvent = 2
	}
	return &Client{
		cfg:    cfg,
		node:   node,
		wallet: wallet,
		log:    logger.Component("aztec").With("domain", cfg.Name),
	}
}

func (c *Client) DomainID() uint32 { return c.cfg.DomainID }

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) Account() common.Hash { return c.cfg.Account }

// LogsPerEvent reflects the per-log field limit: an order does not fit in one
// public log, so Open and Filled are split across several.
func (c *Client) LogsPerEvent(model.EventKind) int { return c.cfg.LogsPerEvent }

// FillerOffset skips the whole fields the order occupies, padding included:
// originData and fillerData are separate field arrays in a Filled log.
func (c *Client) FillerOffset() int { return FilledFillerOffset }

func (c *Client) CurrentHead(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := c.node.CallContext(ctx, &head, "node_getBlockNumber"); err != nil {
		return 0, apperrors.DomainRPC(c.cfg.Name, "get_block_number", err)
	}
	return uint64(head), nil
}

type logID struct {
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxIndex     hexutil.Uint64 `json:"txIndex"`
	LogIndex    hexutil.Uint64 `json:"logIndex"`
}

type publicLog struct {
	ID  logID `json:"id"`
	Log struct {
		ContractAddress common.Hash `json:"contractAddress"`
		Fields          []string    `json:"fields"`
	} `json:"log"`
}

type logFilter struct {
	FromBlock       hexutil.Uint64 `json:"fromBlock"`
	ToBlock         hexutil.Uint64 `json:"toBlock"`
	ContractAddress common.Hash    `json:"contractAddress"`
	AfterLog        *logID         `json:"afterLog,omitempty"`
}

type logsResponse struct {
	Logs       []publicLog `json:"logs"`
	MaxLogsHit bool        `json:"maxLogsHit"`
}

func kindTag(kind model.EventKind) (common.Hash, error) {
	switch kind {
	case model.EventOpened:
		return common.BigToHash(big.NewInt(tagOpen)), nil
	case model.EventFilled:
		return common.BigToHash(big.NewInt(tagFilled)), nil
	default:
		return common.Hash{}, fmt.Errorf("unknown event kind %q", kind)
	}
}

// GetEvents pages through the gateway's public logs in [from, to]. Every log
// is laid out as [orderId, kind tag, payload fields...].
func (c *Client) GetEvents(ctx context.Context, kind model.EventKind, from, to uint64) ([]domain.RawEvent, error) {
	tag, err := kindTag(kind)
	if err != nil {
		return nil, err
	}
	filter := logFilter{
		FromBlock:       hexutil.Uint64(from),
		ToBlock:         hexutil.Uint64(to + 1), // exclusive
		ContractAddress: c.cfg.Gateway,
	}

	var out []domain.RawEvent
	for {
		var resp logsResponse
		if err := c.node.CallContext(ctx, &resp, "node_getPublicLogs", filter); err != nil {
			if isNotReady(err) {
				return nil, fmt.Errorf("%w: %v", domain.ErrLogsNotReady, err)
			}
			return nil, apperrors.DomainRPC(c.cfg.Name, "get_public_logs", err)
		}
		for _, l := range resp.Logs {
			fields, err := parseFields(l.Log.Fields)
			if err != nil || len(fields) < 2 {
				c.log.Warn("skipping undecodable log", "block", uint64(l.ID.BlockNumber), "error", err)
				continue
			}
			if fields[1] != tag {
				continue
			}
			out = append(out, domain.RawEvent{
				Kind:     kind,
				Position: uint64(l.ID.BlockNumber),
				TxRef:    fmt.Sprintf("%d:%d", uint64(l.ID.BlockNumber), uint64(l.ID.TxIndex)),
				Index:    uint(l.ID.LogIndex),
				Key:      fields[0],
				Data:     UnpackFields(fields[2:]),
			})
		}
		if !resp.MaxLogsHit || len(resp.Logs) == 0 {
			return out, nil
		}
		last := resp.Logs[len(resp.Logs)-1].ID
		filter.AfterLog = &last
	}
}

func isNotReady(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not yet available") || strings.Contains(msg, "block not found")
}

func (c *Client) ReadState(ctx context.Context, call domain.Call) ([]byte, error) {
	args, err := encodeArgs(call.Args)
	if err != nil {
		return nil, err
	}
	var raw []string
	if err := c.wallet.CallContext(ctx, &raw, "wallet_call", call.Contract.Hex(), call.Function, args); err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, call.Function, err)
	}
	fields, err := parseFields(raw)
	if err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, call.Function, err)
	}
	out := make([]byte, 0, len(fields)*32)
	for _, f := range fields {
		out = append(out, f.Bytes()...)
	}
	return out, nil
}

func (c *Client) SubmitTransaction(ctx context.Context, call domain.Call) (domain.TxRef, error) {
	args, err := encodeArgs(call.Args)
	if err != nil {
		return domain.TxRef{}, err
	}
	var txHash string
	if err := c.wallet.CallContext(ctx, &txHash, "wallet_sendTx", call.Contract.Hex(), call.Function, args); err != nil {
		return domain.TxRef{}, apperrors.DomainRPC(c.cfg.Name, call.Function, err)
	}
	c.log.Info("transaction sent", "function", call.Function, "tx", txHash)
	return domain.TxRef{Domain: c.cfg.DomainID, Hash: txHash}, nil
}

type authAction struct {
	Contract string `json:"contract"`
	Function string `json:"function"`
	Args     []any  `json:"args"`
}

// Authorize creates an authentication witness letting Spender move Amount of
// Token on the filler's behalf. Private witnesses stay in the wallet and are
// consumed by the private fill; public ones are registered on chain.
func (c *Client) Authorize(ctx context.Context, auth domain.Authorization) (*domain.TxRef, error) {
	function := "transfer_in_public"
	if auth.Private {
		function = "transfer_to_public"
	}
	args, err := encodeArgs([]any{c.cfg.Account, auth.Spender, auth.Amount, auth.Nonce})
	if err != nil {
		return nil, err
	}
	action := authAction{Contract: auth.Token.Hex(), Function: function, Args: args}

	if auth.Private {
		if err := c.wallet.CallContext(ctx, nil, "wallet_createAuthWit", auth.Spender.Hex(), action); err != nil {
			return nil, apperrors.DomainRPC(c.cfg.Name, "create_authwit", err)
		}
		return nil, nil
	}

	var txHash string
	if err := c.wallet.CallContext(ctx, &txHash, "wallet_setPublicAuthWit", auth.Spender.Hex(), action); err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, "set_public_authwit", err)
	}
	return &domain.TxRef{Domain: c.cfg.DomainID, Hash: txHash}, nil
}

type txReceipt struct {
	Status      string         `json:"status"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	Error       string         `json:"error"`
}

func (c *Client) WaitForConfirmation(ctx context.Context, ref domain.TxRef, timeout time.Duration) (*domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		var r txReceipt
		err := c.node.CallContext(ctx, &r, "node_getTxReceipt", ref.Hash)
		if err == nil {
			switch r.Status {
			case "success":
				return &domain.Receipt{TxRef: ref, Position: uint64(r.BlockNumber), Success: true}, nil
			case "pending", "":
			default:
				c.log.Warn("transaction failed", "tx", ref.Hash, "status", r.Status, "error", r.Error)
				return &domain.Receipt{TxRef: ref, Position: uint64(r.BlockNumber), Success: false}, nil
			}
		} else {
			c.log.Debug("receipt lookup failed", "tx", ref.Hash, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.DomainRPC(c.cfg.Name, "wait_receipt",
				fmt.Errorf("tx %s: %w", ref.Hash, ctx.Err()))
		case <-ticker.C:
		}
	}
}

type witnessResult struct {
	Index       hexutil.Uint64 `json:"index"`
	Root        common.Hash    `json:"root"`
	Value       hexutil.Bytes  `json:"value"`
	SiblingPath []common.Hash  `json:"siblingPath"`
}

// GetMembershipWitness asks the node for a sibling path of leaf. Outbound
// messages live in the L2 to L1 tree, inbound ones in the L1 to L2 tree.
func (c *Client) GetMembershipWitness(ctx context.Context, tree domain.MessageTree, position uint64, leaf common.Hash) (*domain.Proof, error) {
	method := "node_getL2ToL1MessageMembershipWitness"
	if tree == domain.TreeInbound {
		method = "node_getL1ToL2MessageMembershipWitness"
	}
	var res *witnessResult
	if err := c.node.CallContext(ctx, &res, method, hexutil.Uint64(position), leaf.Hex()); err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, method, err)
	}
	if res == nil {
		return nil, nil
	}
	return &domain.Proof{
		Position: position,
		Root:     res.Root,
		Leaf:     leaf,
		Index:    uint64(res.Index),
		Siblings: res.SiblingPath,
	}, nil
}

// GetStorageProof returns a public data tree witness for a contract slot.
// The leaf slot derivation needs the chain's native hash, so the sidecar
// computes it.
func (c *Client) GetStorageProof(ctx context.Context, address common.Hash, slot common.Hash, position uint64) (*domain.Proof, error) {
	var res *witnessResult
	if err := c.wallet.CallContext(ctx, &res, "wallet_getPublicDataWitness", hexutil.Uint64(position), address.Hex(), slot.Hex()); err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, "get_public_data_witness", err)
	}
	if res == nil {
		return nil, apperrors.NewProofNotReady(fmt.Sprintf("no public data witness for %s at %d", slot.Hex(), position))
	}
	return &domain.Proof{
		Position: position,
		Root:     res.Root,
		Leaf:     slot,
		Index:    uint64(res.Index),
		Siblings: res.SiblingPath,
		Value:    res.Value,
	}, nil
}
