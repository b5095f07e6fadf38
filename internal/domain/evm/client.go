package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/manager"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/pkg/logger"
	"github.com/GoPolymarket/relaygate/internal/proof"
	"github.com/GoPolymarket/relaygate/internal/signer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the subset of *ethclient.Client the client uses.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// ProofBackend is satisfied by *gethclient.Client.
type ProofBackend interface {
	GetProof(ctx context.Context, account common.Address, keys []string, blockNumber *big.Int) (*gethclient.AccountResult, error)
}

type Config struct {
	Name     string
	DomainID uint32
	Gateway  common.Address
	// OutboxSlot is the base slot of the gateway mapping that marks
	// messages emitted by this domain.
	OutboxSlot uint64
	// Inbox and InboxSlot locate the mapping that marks messages delivered
	// to this domain.
	Inbox        common.Address
	InboxSlot    uint64
	PollInterval time.Duration
}

// Client implements domain.DomainClient for EVM chains.
type Client struct {
	cfg     Config
	backend Backend
	proofs  ProofBackend
	signer  *signer.Signer
	nonces  *manager.NonceManager
	log     *slog.Logger
}

// Dial connects to rpcURL and returns a client that signs with s.
func Dial(ctx context.Context, rpcURL string, cfg Config, s *signer.Signer) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Name, err)
	}
	return NewClient(cfg, ethclient.NewClient(rc), gethclient.New(rc), s), nil
}

func NewClient(cfg Config, backend Backend, proofs ProofBackend, s *signer.Signer) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Client{
		cfg:     cfg,
		backend: backend,
		proofs:  proofs,
		signer:  s,
		nonces:  manager.NewNonceManager(backend),
		log:     logger.Component("evm").With("domain", cfg.Name),
	}
}

func (c *Client) DomainID() uint32 { return c.cfg.DomainID }

func (c *Client) Name() string { return c.cfg.Name }

func (c *Client) Account() common.Hash {
	if c.signer == nil {
		return common.Hash{}
	}
	return c.signer.Identifier()
}

// LogsPerEvent is 1: EVM events carry their whole payload in one log.
func (c *Client) LogsPerEvent(model.EventKind) int { return 1 }

// FillerOffset is right after the order: the decoded originData and
// fillerData are concatenated.
func (c *Client) FillerOffset() int { return codec.OrderDataLength }

func (c *Client) CurrentHead(ctx context.Context) (uint64, error) {
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, apperrors.DomainRPC(c.cfg.Name, "block_number", err)
	}
	return head, nil
}

func (c *Client) GetEvents(ctx context.Context, kind model.EventKind, from, to uint64) ([]domain.RawEvent, error) {
	event, ok := parsedABI.Events[string(kind)]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.cfg.Gateway},
		Topics:    [][]common.Hash{{event.ID}},
	})
	if err != nil {
		if isLogsNotReady(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrLogsNotReady, err)
		}
		return nil, apperrors.DomainRPC(c.cfg.Name, "filter_logs", err)
	}

	out := make([]domain.RawEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed || len(l.Topics) < 2 {
			continue
		}
		raw := domain.RawEvent{
			Kind:     kind,
			Position: l.BlockNumber,
			TxRef:    l.TxHash.Hex(),
			Index:    l.Index,
			Key:      l.Topics[1],
		}
		values, err := event.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil {
			// an empty payload is reported as malformed by the watcher
			c.log.Warn("undecodable log", "tx", l.TxHash.Hex(), "error", err)
			out = append(out, raw)
			continue
		}
		for _, v := range values {
			if b, ok := v.([]byte); ok {
				raw.Data = append(raw.Data, b...)
			}
		}
		out = append(out, raw)
	}
	return out, nil
}

func isLogsNotReady(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "header not found") ||
		strings.Contains(msg, "unknown block") ||
		strings.Contains(msg, "logs not available")
}

func (c *Client) ReadState(ctx context.Context, call domain.Call) ([]byte, error) {
	data, err := pack(call.Function, call.Args)
	if err != nil {
		return nil, err
	}
	to := common.BytesToAddress(call.Contract.Bytes())
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, call.Function, err)
	}
	return out, nil
}

func (c *Client) SubmitTransaction(ctx context.Context, call domain.Call) (domain.TxRef, error) {
	if c.signer == nil {
		return domain.TxRef{}, fmt.Errorf("%s: no signer configured", c.cfg.Name)
	}
	data, err := pack(call.Function, call.Args)
	if err != nil {
		return domain.TxRef{}, err
	}
	to := common.BytesToAddress(call.Contract.Bytes())

	tx, err := c.send(ctx, to, data)
	if err != nil && manager.IsNonceError(err) {
		c.log.Warn("nonce rejected, resyncing", "function", call.Function, "error", err)
		if rerr := c.nonces.ResetTxNonce(ctx, c.signer.Address()); rerr == nil {
			tx, err = c.send(ctx, to, data)
		}
	}
	if err != nil {
		return domain.TxRef{}, apperrors.DomainRPC(c.cfg.Name, call.Function, err)
	}
	c.log.Info("transaction sent", "function", call.Function, "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	return domain.TxRef{Domain: c.cfg.DomainID, Hash: tx.Hash().Hex()}, nil
}

func (c *Client) send(ctx context.Context, to common.Address, data []byte) (*types.Transaction, error) {
	from := c.signer.Address()
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	nonce, err := c.nonces.NextTxNonce(ctx, from)
	if err != nil {
		return nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		if !manager.IsNonceError(err) {
			// the reserved nonce was never used
			_ = c.nonces.ResetTxNonce(ctx, from)
		}
		return nil, err
	}
	return signed, nil
}

// Authorize approves Spender on the ERC20 Token unless the current
// allowance already covers Amount.
func (c *Client) Authorize(ctx context.Context, auth domain.Authorization) (*domain.TxRef, error) {
	if auth.Private {
		return nil, apperrors.New(apperrors.ErrUnsupportedDomain,
			fmt.Sprintf("%s has no private authorization", c.cfg.Name), nil)
	}
	out, err := c.ReadState(ctx, domain.Call{
		Contract: auth.Token,
		Function: "allowance",
		Args:     []any{c.Account(), auth.Spender},
	})
	if err != nil {
		return nil, err
	}
	if new(big.Int).SetBytes(out).Cmp(auth.Amount) >= 0 {
		return nil, nil
	}
	ref, err := c.SubmitTransaction(ctx, domain.Call{
		Contract: auth.Token,
		Function: "approve",
		Args:     []any{auth.Spender, auth.Amount},
	})
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *Client) WaitForConfirmation(ctx context.Context, ref domain.TxRef, timeout time.Duration) (*domain.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := common.HexToHash(ref.Hash)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return &domain.Receipt{
				TxRef:    ref,
				Position: receipt.BlockNumber.Uint64(),
				Success:  receipt.Status == types.ReceiptStatusSuccessful,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
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

func (c *Client) GetStorageProof(ctx context.Context, address common.Hash, slot common.Hash, position uint64) (*domain.Proof, error) {
	if c.proofs == nil {
		return nil, fmt.Errorf("%s: storage proofs not available", c.cfg.Name)
	}
	block := new(big.Int).SetUint64(position)
	account := common.BytesToAddress(address.Bytes())
	res, err := c.proofs.GetProof(ctx, account, []string{slot.Hex()}, block)
	if err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, "get_proof", err)
	}
	header, err := c.backend.HeaderByNumber(ctx, block)
	if err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, "header_by_number", err)
	}

	p := &domain.Proof{
		Position: position,
		Root:     header.Root,
		Leaf:     slot,
	}
	if p.AccountProof, err = decodeNodes(res.AccountProof); err != nil {
		return nil, apperrors.DomainRPC(c.cfg.Name, "get_proof", err)
	}
	if len(res.StorageProof) > 0 {
		sp := res.StorageProof[0]
		if p.StorageProof, err = decodeNodes(sp.Proof); err != nil {
			return nil, apperrors.DomainRPC(c.cfg.Name, "get_proof", err)
		}
		if sp.Value != nil {
			p.Value = sp.Value.Bytes()
		}
	}
	return p, nil
}

func decodeNodes(nodes []string) ([][]byte, error) {
	out := make([][]byte, len(nodes))
	for i, n := range nodes {
		b, err := hexutil.Decode(n)
		if err != nil {
			return nil, fmt.Errorf("proof node %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// GetMembershipWitness proves leaf through the mapping that records it: the
// gateway's outbox for outbound messages, the inbox for inbound ones. A zero
// mapping value means the message is not there yet.
func (c *Client) GetMembershipWitness(ctx context.Context, tree domain.MessageTree, position uint64, leaf common.Hash) (*domain.Proof, error) {
	contract, base := c.cfg.Gateway, c.cfg.OutboxSlot
	if tree == domain.TreeInbound {
		contract, base = c.cfg.Inbox, c.cfg.InboxSlot
	}
	if contract == (common.Address{}) {
		return nil, fmt.Errorf("%s: no %s message contract configured", c.cfg.Name, tree)
	}
	p, err := c.GetStorageProof(ctx, common.BytesToHash(contract.Bytes()), proof.SettledSlotKey(leaf, base), position)
	if err != nil {
		return nil, err
	}
	if new(big.Int).SetBytes(p.Value).Sign() == 0 {
		return nil, nil
	}
	p.Leaf = leaf
	return p, nil
}
