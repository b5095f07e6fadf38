package aztec

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/watcher"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nodeService struct {
	mu       sync.Mutex
	head     uint64
	logs     []publicLog
	pageSize int
	receipts map[string]txReceipt
	witness  *witnessResult
	notReady bool
	methods  []string
}

func (s *nodeService) GetBlockNumber() hexutil.Uint64 { return hexutil.Uint64(s.head) }

func (s *nodeService) GetPublicLogs(filter logFilter) (logsResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notReady {
		return logsResponse{}, errors.New("block not found")
	}
	var matched []publicLog
	for i, l := range s.logs {
		if uint64(l.ID.BlockNumber) < uint64(filter.FromBlock) || uint64(l.ID.BlockNumber) >= uint64(filter.ToBlock) {
			continue
		}
		if filter.AfterLog != nil && i <= s.indexOf(*filter.AfterLog) {
			continue
		}
		matched = append(matched, l)
	}
	if s.pageSize > 0 && len(matched) > s.pageSize {
		return logsResponse{Logs: matched[:s.pageSize], MaxLogsHit: true}, nil
	}
	return logsResponse{Logs: matched}, nil
}

func (s *nodeService) indexOf(id logID) int {
	for i, l := range s.logs {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (s *nodeService) GetTxReceipt(hash string) txReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receipts[hash]
}

func (s *nodeService) GetL2ToL1MessageMembershipWitness(block hexutil.Uint64, leaf string) *witnessResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = append(s.methods, "outbound")
	return s.witness
}

func (s *nodeService) GetL1ToL2MessageMembershipWitness(block hexutil.Uint64, leaf string) *witnessResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = append(s.methods, "inbound")
	return s.witness
}

type walletService struct {
	mu       sync.Mutex
	sent     []string
	args     [][]any
	authwits []authAction
	public   []authAction
	result   []string
}

func (w *walletService) Call(contract, function string, args []any) []string {
	return w.result
}

func (w *walletService) SendTx(contract, function string, args []any) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sent = append(w.sent, function)
	w.args = append(w.args, args)
	return "0xtx" + function
}

func (w *walletService) CreateAuthWit(spender string, action authAction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.authwits = append(w.authwits, action)
	return nil
}

func (w *walletService) SetPublicAuthWit(spender string, action authAction) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.public = append(w.public, action)
	return "0xauthwit"
}

func newTestClient(t *testing.T, node *nodeService, wallet *walletService) *Client {
	t.Helper()
	nodeSrv := rpc.NewServer()
	require.NoError(t, nodeSrv.RegisterName("node", node))
	walletSrv := rpc.NewServer()
	require.NoError(t, walletSrv.RegisterName("wallet", wallet))

	nodeClient := rpc.DialInProc(nodeSrv)
	walletClient := rpc.DialInProc(walletSrv)
	t.Cleanup(func() {
		nodeClient.Close()
		walletClient.Close()
		nodeSrv.Stop()
		walletSrv.Stop()
	})
	return NewClient(Config{
		Name:         "aztec-test",
		DomainID:     77,
		Gateway:      common.HexToHash("0x0a"),
		Account:      common.HexToHash("0xf111"),
		PollInterval: time.Millisecond,
	}, nodeClient, walletClient)
}

func gatewayLog(block, txIndex, logIndex uint64, key common.Hash, tag int64, payload []common.Hash) publicLog {
	var l publicLog
	l.ID = logID{BlockNumber: hexutil.Uint64(block), TxIndex: hexutil.Uint64(txIndex), LogIndex: hexutil.Uint64(logIndex)}
	l.Log.Fields = []string{key.Hex(), common.BigToHash(big.NewInt(tag)).Hex()}
	for _, f := range payload {
		l.Log.Fields = append(l.Log.Fields, f.Hex())
	}
	return l
}

func TestPackFieldsRoundTrip(t *testing.T) {
	data := make([]byte, 301)
	for i := range data {
		data[i] = byte(i*7 + 1)
	}
	fields := PackFields(data)
	require.Len(t, fields, 10)
	for _, f := range fields {
		assert.Zero(t, f[0], "top byte must stay clear of the modulus")
	}
	out := UnpackFields(fields)
	assert.Equal(t, data, out[:len(data)])
	assert.Len(t, out, 310)
}

func TestGetEventsSplitsAcrossLogs(t *testing.T) {
	key := common.HexToHash("0xabcdef")
	payload := PackFields(make([]byte, 301))
	node := &nodeService{head: 12, pageSize: 2, logs: []publicLog{
		gatewayLog(10, 0, 0, key, tagOpen, payload[:5]),
		gatewayLog(10, 0, 1, key, tagOpen, payload[5:]),
		gatewayLog(11, 1, 0, key, tagFilled, payload),
	}}
	c := newTestClient(t, node, &walletService{})

	head, err := c.CurrentHead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), head)

	events, err := c.GetEvents(context.Background(), model.EventOpened, 10, 12)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, key, events[0].Key)
	assert.Equal(t, "10:0", events[0].TxRef)
	assert.Equal(t, uint(1), events[1].Index)
	assert.Len(t, events[0].Data, 5*FieldPayloadBytes)
	assert.Equal(t, 2, c.LogsPerEvent(model.EventOpened))

	filled, err := c.GetEvents(context.Background(), model.EventFilled, 10, 12)
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Equal(t, uint64(11), filled[0].Position)
}

func TestGetEventsNotReady(t *testing.T) {
	c := newTestClient(t, &nodeService{notReady: true}, &walletService{})
	_, err := c.GetEvents(context.Background(), model.EventOpened, 1, 2)
	assert.ErrorIs(t, err, domain.ErrLogsNotReady)
}

func TestReadStateAndSubmit(t *testing.T) {
	wallet := &walletService{result: []string{"0x05", common.HexToHash("0xbeef").Hex()}}
	c := newTestClient(t, &nodeService{}, wallet)

	out, err := c.ReadState(context.Background(), domain.Call{
		Contract: common.HexToHash("0x0b"), Function: "latestAnchor", Args: []any{uint32(1)},
	})
	require.NoError(t, err)
	require.Len(t, out, 64)
	assert.Equal(t, byte(5), out[31])
	assert.Equal(t, common.HexToHash("0xbeef").Bytes(), out[32:])

	ref, err := c.SubmitTransaction(context.Background(), domain.Call{
		Contract: common.HexToHash("0x0a"),
		Function: "fill_private",
		Args:     []any{common.HexToHash("0x1"), make([]byte, 301), c.Account().Bytes()},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xtxfill_private", ref.Hash)
	assert.Equal(t, uint32(77), ref.Domain)
	require.Len(t, wallet.args, 1)
	assert.Len(t, wallet.args[0][1], 10, "bytes travel as an array of fields")

	_, err = c.SubmitTransaction(context.Background(), domain.Call{Function: "x", Args: []any{"bad"}})
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	wallet := &walletService{}
	c := newTestClient(t, &nodeService{}, wallet)
	auth := domain.Authorization{
		Token: common.HexToHash("0x7"), Spender: common.HexToHash("0x8"),
		Amount: big.NewInt(42), Nonce: common.HexToHash("0x99"), Private: true,
	}

	ref, err := c.Authorize(context.Background(), auth)
	require.NoError(t, err)
	assert.Nil(t, ref)
	require.Len(t, wallet.authwits, 1)
	assert.Equal(t, "transfer_to_public", wallet.authwits[0].Function)

	auth.Private = false
	ref, err = c.Authorize(context.Background(), auth)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, "0xauthwit", ref.Hash)
	require.Len(t, wallet.public, 1)
}

func TestWaitForConfirmation(t *testing.T) {
	node := &nodeService{receipts: map[string]txReceipt{
		"0xok":       {Status: "success", BlockNumber: 9},
		"0xreverted": {Status: "app_logic_reverted", BlockNumber: 9},
		"0xpending":  {Status: "pending"},
	}}
	c := newTestClient(t, node, &walletService{})

	r, err := c.WaitForConfirmation(context.Background(), domain.TxRef{Hash: "0xok"}, time.Second)
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, uint64(9), r.Position)

	r, err = c.WaitForConfirmation(context.Background(), domain.TxRef{Hash: "0xreverted"}, time.Second)
	require.NoError(t, err)
	assert.False(t, r.Success)

	_, err = c.WaitForConfirmation(context.Background(), domain.TxRef{Hash: "0xpending"}, 20*time.Millisecond)
	assert.True(t, apperrors.Is(err, apperrors.ErrDomainRPC))
}

func TestGetMembershipWitness(t *testing.T) {
	node := &nodeService{}
	c := newTestClient(t, node, &walletService{})
	leaf := common.HexToHash("0x1234")

	p, err := c.GetMembershipWitness(context.Background(), domain.TreeInbound, 50, leaf)
	require.NoError(t, err)
	assert.Nil(t, p)

	node.witness = &witnessResult{Index: 3, Root: common.HexToHash("0x77"), SiblingPath: []common.Hash{{1}, {2}}}
	p, err = c.GetMembershipWitness(context.Background(), domain.TreeOutbound, 50, leaf)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, uint64(3), p.Index)
	assert.Equal(t, leaf, p.Leaf)
	assert.Len(t, p.Siblings, 2)
	assert.Equal(t, []string{"inbound", "outbound"}, node.methods)
}

func TestFilledEventOfOwnFillDecodes(t *testing.T) {
	wallet := &walletService{}
	node := &nodeService{head: 21}
	c := newTestClient(t, node, wallet)
	ctx := context.Background()

	order := model.OrderData{
		Sender:             common.HexToHash("0x01"),
		Recipient:          common.HexToHash("0x02"),
		OutputToken:        common.HexToHash("0x04"),
		AmountIn:           *uint256.NewInt(500),
		AmountOut:          *uint256.NewInt(490),
		OriginDomain:       1,
		DestinationDomain:  77,
		DestinationSettler: common.HexToHash("0x0a"),
		FillDeadline:       2_000_000_000,
		OrderType:          model.OrderTypePublic,
	}
	id := codec.ID(order)
	_, err := c.SubmitTransaction(ctx, domain.Call{
		Contract: common.HexToHash("0x0a"),
		Function: "fill",
		Args:     []any{id, codec.Encode(order), c.Account().Bytes()},
	})
	require.NoError(t, err)

	// the gateway re-emits the originData and fillerData field arrays as sent
	require.Len(t, wallet.args, 1)
	var payload []common.Hash
	for _, arg := range wallet.args[0][1:3] {
		for _, f := range arg.([]any) {
			payload = append(payload, common.HexToHash(f.(string)))
		}
	}
	require.Len(t, payload, 12)
	node.logs = []publicLog{
		gatewayLog(20, 0, 0, id, tagFilled, payload[:6]),
		gatewayLog(20, 0, 1, id, tagFilled, payload[6:]),
	}

	raw, err := c.GetEvents(ctx, model.EventFilled, 20, 21)
	require.NoError(t, err)
	got := watcher.Assemble(c.DomainID(), model.EventFilled, raw, watcher.Layout{
		LogsPerEvent: c.LogsPerEvent(model.EventFilled),
		FillerOffset: c.FillerOffset(),
	})
	require.Empty(t, got.Problems)
	require.Len(t, got.Events, 1)
	assert.Equal(t, order, got.Events[0].Order)
	assert.Equal(t, c.Account(), got.Events[0].Filler)
	assert.Equal(t, 310, c.FillerOffset())
}
