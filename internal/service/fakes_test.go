package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/GoPolymarket/relaygate/internal/notify"
	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/GoPolymarket/relaygate/internal/proof"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	originID      = uint32(1)
	destinationID = uint32(2)
)

var (
	fillerAccount = common.HexToHash("0xf111")
	originGateway = common.HexToHash("0x0a01")
	settlerAddr   = common.HexToHash("0x0a02")
	forwarderAddr = common.HexToHash("0x0a03")
	anchorAddr    = common.HexToHash("0x0a04")
	stateRoot     = common.HexToHash("0x5707")
)

// fakeDomain is an in-memory chain: it records calls, answers orderStatus
// from the fills it has seen and serves configurable anchors and proofs.
type fakeDomain struct {
	mu         sync.Mutex
	id         uint32
	account    common.Hash
	head       uint64
	position   uint64
	filled     map[common.Hash]bool
	calls      []domain.Call
	auths      []domain.Authorization
	authTx     bool
	anchor     proof.Anchor
	storage    *domain.Proof
	witness    *domain.Proof
	trees      []domain.MessageTree
	submitErr  error
	failSubmit int
	revert     bool
	events     []domain.RawEvent
	fillDelay  time.Duration
	submitSeen int
}

func newFakeDomain(id uint32) *fakeDomain {
	return &fakeDomain{id: id, account: fillerAccount, head: 100, position: 42, filled: make(map[common.Hash]bool)}
}

func (f *fakeDomain) DomainID() uint32 { return f.id }
func (f *fakeDomain) Name() string { return fmt.Sprintf("fake-%d", f.id) }
func (f *fakeDomain) Account() common.Hash { return f.account }

func (f *fakeDomain) CurrentHead(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeDomain) GetEvents(_ context.Context, kind model.EventKind, from, to uint64) ([]domain.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RawEvent
	for _, ev := range f.events {
		if ev.Kind == kind && ev.Position >= from && ev.Position <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeDomain) LogsPerEvent(model.EventKind) int { return 1 }
func (f *fakeDomain) FillerOffset() int { return codec.OrderDataLength }

func (f *fakeDomain) ReadState(_ context.Context, call domain.Call) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch call.Function {
	case fnOrderStatus:
		var out common.Hash
		if f.filled[call.Args[0].(common.Hash)] {
			out[31] = 1
		}
		return out.Bytes(), nil
	case fnLatestAnchor:
		out := common.BigToHash(new(big.Int).SetUint64(f.anchor.Position)).Bytes()
		return append(out, f.anchor.Root.Bytes()...), nil
	default:
		return nil, fmt.Errorf("unexpected read %s", call.Function)
	}
}

func (f *fakeDomain) SubmitTransaction(_ context.Context, call domain.Call) (domain.TxRef, error) {
	if f.fillDelay > 0 {
		time.Sleep(f.fillDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitSeen++
	if f.submitErr != nil {
		return domain.TxRef{}, f.submitErr
	}
	if f.failSubmit > 0 {
		f.failSubmit--
		return domain.TxRef{}, apperrors.DomainRPC(f.Name(), "send_transaction", fmt.Errorf("connection reset"))
	}
	f.calls = append(f.calls, call)
	if (call.Function == fnFill || call.Function == fnFillPrivate) && !f.revert {
		f.filled[call.Args[0].(common.Hash)] = true
	}
	return domain.TxRef{Domain: f.id, Hash: fmt.Sprintf("0x%s%d", call.Function, len(f.calls))}, nil
}

func (f *fakeDomain) Authorize(_ context.Context, auth domain.Authorization) (*domain.TxRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auths = append(f.auths, auth)
	if !f.authTx {
		return nil, nil
	}
	return &domain.TxRef{Domain: f.id, Hash: "0xapprove"}, nil
}

func (f *fakeDomain) WaitForConfirmation(_ context.Context, ref domain.TxRef, _ time.Duration) (*domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.Receipt{TxRef: ref, Position: f.position, Success: !f.revert}, nil
}

func (f *fakeDomain) GetMembershipWitness(_ context.Context, tree domain.MessageTree, position uint64, leaf common.Hash) (*domain.Proof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees = append(f.trees, tree)
	if f.witness == nil {
		return nil, nil
	}
	w := *f.witness
	w.Position = position
	w.Leaf = leaf
	return &w, nil
}

func (f *fakeDomain) GetStorageProof(_ context.Context, _ common.Hash, slot common.Hash, position uint64) (*domain.Proof, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storage == nil {
		return nil, apperrors.DomainRPC(f.Name(), "get_proof", fmt.Errorf("no proof"))
	}
	p := *f.storage
	p.Position = position
	p.Leaf = slot
	return &p, nil
}

func (f *fakeDomain) callsTo(function string) []domain.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Call
	for _, c := range f.calls {
		if c.Function == function {
			out = append(out, c)
		}
	}
	return out
}

// blockingPublisher holds the first Publish until release is closed.
type blockingPublisher struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingPublisher() *blockingPublisher {
	return &blockingPublisher{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ notify.Event) error {
	first := false
	p.once.Do(func() {
		first = true
		close(p.entered)
	})
	if !first {
		return nil
	}
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return nil
}

type fakeBeacon struct {
	blocks map[common.Hash]*proof.BeaconBlock
}

func (b *fakeBeacon) FetchBeaconBlock(_ context.Context, root common.Hash) (*proof.BeaconBlock, error) {
	block, ok := b.blocks[root]
	if !ok {
		return nil, apperrors.NewProofNotReady("unknown block")
	}
	return block, nil
}

func testOrder(nonce uint64, t model.OrderType) model.OrderData {
	return model.OrderData{
		Sender:             common.HexToHash("0x01"),
		Recipient:          common.HexToHash("0x02"),
		InputToken:         common.HexToHash("0x03"),
		OutputToken:        common.HexToHash("0x04"),
		AmountIn:           *uint256.NewInt(1_000_000),
		AmountOut:          *uint256.NewInt(995_000),
		SenderNonce:        *uint256.NewInt(nonce),
		OriginDomain:       originID,
		DestinationDomain:  destinationID,
		DestinationSettler: settlerAddr,
		FillDeadline:       2_000_000_000,
		OrderType:          t,
	}
}

func openedEvent(o model.OrderData) model.OrderEvent {
	return model.OrderEvent{
		Kind:     model.EventOpened,
		Domain:   o.OriginDomain,
		OrderID:  codec.ID(o),
		Order:    o,
		Position: 10,
		TxRef:    "0xopen",
	}
}
