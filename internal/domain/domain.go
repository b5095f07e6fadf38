package domain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/GoPolymarket/relaygate/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// ErrLogsNotReady is returned by GetEvents when the node has confirmed a
// block but does not serve all of its logs yet.
var ErrLogsNotReady = errors.New("logs not yet available")

// RawEvent is one log as emitted by a domain. Key is the correlation key
// (the order id, first field of every log), Data the payload fragment with
// the key removed.
type RawEvent struct {
	Kind     model.EventKind
	Position uint64
	TxRef    string
	Index    uint
	Key      common.Hash
	Data     []byte
}

// Call addresses a contract function in a chain neutral way. Args use
// common.Hash for 32 byte identifiers and addresses, []byte for dynamic
// bytes, *big.Int for amounts and uint32 for domain ids.
type Call struct {
	Contract common.Hash
	Function string
	Args     []any
}

// TxRef identifies a submitted transaction.
type TxRef struct {
	Domain uint32
	Hash   string
}

func (r TxRef) String() string {
	return r.Hash
}

type Receipt struct {
	TxRef    TxRef
	Position uint64
	Success  bool
}

// Authorization grants Spender the right to move Amount of Token for the
// filler. Private authorizations are witnesses bound to Spender and Nonce
// and never touch the chain.
type Authorization struct {
	Token   common.Hash
	Spender common.Hash
	Amount  *big.Int
	Nonce   common.Hash
	Private bool
}

// MessageTree selects which message tree a membership witness is drawn from.
type MessageTree int

const (
	// TreeOutbound holds messages emitted by this domain for other domains.
	TreeOutbound MessageTree = iota
	// TreeInbound holds messages delivered to this domain from other domains.
	TreeInbound
)

func (t MessageTree) String() string {
	if t == TreeInbound {
		return "inbound"
	}
	return "outbound"
}

// Proof is a membership or storage proof. Membership witnesses fill Index
// and Siblings, storage proofs fill AccountProof, StorageProof and Value.
type Proof struct {
	Position     uint64
	Root         common.Hash
	Leaf         common.Hash
	Index        uint64
	Siblings     []common.Hash
	AccountProof [][]byte
	StorageProof [][]byte
	Value        []byte
}

// DomainClient is everything the relayer needs from one domain.
type DomainClient interface {
	DomainID() uint32
	Name() string
	// Account is the identity this client submits transactions as.
	Account() common.Hash
	CurrentHead(ctx context.Context) (uint64, error)
	GetEvents(ctx context.Context, kind model.EventKind, from, to uint64) ([]RawEvent, error)
	// LogsPerEvent is the number of logs one logical event of kind spans.
	LogsPerEvent(kind model.EventKind) int
	// FillerOffset is where the filler data starts in the joined payload of a
	// Filled event.
	FillerOffset() int
	ReadState(ctx context.Context, call Call) ([]byte, error)
	SubmitTransaction(ctx context.Context, call Call) (TxRef, error)
	// Authorize grants a spending authorization. It returns nil when no
	// transaction was needed.
	Authorize(ctx context.Context, auth Authorization) (*TxRef, error)
	WaitForConfirmation(ctx context.Context, ref TxRef, timeout time.Duration) (*Receipt, error)
	// GetMembershipWitness returns nil, nil when leaf is not in the tree yet.
	GetMembershipWitness(ctx context.Context, tree MessageTree, position uint64, leaf common.Hash) (*Proof, error)
	GetStorageProof(ctx context.Context, address common.Hash, slot common.Hash, position uint64) (*Proof, error)
}
