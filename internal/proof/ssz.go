package proof

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/GoPolymarket/relaygate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/beacon/merkle"
	beacontypes "github.com/ethereum/go-ethereum/beacon/types"
	"github.com/ethereum/go-ethereum/common"
)

// Container widths (field counts padded to a power of two) and field indices
// of the beacon structures the state root proof walks through.
const (
	headerWidth  = 8
	bodyWidth    = 16
	payloadWidth = 32

	BodyFieldCount    = 12
	PayloadFieldCount = 17

	headerBodyRootIndex     = 4
	bodyExecutionIndex      = 9
	payloadStateRootIndex   = 2
	payloadBlockNumberIndex = 6
)

// StateRootGIndex is the generalized index of
// header.body.execution_payload.state_root.
const StateRootGIndex = ((headerWidth+headerBodyRootIndex)*bodyWidth+bodyExecutionIndex)*payloadWidth + payloadStateRootIndex

// StateRootDepth is the number of siblings in a state root branch.
const StateRootDepth = 3 + 4 + 5

// BeaconBlock is a beacon block reduced to what the state root proof needs:
// the header fields plus the hash tree roots of every body and execution
// payload field.
type BeaconBlock struct {
	Slot          uint64
	ProposerIndex uint64
	ParentRoot    common.Hash
	StateRoot     common.Hash
	BodyFields    []common.Hash
	PayloadFields []common.Hash
}

func (b *BeaconBlock) validate() error {
	if len(b.BodyFields) != BodyFieldCount {
		return apperrors.NewInvariantViolation(fmt.Sprintf("beacon body has %d fields, want %d", len(b.BodyFields), BodyFieldCount))
	}
	if len(b.PayloadFields) != PayloadFieldCount {
		return apperrors.NewInvariantViolation(fmt.Sprintf("execution payload has %d fields, want %d", len(b.PayloadFields), PayloadFieldCount))
	}
	return nil
}

func (b *BeaconBlock) payloadRoot() common.Hash {
	return Merkleize(b.PayloadFields, payloadWidth)
}

func (b *BeaconBlock) bodyLeaves() []common.Hash {
	leaves := make([]common.Hash, len(b.BodyFields))
	copy(leaves, b.BodyFields)
	// the payload root is always recomputed from its fields
	leaves[bodyExecutionIndex] = b.payloadRoot()
	return leaves
}

// Header is the beacon block header committing to b's body.
func (b *BeaconBlock) Header() beacontypes.Header {
	return beacontypes.Header{
		Slot:          b.Slot,
		ProposerIndex: b.ProposerIndex,
		ParentRoot:    b.ParentRoot,
		StateRoot:     b.StateRoot,
		BodyRoot:      Merkleize(b.bodyLeaves(), bodyWidth),
	}
}

func (b *BeaconBlock) headerLeaves() []common.Hash {
	h := b.Header()
	return []common.Hash{
		Uint64Leaf(h.Slot),
		Uint64Leaf(h.ProposerIndex),
		h.ParentRoot,
		h.StateRoot,
		h.BodyRoot,
	}
}

// Root is the block root, the hash tree root of its header.
func (b *BeaconBlock) Root() (common.Hash, error) {
	if err := b.validate(); err != nil {
		return common.Hash{}, err
	}
	h := b.Header()
	return h.Hash(), nil
}

// ExecutionStateRoot is the state root of the execution block carried in b.
func (b *BeaconBlock) ExecutionStateRoot() common.Hash {
	return b.PayloadFields[payloadStateRootIndex]
}

// ExecutionBlockNumber is the number of the execution block carried in b.
func (b *BeaconBlock) ExecutionBlockNumber() uint64 {
	leaf := b.PayloadFields[payloadBlockNumberIndex]
	return binary.LittleEndian.Uint64(leaf[:8])
}

// StateRootProof proves the execution state root against the block root.
type StateRootProof struct {
	BlockRoot common.Hash
	StateRoot common.Hash
	GIndex    uint64
	// Branch lists siblings from the leaf up to the root.
	Branch []common.Hash
}

// ExecutionStateRootProof builds the branch from
// header.body.execution_payload.state_root up to the block root.
func ExecutionStateRootProof(b *BeaconBlock) (*StateRootProof, error) {
	root, err := b.Root()
	if err != nil {
		return nil, err
	}
	branch := make([]common.Hash, 0, StateRootDepth)
	branch = append(branch, Branch(b.PayloadFields, payloadWidth, payloadStateRootIndex)...)
	branch = append(branch, Branch(b.bodyLeaves(), bodyWidth, bodyExecutionIndex)...)
	branch = append(branch, Branch(b.headerLeaves(), headerWidth, headerBodyRootIndex)...)

	p := &StateRootProof{
		BlockRoot: root,
		StateRoot: b.ExecutionStateRoot(),
		GIndex:    StateRootGIndex,
		Branch:    branch,
	}
	if err := p.Verify(); err != nil {
		return nil, apperrors.NewInvariantViolation(fmt.Sprintf("state root branch: %v", err))
	}
	return p, nil
}

// Verify checks the branch against the block root.
func (p *StateRootProof) Verify() error {
	return merkle.VerifyProof(p.BlockRoot, p.GIndex, toValues(p.Branch), merkle.Value(p.StateRoot))
}

func toValues(hashes []common.Hash) merkle.Values {
	out := make(merkle.Values, len(hashes))
	for i, h := range hashes {
		out[i] = merkle.Value(h)
	}
	return out
}

// Uint64Leaf is the SSZ chunk of a uint64: little-endian, zero padded.
func Uint64Leaf(v uint64) common.Hash {
	var h common.Hash
	binary.LittleEndian.PutUint64(h[:8], v)
	return h
}

func hashPair(a, b common.Hash) common.Hash {
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func layer(leaves []common.Hash, width int) []common.Hash {
	out := make([]common.Hash, width)
	copy(out, leaves)
	return out
}

// Merkleize returns the SSZ merkle root of leaves padded with zero chunks to
// width, which must be a power of two not smaller than len(leaves).
func Merkleize(leaves []common.Hash, width int) common.Hash {
	nodes := layer(leaves, width)
	for len(nodes) > 1 {
		next := make([]common.Hash, len(nodes)/2)
		for i := range next {
			next[i] = hashPair(nodes[2*i], nodes[2*i+1])
		}
		nodes = next
	}
	return nodes[0]
}

// Branch returns the siblings of leaves[index] from the bottom layer up.
func Branch(leaves []common.Hash, width int, index int) []common.Hash {
	nodes := layer(leaves, width)
	var branch []common.Hash
	for len(nodes) > 1 {
		branch = append(branch, nodes[index^1])
		next := make([]common.Hash, len(nodes)/2)
		for i := range next {
			next[i] = hashPair(nodes[2*i], nodes[2*i+1])
		}
		nodes = next
		index /= 2
	}
	return branch
}
