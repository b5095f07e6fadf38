package proof

import (
	"fmt"
	"math/big"

	"github.com/GoPolymarket/relaygate/internal/domain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

type Mode uint8

const (
	ModeStorage Mode = iota + 1
	ModeMembership
)

// ParseMode maps the route config value to a Mode.
func ParseMode(v string) (Mode, error) {
	switch v {
	case "storage", "":
		return ModeStorage, nil
	case "membership":
		return ModeMembership, nil
	default:
		return 0, fmt.Errorf("unknown proof mode %q", v)
	}
}

func (m Mode) String() string {
	if m == ModeMembership {
		return "membership"
	}
	return "storage"
}

// Package is everything a forwarder contract needs to accept a settlement
// message: where the anchor stands, the proof of the message on the
// destination and, for beacon anchored routes, the branch tying the
// execution state root to the anchored beacon block.
type Package struct {
	Mode           Mode
	AnchorPosition uint64
	AnchorRoot     common.Hash
	Proof          *domain.Proof
	StateRoot      common.Hash
	StateBranch    []common.Hash
}

var (
	packageArgs abi.Arguments
	witnessArgs abi.Arguments
)

func init() {
	packageArgs = mustArgs(
		"uint8", "uint64", "bytes32", "bytes[]", "bytes[]", "bytes", "uint256", "bytes32[]", "bytes32", "bytes32[]",
	)
	witnessArgs = mustArgs("uint64", "bytes32", "uint256", "bytes32[]")
}

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", t, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

func hashes32(hs []common.Hash) [][32]byte {
	out := make([][32]byte, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

func nonNilBytes(bs [][]byte) [][]byte {
	if bs == nil {
		return [][]byte{}
	}
	return bs
}

// Encode ABI encodes the package as
// (uint8 mode, uint64 anchorPosition, bytes32 anchorRoot, bytes[] accountProof,
// bytes[] storageProof, bytes value, uint256 leafIndex, bytes32[] siblings,
// bytes32 stateRoot, bytes32[] stateBranch).
// Fields that do not apply to the mode are left empty.
func (p *Package) Encode() ([]byte, error) {
	if p.Proof == nil {
		return nil, fmt.Errorf("proof package has no proof")
	}
	value := p.Proof.Value
	if value == nil {
		value = []byte{}
	}
	return packageArgs.Pack(
		uint8(p.Mode),
		p.AnchorPosition,
		[32]byte(p.AnchorRoot),
		nonNilBytes(p.Proof.AccountProof),
		nonNilBytes(p.Proof.StorageProof),
		value,
		new(big.Int).SetUint64(p.Proof.Index),
		hashes32(p.Proof.Siblings),
		[32]byte(p.StateRoot),
		hashes32(p.StateBranch),
	)
}

// EncodeWitness ABI encodes a membership witness as
// (uint64 position, bytes32 root, uint256 leafIndex, bytes32[] siblings).
func EncodeWitness(w *domain.Proof) ([]byte, error) {
	if w == nil {
		return nil, fmt.Errorf("nil witness")
	}
	return witnessArgs.Pack(
		w.Position,
		[32]byte(w.Root),
		new(big.Int).SetUint64(w.Index),
		hashes32(w.Siblings),
	)
}
