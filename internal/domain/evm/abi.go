package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// relayABI covers the gateway, the anchor and forwarder contracts and the
// ERC20 calls the relayer makes. Function names are unique across all of
// them, so one table is enough.
const relayABI = `[
{"anonymous":false,"name":"Open","type":"event","inputs":[
  {"indexed":true,"name":"orderId","type":"bytes32"},
  {"indexed":false,"name":"orderData","type":"bytes"}]},
{"anonymous":false,"name":"Filled","type":"event","inputs":[
  {"indexed":true,"name":"orderId","type":"bytes32"},
  {"indexed":false,"name":"originData","type":"bytes"},
  {"indexed":false,"name":"fillerData","type":"bytes"}]},
{"name":"fill","type":"function","stateMutability":"nonpayable","inputs":[
  {"name":"orderId","type":"bytes32"},
  {"name":"originData","type":"bytes"},
  {"name":"fillerData","type":"bytes"}],"outputs":[]},
{"name":"orderStatus","type":"function","stateMutability":"view","inputs":[
  {"name":"orderId","type":"bytes32"}],"outputs":[{"name":"","type":"bytes32"}]},
{"name":"settle","type":"function","stateMutability":"nonpayable","inputs":[
  {"name":"orderId","type":"bytes32"},
  {"name":"filler","type":"bytes32"},
  {"name":"witness","type":"bytes"}],"outputs":[]},
{"name":"forwardSettle","type":"function","stateMutability":"nonpayable","inputs":[
  {"name":"orderId","type":"bytes32"},
  {"name":"filler","type":"bytes32"},
  {"name":"proof","type":"bytes"}],"outputs":[]},
{"name":"latestAnchor","type":"function","stateMutability":"view","inputs":[
  {"name":"domain","type":"uint32"}],"outputs":[
  {"name":"position","type":"uint256"},
  {"name":"root","type":"bytes32"}]},
{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[
  {"name":"spender","type":"address"},
  {"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"allowance","type":"function","stateMutability":"view","inputs":[
  {"name":"owner","type":"address"},
  {"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(relayABI))
	if err != nil {
		panic(fmt.Sprintf("relay abi: %v", err))
	}
	return parsed
}

// pack encodes a call. Arguments arrive in the chain neutral form used by
// domain.Call and are converted to what the abi package expects.
func pack(function string, args []any) ([]byte, error) {
	method, ok := parsedABI.Methods[function]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", function)
	}
	converted, err := convertArgs(method.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", function, err)
	}
	return parsedABI.Pack(function, converted...)
}

func convertArgs(inputs abi.Arguments, args []any) ([]any, error) {
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("want %d arguments, got %d", len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, in := range inputs {
		v, err := convertArg(in.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", in.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func convertArg(t abi.Type, arg any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		switch v := arg.(type) {
		case common.Address:
			return v, nil
		case common.Hash:
			return common.BytesToAddress(v.Bytes()), nil
		}
	case abi.FixedBytesTy:
		if t.Size == 32 {
			switch v := arg.(type) {
			case common.Hash:
				return [32]byte(v), nil
			case [32]byte:
				return v, nil
			}
		}
	case abi.BytesTy:
		if v, ok := arg.([]byte); ok {
			if v == nil {
				v = []byte{}
			}
			return v, nil
		}
	case abi.UintTy:
		switch t.Size {
		case 32:
			if v, ok := arg.(uint32); ok {
				return v, nil
			}
		case 64:
			switch v := arg.(type) {
			case uint64:
				return v, nil
			case uint32:
				return uint64(v), nil
			}
		case 256:
			switch v := arg.(type) {
			case *big.Int:
				return v, nil
			case uint64:
				return new(big.Int).SetUint64(v), nil
			case uint32:
				return new(big.Int).SetUint64(uint64(v)), nil
			}
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", arg, t.String())
}
