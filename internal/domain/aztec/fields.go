package aztec

import (
	"fmt"
	"math/big"

	"github.com/GoPolymarket/relaygate/internal/codec"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FieldPayloadBytes is how many payload bytes one field element carries. The
// top byte stays zero so every chunk is below the field modulus.
const FieldPayloadBytes = 31

// FilledFillerOffset is where the filler starts once the payload fields of a
// Filled event are unpacked: the order fills ten fields, the last one padded.
const FilledFillerOffset = (codec.OrderDataLength + FieldPayloadBytes - 1) / FieldPayloadBytes * FieldPayloadBytes

// Event kind tags, carried in the second field of every gateway log.
const (
	tagOpen   = 1
	tagFilled = 2
)

// PackFields splits data into field elements of 31 bytes each, the last one
// zero padded at the end.
func PackFields(data []byte) []common.Hash {
	n := (len(data) + FieldPayloadBytes - 1) / FieldPayloadBytes
	out := make([]common.Hash, n)
	for i := range out {
		start := i * FieldPayloadBytes
		end := start + FieldPayloadBytes
		if end > len(data) {
			end = len(data)
		}
		copy(out[i][1:], data[start:end])
	}
	return out
}

// UnpackFields concatenates the low 31 bytes of each field.
func UnpackFields(fields []common.Hash) []byte {
	out := make([]byte, 0, len(fields)*FieldPayloadBytes)
	for _, f := range fields {
		out = append(out, f[1:]...)
	}
	return out
}

func parseFields(raw []string) ([]common.Hash, error) {
	out := make([]common.Hash, len(raw))
	for i, s := range raw {
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		if len(b) > 32 {
			return nil, fmt.Errorf("field %d is %d bytes", i, len(b))
		}
		out[i] = common.BytesToHash(b)
	}
	return out, nil
}

// encodeArg turns a chain neutral call argument into the JSON the wallet
// sidecar expects: a field as hex, or an array of fields for bytes.
func encodeArg(arg any) (any, error) {
	switch v := arg.(type) {
	case common.Hash:
		return v.Hex(), nil
	case common.Address:
		return common.BytesToHash(v.Bytes()).Hex(), nil
	case []byte:
		fields := PackFields(v)
		out := make([]string, len(fields))
		for i, f := range fields {
			out[i] = f.Hex()
		}
		return out, nil
	case *big.Int:
		return hexutil.EncodeBig(v), nil
	case uint32:
		return hexutil.EncodeUint64(uint64(v)), nil
	case uint64:
		return hexutil.EncodeUint64(v), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as a field", arg)
	}
}

func encodeArgs(args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := encodeArg(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
