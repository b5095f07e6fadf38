package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the filler's EVM key for one chain.
type Signer struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	chainID  *big.Int
	txSigner types.Signer
}

func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}

	publicKeyECDSA, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	id := big.NewInt(chainID)
	return &Signer{
		key:      key,
		address:  crypto.PubkeyToAddress(*publicKeyECDSA),
		chainID:  id,
		txSigner: types.LatestSignerForChainID(id),
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Identifier is the address left-padded to 32 bytes, the form used for the
// filler in orders and settlement messages.
func (s *Signer) Identifier() common.Hash {
	return common.BytesToHash(s.address.Bytes())
}

func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, s.txSigner, s.key)
}

// SignHash signs a 32 byte digest and returns the 65 byte [R || S || V]
// signature with V in {27, 28}.
func (s *Signer) SignHash(hash common.Hash) ([]byte, error) {
	signature, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, err
	}
	if signature[64] < 27 {
		signature[64] += 27
	}
	return signature, nil
}
