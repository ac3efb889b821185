package executor

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs transactions for one account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	address  common.Address
	key      *ecdsa.PrivateKey
	txSigner types.Signer
}

// NewKeySigner builds a signer from a hex private key for the given chain.
func NewKeySigner(hexKey string, chainID *big.Int) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &KeySigner{
		address:  crypto.PubkeyToAddress(key.PublicKey),
		key:      key,
		txSigner: types.LatestSignerForChainID(chainID),
	}, nil
}

func (s *KeySigner) Address() common.Address { return s.address }

func (s *KeySigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, s.txSigner, s.key)
}
