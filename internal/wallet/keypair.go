package wallet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"

	"candy-mint/internal/solana"
)

// ErrInvalidKeypair is returned when a keypair file cannot be used.
var ErrInvalidKeypair = errors.New("invalid keypair")

// Keypair is a Wallet backed by a local ed25519 keypair.
type Keypair struct {
	account types.Account
}

var _ Wallet = (*Keypair)(nil)

// NewKeypair wraps an existing account.
func NewKeypair(account types.Account) *Keypair {
	return &Keypair{account: account}
}

// LoadKeypair reads a solana-keygen keypair file (a JSON array of 64 bytes).
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	return ParseKeypair(data)
}

// ParseKeypair decodes keypair JSON and checks that the public half matches
// the private seed.
func ParseKeypair(data []byte) (*Keypair, error) {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeypair, len(ints), ed25519.PrivateKeySize)
	}

	key := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKeypair, i)
		}
		key[i] = byte(v)
	}

	account, err := types.AccountFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeypair, err)
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize]).Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, account.PublicKey.Bytes()) {
		return nil, fmt.Errorf("%w: public key does not match seed", ErrInvalidKeypair)
	}
	if !solana.IsOnCurve(account.PublicKey) {
		return nil, fmt.Errorf("%w: public key is off curve", ErrInvalidKeypair)
	}
	return &Keypair{account: account}, nil
}

// PublicKey returns the keypair's public key.
func (k *Keypair) PublicKey() common.PublicKey {
	return k.account.PublicKey
}

// SignTransaction adds the keypair's signature to tx.
func (k *Keypair) SignTransaction(_ context.Context, tx types.Transaction) (types.Transaction, error) {
	msg, err := tx.Message.Serialize()
	if err != nil {
		return types.Transaction{}, fmt.Errorf("serialize message: %w", err)
	}
	tx.Signatures = append([]types.Signature(nil), tx.Signatures...)
	if err := tx.AddSignature(k.account.Sign(msg)); err != nil {
		return types.Transaction{}, fmt.Errorf("add signature: %w", err)
	}
	return tx, nil
}

// SignAllTransactions signs each transaction in order.
func (k *Keypair) SignAllTransactions(ctx context.Context, txs []types.Transaction) ([]types.Transaction, error) {
	out := make([]types.Transaction, 0, len(txs))
	for i, tx := range txs {
		signed, err := k.SignTransaction(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out = append(out, signed)
	}
	return out, nil
}
