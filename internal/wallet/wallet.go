// Package wallet defines the signer the mint workflow borrows for a single
// submission, plus a keypair-file implementation for the CLI and server.
package wallet

import (
	"context"
	"errors"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
)

// ErrSigningUnavailable is returned by Funcs when a signing capability is missing.
var ErrSigningUnavailable = errors.New("wallet signing capability unavailable")

// Wallet is a connected signer. Implementations must not retain transactions
// passed to them after returning.
type Wallet interface {
	PublicKey() common.PublicKey
	SignTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error)
	SignAllTransactions(ctx context.Context, txs []types.Transaction) ([]types.Transaction, error)
}

// connector is implemented by wallets that can report a partial connection.
type connector interface {
	Connected() bool
}

// Connected reports whether w can be used for a mint: it is non-nil, has a
// public key, and (when it says so) every signing capability is present.
func Connected(w Wallet) bool {
	if w == nil {
		return false
	}
	if c, ok := w.(connector); ok && !c.Connected() {
		return false
	}
	return w.PublicKey() != (common.PublicKey{})
}

// Funcs adapts plain functions to Wallet, typically for wallets bridged from
// another process. A nil function means the capability is absent.
type Funcs struct {
	Key     common.PublicKey
	Sign    func(ctx context.Context, tx types.Transaction) (types.Transaction, error)
	SignAll func(ctx context.Context, txs []types.Transaction) ([]types.Transaction, error)
}

var _ Wallet = (*Funcs)(nil)

// PublicKey returns the wallet key.
func (f *Funcs) PublicKey() common.PublicKey {
	if f == nil {
		return common.PublicKey{}
	}
	return f.Key
}

// Connected is false when any capability is missing.
func (f *Funcs) Connected() bool {
	return f != nil && f.Key != (common.PublicKey{}) && f.Sign != nil && f.SignAll != nil
}

// SignTransaction delegates to Sign.
func (f *Funcs) SignTransaction(ctx context.Context, tx types.Transaction) (types.Transaction, error) {
	if f == nil || f.Sign == nil {
		return types.Transaction{}, ErrSigningUnavailable
	}
	return f.Sign(ctx, tx)
}

// SignAllTransactions delegates to SignAll.
func (f *Funcs) SignAllTransactions(ctx context.Context, txs []types.Transaction) ([]types.Transaction, error) {
	if f == nil || f.SignAll == nil {
		return nil, ErrSigningUnavailable
	}
	return f.SignAll(ctx, txs)
}

// ShortenAddress renders a base58 address as its first and last chars
// characters, e.g. "9JjW...2j3e".
func ShortenAddress(address string, chars int) string {
	if chars <= 0 {
		chars = 4
	}
	if len(address) <= 2*chars {
		return address
	}
	return address[:chars] + "..." + address[len(address)-chars:]
}
