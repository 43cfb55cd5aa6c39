package solana

import "context"

// LedgerClient defines the Solana RPC calls used by the mint workflow.
type LedgerClient interface {
	// GetBalance returns the lamport balance of an account.
	GetBalance(ctx context.Context, account string) (uint64, error)

	// SendTransaction submits a signed, wire-encoded transaction and returns its signature.
	SendTransaction(ctx context.Context, signedTx []byte, preflight Commitment) (string, error)

	// GetSignatureStatuses returns one status per signature; nil entries are unknown to the node.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetAccountInfo retrieves account info by public key. Returns nil if account not found.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetLatestBlockhash returns a blockhash usable for a new transaction.
	GetLatestBlockhash(ctx context.Context, commitment Commitment) (*Blockhash, error)

	// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for an account of size bytes.
	GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
}
