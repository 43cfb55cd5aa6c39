package solana

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Commitment is the confirmation strength requested from the ledger.
type Commitment string

// Commitment levels, weakest first.
const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment parses a commitment level. Deprecated RPC aliases
// (recent, single, singleGossip, root, max) map onto the current levels.
func ParseCommitment(s string) (Commitment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "confirmed", "single", "singlegossip":
		return CommitmentConfirmed, nil
	case "processed", "recent":
		return CommitmentProcessed, nil
	case "finalized", "root", "max":
		return CommitmentFinalized, nil
	}
	return "", fmt.Errorf("unknown commitment %q", s)
}

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	}
	return 0
}

// SatisfiedBy reports whether a status observed at level got meets c.
func (c Commitment) SatisfiedBy(got Commitment) bool {
	return got.rank() > 0 && got.rank() >= c.rank()
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *uint64 // nil once rooted
	ConfirmationStatus Commitment
	Err                json.RawMessage // nil when the transaction succeeded
}

// Failed reports whether the transaction landed with an error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// Blockhash from getLatestBlockhash.
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// DecodeData returns the raw account bytes.
func (a *AccountInfo) DecodeData() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("decode account data: %w", err)
	}
	return raw, nil
}
