package stub

import (
	"context"
	"errors"
	"sync"

	"candy-mint/internal/solana"
)

// ErrNotFound is returned when a scripted value is missing.
var ErrNotFound = errors.New("not found")

// Ledger implements solana.LedgerClient for testing. Each method can be
// scripted with a fixed value, an error, or a per-call function, and every
// call is counted.
type Ledger struct {
	mu sync.Mutex

	Balances  map[string]uint64
	Accounts  map[string]*solana.AccountInfo
	Blockhash string
	Rent      uint64

	// StatusScript is consumed one entry per GetSignatureStatuses call; the
	// last entry repeats once the script is exhausted.
	StatusScript []StatusStep

	// Fault injection, keyed by method name (e.g. "sendTransaction").
	Errors map[string]error

	// SendFunc overrides SendTransaction when set.
	SendFunc func(ctx context.Context, signedTx []byte) (string, error)

	calls     map[string]int
	sent      [][]byte
	statusIdx int
}

// StatusStep is one scripted answer of GetSignatureStatuses.
type StatusStep struct {
	Status *solana.SignatureStatus
	Err    error
}

// Compile-time interface check.
var _ solana.LedgerClient = (*Ledger)(nil)

// NewLedger creates a new stub ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Balances:  make(map[string]uint64),
		Accounts:  make(map[string]*solana.AccountInfo),
		Errors:    make(map[string]error),
		Blockhash: "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
		Rent:      1461600,
		calls:     make(map[string]int),
	}
}

func (l *Ledger) record(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[method]++
	return l.Errors[method]
}

// Calls returns how many times method was invoked.
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

// Sent returns the raw transactions passed to SendTransaction.
func (l *Ledger) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sent))
	copy(out, l.sent)
	return out
}

// SetError injects (or clears, with nil) a fault for method.
func (l *Ledger) SetError(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.Errors, method)
		return
	}
	l.Errors[method] = err
}

// SetAccount stores account info for address.
func (l *Ledger) SetAccount(address string, info *solana.AccountInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Accounts[address] = info
}

// GetBalance returns the scripted balance.
func (l *Ledger) GetBalance(_ context.Context, account string) (uint64, error) {
	if err := l.record("getBalance"); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Balances[account], nil
}

// SendTransaction records the payload and returns a signature.
func (l *Ledger) SendTransaction(ctx context.Context, signedTx []byte, _ solana.Commitment) (string, error) {
	if err := l.record("sendTransaction"); err != nil {
		return "", err
	}
	l.mu.Lock()
	l.sent = append(l.sent, signedTx)
	send := l.SendFunc
	l.mu.Unlock()

	if send != nil {
		return send(ctx, signedTx)
	}
	return "stubsig", nil
}

// GetSignatureStatuses plays back StatusScript.
func (l *Ledger) GetSignatureStatuses(_ context.Context, signatures []string) ([]*solana.SignatureStatus, error) {
	if err := l.record("getSignatureStatuses"); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*solana.SignatureStatus, len(signatures))
	if len(l.StatusScript) == 0 {
		return out, nil
	}

	idx := l.statusIdx
	if idx >= len(l.StatusScript) {
		idx = len(l.StatusScript) - 1
	} else {
		l.statusIdx++
	}
	step := l.StatusScript[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	for i := range out {
		out[i] = step.Status
	}
	return out, nil
}

// GetAccountInfo returns the stored account, or nil when absent.
func (l *Ledger) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	if err := l.record("getAccountInfo"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Accounts[pubkey], nil
}

// GetLatestBlockhash returns the scripted blockhash.
func (l *Ledger) GetLatestBlockhash(_ context.Context, _ solana.Commitment) (*solana.Blockhash, error) {
	if err := l.record("getLatestBlockhash"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Blockhash == "" {
		return nil, ErrNotFound
	}
	return &solana.Blockhash{Blockhash: l.Blockhash, LastValidBlockHeight: 1000}, nil
}

// GetMinimumBalanceForRentExemption returns the scripted rent.
func (l *Ledger) GetMinimumBalanceForRentExemption(_ context.Context, _ uint64) (uint64, error) {
	if err := l.record("getMinimumBalanceForRentExemption"); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Rent, nil
}

// Confirmed is a convenience status at the given commitment.
func Confirmed(level solana.Commitment) *solana.SignatureStatus {
	return &solana.SignatureStatus{Slot: 1, ConfirmationStatus: level}
}

// Failed is a convenience status carrying a raw transaction error.
func Failed(rawErr string) *solana.SignatureStatus {
	return &solana.SignatureStatus{Slot: 1, ConfirmationStatus: solana.CommitmentConfirmed, Err: []byte(rawErr)}
}
