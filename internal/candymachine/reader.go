package candymachine

import (
	"context"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/common"

	"candy-mint/internal/solana"
)

// Snapshot is one read of the sale state.
type Snapshot struct {
	Counters Counters
	// GoLiveAt is zero when the account carries no go-live date.
	GoLiveAt time.Time
	Machine  *CandyMachine
	// Slot is set when the snapshot came from a subscription push.
	Slot int64
}

// AccountFetcher is the subset of solana.LedgerClient the reader needs.
type AccountFetcher interface {
	GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error)
}

// Reader fetches and decodes candy machine state.
type Reader struct {
	ledger AccountFetcher
}

// NewReader creates a new Reader.
func NewReader(ledger AccountFetcher) *Reader {
	return &Reader{ledger: ledger}
}

// Read fetches the candy machine account and returns its sale state.
func (r *Reader) Read(ctx context.Context, candyMachineID common.PublicKey) (Snapshot, error) {
	info, err := r.ledger.GetAccountInfo(ctx, candyMachineID.ToBase58())
	if err != nil {
		return Snapshot{}, fmt.Errorf("get candy machine account: %w", err)
	}
	if info == nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrAccountNotFound, candyMachineID.ToBase58())
	}
	return SnapshotFromAccount(info)
}

// SnapshotFromAccount decodes an already fetched (or pushed) account.
func SnapshotFromAccount(info *solana.AccountInfo) (Snapshot, error) {
	if info == nil {
		return Snapshot{}, ErrAccountNotFound
	}
	if info.Owner != "" && info.Owner != ProgramID.ToBase58() {
		return Snapshot{}, fmt.Errorf("%w: owned by %s", ErrInvalidDiscriminator, info.Owner)
	}

	data, err := info.DecodeData()
	if err != nil {
		return Snapshot{}, err
	}
	machine, err := DecodeCandyMachine(data)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Counters: machine.Counters(),
		Machine:  machine,
	}
	if at, ok := machine.GoLiveAt(); ok {
		snap.GoLiveAt = at
	}
	return snap, nil
}
