package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"go.uber.org/zap"

	"candy-mint/internal/candymachine"
	"candy-mint/internal/observability"
	"candy-mint/internal/solana"
)

// StateReader reads the candy machine sale state.
type StateReader interface {
	Read(ctx context.Context, candyMachineID common.PublicKey) (candymachine.Snapshot, error)
}

// SyncerConfig configures a Syncer.
type SyncerConfig struct {
	CandyMachineID common.PublicKey
	// StartDate is used when the account carries no go-live date.
	StartDate time.Time
	// Commitment for account subscriptions.
	Commitment solana.Commitment
	Logger     *zap.Logger
}

// Syncer applies program state reads to a Model.
type Syncer struct {
	reader StateReader
	model  *Model
	config SyncerConfig
	logger *zap.Logger
}

// NewSyncer creates a new Syncer.
func NewSyncer(reader StateReader, model *Model, config SyncerConfig) *Syncer {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		reader: reader,
		model:  model,
		config: config,
		logger: logger.Named("sale"),
	}
}

// Model returns the synchronized model.
func (s *Syncer) Model() *Model {
	return s.model
}

// Refresh reads the program state and applies it. On failure the model is
// marked unknown and the error is returned.
func (s *Syncer) Refresh(ctx context.Context) (candymachine.Snapshot, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return candymachine.Snapshot{}, err
	}
	s.model.Apply(snap)
	return snap, nil
}

// Resync re-reads the program state and replaces the go-live window before
// applying it. It is run after a subscription reconnect.
func (s *Syncer) Resync(ctx context.Context) error {
	snap, err := s.read(ctx)
	if err != nil {
		return err
	}
	s.model.ReplaceWindow(snap.GoLiveAt)
	s.model.Apply(snap)
	return nil
}

// Watch applies every account change pushed by ws until ctx is done or the
// subscription channel closes. Undecodable pushes are logged and skipped.
func (s *Syncer) Watch(ctx context.Context, ws solana.WSClient) error {
	notifications, err := ws.SubscribeAccount(ctx, solana.AccountFilter{
		Account:    s.config.CandyMachineID.ToBase58(),
		Commitment: s.config.Commitment,
	})
	if err != nil {
		return fmt.Errorf("subscribe candy machine: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			observability.RecordAccountUpdate()

			snap, err := candymachine.SnapshotFromAccount(n.Account)
			if err != nil {
				s.logger.Warn("skipping account notification", zap.Int64("slot", n.Slot), zap.Error(err))
				continue
			}
			snap.Slot = n.Slot
			s.withFallback(&snap)
			s.model.Apply(snap)
			observability.UpdateCounters(snap.Counters.ItemsAvailable, snap.Counters.ItemsRedeemed)
		}
	}
}

func (s *Syncer) read(ctx context.Context) (candymachine.Snapshot, error) {
	snap, err := s.reader.Read(ctx, s.config.CandyMachineID)
	if err != nil {
		observability.RecordStateReadError()
		s.model.MarkUnknown()
		s.logger.Warn("sale state read failed", zap.Error(err))
		return candymachine.Snapshot{}, err
	}
	s.withFallback(&snap)
	observability.UpdateCounters(snap.Counters.ItemsAvailable, snap.Counters.ItemsRedeemed)
	s.logger.Debug("sale state read",
		zap.Uint64("items_available", snap.Counters.ItemsAvailable),
		zap.Uint64("items_redeemed", snap.Counters.ItemsRedeemed),
		zap.Time("go_live_at", snap.GoLiveAt),
	)
	return snap, nil
}

func (s *Syncer) withFallback(snap *candymachine.Snapshot) {
	if snap.GoLiveAt.IsZero() && !s.config.StartDate.IsZero() {
		snap.GoLiveAt = s.config.StartDate
	}
}
