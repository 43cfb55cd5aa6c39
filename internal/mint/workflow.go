// Package mint runs one candy machine mint attempt end to end: submit,
// await confirmation, classify, then refresh the wallet balance and sale
// state on every exit path.
package mint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"candy-mint/internal/candymachine"
	"candy-mint/internal/observability"
	"candy-mint/internal/sale"
	"candy-mint/internal/solana"
	"candy-mint/internal/wallet"
)

// Defaults applied by NewWorkflow.
const (
	DefaultTxTimeout      = 30 * time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

// AttemptStatus is the lifecycle of a MintAttempt.
type AttemptStatus int

const (
	AttemptPending AttemptStatus = iota
	AttemptConfirmed
	AttemptFailed
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptPending:
		return "pending"
	case AttemptConfirmed:
		return "confirmed"
	default:
		return "failed"
	}
}

// Attempt is one in-flight mint. It is discarded once its outcome is returned.
type Attempt struct {
	ID        string
	Wallet    common.PublicKey
	Status    AttemptStatus
	Signature string
	StartedAt time.Time
}

// Config configures a Workflow.
type Config struct {
	// TxTimeout bounds the confirmation wait.
	TxTimeout time.Duration
	// PollInterval is the signature status poll interval.
	PollInterval time.Duration
	// Commitment is used for preflight, blockhash and confirmation.
	Commitment solana.Commitment
	// RefreshTimeout bounds the post-attempt balance and sale refresh.
	RefreshTimeout time.Duration
	Clock          clock.Clock
	Logger         *zap.Logger
}

// Workflow submits mint transactions and reports one Outcome per attempt.
type Workflow struct {
	ledger solana.LedgerClient
	syncer *sale.Syncer
	poller *Poller
	config Config
	logger *zap.Logger

	// newMint generates the keypair of the token mint; replaced in tests.
	newMint func() types.Account

	mu       sync.Mutex
	pending  map[common.PublicKey]*Attempt
	balances map[common.PublicKey]uint64
}

// NewWorkflow creates a new Workflow.
func NewWorkflow(ledger solana.LedgerClient, syncer *sale.Syncer, config Config) *Workflow {
	if config.TxTimeout <= 0 {
		config.TxTimeout = DefaultTxTimeout
	}
	if config.RefreshTimeout <= 0 {
		config.RefreshTimeout = DefaultRefreshTimeout
	}
	if config.Commitment == "" {
		config.Commitment = solana.CommitmentConfirmed
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Workflow{
		ledger: ledger,
		syncer: syncer,
		poller: NewPoller(ledger, PollerConfig{
			Interval: config.PollInterval,
			Clock:    config.Clock,
			Logger:   config.Logger,
		}),
		config:   config,
		logger:   config.Logger.Named("mint"),
		newMint:  types.NewAccount,
		pending:  make(map[common.PublicKey]*Attempt),
		balances: make(map[common.PublicKey]uint64),
	}
}

// AttemptMint submits one mint for w against program and waits for it to
// resolve. Every submission or confirmation failure is reported through the
// returned Outcome; the only errors are the refusals ErrWalletDisconnected,
// ErrSoldOut, ErrNotLive and ErrAttemptPending, which have no side effects.
func (wf *Workflow) AttemptMint(ctx context.Context, w wallet.Wallet, program candymachine.ProgramConfig) (out Outcome, err error) {
	if !wallet.Connected(w) {
		observability.RecordMintRefusal("disconnected")
		return Outcome{}, ErrWalletDisconnected
	}
	if wf.syncer.Model().SoldOut() {
		observability.RecordMintRefusal("sold_out")
		return Outcome{}, ErrSoldOut
	}
	if !wf.syncer.Model().CanMint() {
		observability.RecordMintRefusal("not_live")
		return Outcome{}, ErrNotLive
	}

	attempt, ok := wf.begin(w.PublicKey())
	if !ok {
		observability.RecordMintRefusal("pending")
		return Outcome{}, ErrAttemptPending
	}

	logger := wf.logger.With(
		zap.String("attempt_id", attempt.ID),
		zap.String("wallet", wallet.ShortenAddress(attempt.Wallet.ToBase58(), 4)),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("mint attempt panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = failureOutcome(KindUnknown, attempt.Signature != "")
			err = nil
		}
		out.AttemptID = attempt.ID
		out.Signature = attempt.Signature
		wf.finish(ctx, attempt, out, logger)
	}()

	return wf.run(ctx, w, program, attempt, logger), nil
}

// run performs submit, poll and classify strictly in sequence.
func (wf *Workflow) run(ctx context.Context, w wallet.Wallet, program candymachine.ProgramConfig, attempt *Attempt, logger *zap.Logger) Outcome {
	signature, err := wf.submit(ctx, w, program)
	if err != nil {
		ce := Classify(err)
		logger.Warn("mint submission failed", zap.Stringer("kind", ce.Kind), zap.Error(ce))
		return wf.handleFailure(ce, false)
	}
	attempt.Signature = signature
	logger.Info("mint submitted", zap.String("signature", signature))

	res, err := wf.poller.Await(ctx, signature, wf.config.TxTimeout, wf.config.Commitment)
	if err != nil {
		logger.Warn("confirmation wait abandoned", zap.String("signature", signature), zap.Error(err))
		return timeoutOutcome()
	}

	switch res.Status {
	case StatusConfirmed:
		logger.Info("mint confirmed", zap.String("signature", signature), zap.Int64("slot", res.Slot))
		return successOutcome()
	case StatusFailed:
		ce := ClassifyTransactionError(res.Err)
		logger.Warn("mint transaction failed", zap.String("signature", signature), zap.Stringer("kind", ce.Kind), zap.Error(ce))
		return wf.handleFailure(ce, true)
	default:
		logger.Warn("mint confirmation timed out",
			zap.String("signature", signature),
			zap.Duration("timeout", wf.config.TxTimeout),
			zap.Int("polls", res.Polls),
		)
		return timeoutOutcome()
	}
}

func (wf *Workflow) handleFailure(ce *ClassifiedError, landed bool) Outcome {
	if ce.Kind == KindSoldOut {
		wf.syncer.Model().LatchSoldOut()
	}
	return failureOutcome(ce.Kind, landed)
}

// submit builds, signs and sends the mint transaction. The wallet is only
// used inside this call.
func (wf *Workflow) submit(ctx context.Context, w wallet.Wallet, program candymachine.ProgramConfig) (string, error) {
	blockhash, err := wf.ledger.GetLatestBlockhash(ctx, wf.config.Commitment)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}
	rent, err := wf.ledger.GetMinimumBalanceForRentExemption(ctx, candymachine.MintAccountSize)
	if err != nil {
		return "", fmt.Errorf("get mint rent: %w", err)
	}

	tx, _, err := candymachine.BuildMintTransaction(candymachine.MintRequest{
		Program:   program,
		Payer:     w.PublicKey(),
		Mint:      wf.newMint(),
		Blockhash: blockhash.Blockhash,
		MintRent:  rent,
	})
	if err != nil {
		return "", err
	}

	signed, err := w.SignTransaction(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}

	signature, err := wf.ledger.SendTransaction(ctx, raw, wf.config.Commitment)
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signature, nil
}

func (wf *Workflow) begin(key common.PublicKey) (*Attempt, bool) {
	wf.mu.Lock()
	defer wf.mu.Unlock()

	if _, busy := wf.pending[key]; busy {
		return nil, false
	}
	attempt := &Attempt{
		ID:        uuid.NewString(),
		Wallet:    key,
		Status:    AttemptPending,
		StartedAt: wf.config.Clock.Now(),
	}
	wf.pending[key] = attempt
	return attempt, true
}

// finish runs on every exit path of an attempt: it reads the wallet balance
// once, refreshes the sale state and clears the pending attempt. It uses a
// context detached from the caller so a cancelled request still refreshes.
func (wf *Workflow) finish(ctx context.Context, attempt *Attempt, out Outcome, logger *zap.Logger) {
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wf.config.RefreshTimeout)
	defer cancel()

	if _, err := wf.RefreshBalance(refreshCtx, attempt.Wallet); err != nil {
		logger.Warn("balance refresh failed", zap.Error(err))
	}
	if _, err := wf.syncer.Refresh(refreshCtx); err != nil {
		logger.Warn("sale state refresh failed", zap.Error(err))
	}

	if out.Success() {
		attempt.Status = AttemptConfirmed
	} else {
		attempt.Status = AttemptFailed
	}
	elapsed := wf.config.Clock.Since(attempt.StartedAt)
	observability.RecordMintAttempt(string(out.Severity), out.Kind.String(), elapsed)
	logger.Info("mint attempt finished",
		zap.Stringer("status", attempt.Status),
		zap.String("severity", string(out.Severity)),
		zap.Stringer("kind", out.Kind),
		zap.Duration("elapsed", elapsed),
	)

	wf.mu.Lock()
	delete(wf.pending, attempt.Wallet)
	wf.mu.Unlock()
}

// RefreshBalance reads and caches the lamport balance of key.
func (wf *Workflow) RefreshBalance(ctx context.Context, key common.PublicKey) (uint64, error) {
	lamports, err := wf.ledger.GetBalance(ctx, key.ToBase58())
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	wf.mu.Lock()
	wf.balances[key] = lamports
	wf.mu.Unlock()

	observability.UpdateWalletBalance(lamports)
	return lamports, nil
}

// Balance returns the last observed balance of key.
func (wf *Workflow) Balance(key common.PublicKey) (uint64, bool) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	lamports, ok := wf.balances[key]
	return lamports, ok
}

// Pending reports whether an attempt for key is in flight.
func (wf *Workflow) Pending(key common.PublicKey) bool {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	_, ok := wf.pending[key]
	return ok
}

// Syncer returns the sale syncer the workflow refreshes.
func (wf *Workflow) Syncer() *sale.Syncer {
	return wf.syncer
}
