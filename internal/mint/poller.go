package mint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"candy-mint/internal/observability"
	"candy-mint/internal/solana"
)

// Status is the poller's resolution.
type Status int

const (
	StatusConfirmed Status = iota
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result of Await.
type Result struct {
	Status    Status
	Signature string
	Slot      int64
	// Err is the raw TransactionError when Status is StatusFailed.
	Err     json.RawMessage
	Polls   int
	Elapsed time.Duration
}

// StatusFetcher is the subset of solana.LedgerClient the poller needs.
type StatusFetcher interface {
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*solana.SignatureStatus, error)
}

// DefaultPollInterval is used when PollerConfig.Interval is zero.
const DefaultPollInterval = time.Second

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Poller waits for a submitted transaction to resolve.
type Poller struct {
	ledger   StatusFetcher
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

// NewPoller creates a new Poller.
func NewPoller(ledger StatusFetcher, config PollerConfig) *Poller {
	p := &Poller{
		ledger:   ledger,
		interval: config.Interval,
		clock:    config.Clock,
		logger:   config.Logger,
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("poller")
	return p
}

// Await polls the status of signature every interval until it reaches
// commitment, lands with an error, or timeout elapses. A timeout is reported
// as StatusTimedOut, not as an error: the transaction may still land.
// Transient RPC failures are logged and polling continues. The only error
// returned is ctx.Err() when the caller cancels.
func (p *Poller) Await(ctx context.Context, signature string, timeout time.Duration, commitment solana.Commitment) (Result, error) {
	if commitment == "" {
		commitment = solana.CommitmentConfirmed
	}

	start := p.clock.Now()
	deadline := start.Add(timeout)
	pollCtx, cancel := p.clock.WithDeadline(ctx, deadline)
	defer cancel()

	res := Result{Signature: signature}
	finish := func(status Status) (Result, error) {
		res.Status = status
		res.Elapsed = p.clock.Since(start)
		observability.RecordConfirmation(status.String(), res.Elapsed)
		p.logger.Debug("signature resolved",
			zap.String("signature", signature),
			zap.Stringer("status", status),
			zap.Int("polls", res.Polls),
			zap.Duration("elapsed", res.Elapsed),
		)
		return res, nil
	}

	for {
		res.Polls++
		statuses, err := p.ledger.GetSignatureStatuses(pollCtx, []string{signature})
		observability.RecordPoll(err)

		switch {
		case ctx.Err() != nil:
			return Result{}, ctx.Err()
		case err != nil:
			p.logger.Warn("signature status poll failed",
				zap.String("signature", signature),
				zap.Int("poll", res.Polls),
				zap.Error(err),
			)
		case len(statuses) > 0 && statuses[0] != nil:
			st := statuses[0]
			res.Slot = st.Slot
			if st.Failed() {
				res.Err = st.Err
				return finish(StatusFailed)
			}
			if commitment.SatisfiedBy(st.ConfirmationStatus) {
				return finish(StatusConfirmed)
			}
		}

		if !p.clock.Now().Before(deadline) {
			return finish(StatusTimedOut)
		}

		timer := p.clock.Timer(p.interval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			return finish(StatusTimedOut)
		case <-timer.C:
		}
	}
}
