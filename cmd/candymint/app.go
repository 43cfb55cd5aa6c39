package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"candy-mint/internal/candymachine"
	"candy-mint/internal/config"
	"candy-mint/internal/logging"
	"candy-mint/internal/mint"
	"candy-mint/internal/observability"
	"candy-mint/internal/sale"
	"candy-mint/internal/solana"
	"candy-mint/internal/wallet"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	ledger  *solana.HTTPClient
	program candymachine.ProgramConfig
	model   *sale.Model
	syncer  *sale.Syncer
	wf      *mint.Workflow
	// wallet is nil when no keypair is configured.
	wallet wallet.Wallet
}

func newApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	// Both already checked by Validate.
	program, _ := cfg.ProgramConfig()
	startDate, _ := cfg.StartTime()

	ledger := solana.NewHTTPClient(cfg.RPCEndpoint, solana.WithObserver(observability.RecordRPCCall))

	model := sale.NewModel(sale.WithLogger(logger))
	model.OnTransition(func(tr sale.Transition) {
		observability.UpdateSaleState(int(tr.To))
		logger.Info("sale state changed",
			zap.Stringer("from", tr.From),
			zap.Stringer("to", tr.To),
			zap.Time("at", tr.At),
		)
	})

	syncer := sale.NewSyncer(candymachine.NewReader(ledger), model, sale.SyncerConfig{
		CandyMachineID: program.CandyMachineID,
		StartDate:      startDate,
		Commitment:     cfg.CommitmentLevel(),
		Logger:         logger,
	})

	wf := mint.NewWorkflow(ledger, syncer, mint.Config{
		TxTimeout:    cfg.TxTimeout,
		PollInterval: cfg.PollInterval,
		Commitment:   cfg.CommitmentLevel(),
		Logger:       logger,
	})

	a := &app{
		cfg:     cfg,
		logger:  logger,
		ledger:  ledger,
		program: program,
		model:   model,
		syncer:  syncer,
		wf:      wf,
	}
	if cfg.Keypair != "" {
		kp, err := wallet.LoadKeypair(cfg.Keypair)
		if err != nil {
			return nil, err
		}
		a.wallet = kp
		logger.Info("wallet loaded", zap.String("wallet", wallet.ShortenAddress(kp.PublicKey().ToBase58(), 4)))
	}
	return a, nil
}

func (a *app) close() {
	a.model.Close()
	_ = a.logger.Sync()
}

// refresh reads the sale state and the wallet balance concurrently.
func (a *app) refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := a.syncer.Refresh(gctx)
		return err
	})
	if wallet.Connected(a.wallet) {
		g.Go(func() error {
			_, err := a.wf.RefreshBalance(gctx, a.wallet.PublicKey())
			return err
		})
	}
	return g.Wait()
}

// withApp builds the app, runs fn and releases it.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
