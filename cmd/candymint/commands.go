package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"candy-mint/internal/mint"
	"candy-mint/internal/observability"
	"candy-mint/internal/server"
	"candy-mint/internal/solana"
	"candy-mint/internal/wallet"
)

// errMintFailed is returned by the mint command when the attempt did not
// succeed; the outcome has already been printed.
var errMintFailed = errors.New("mint did not succeed")

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sale state, counters and wallet balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := a.refresh(ctx); err != nil {
					return err
				}
				return printStatus(a)
			})
		},
	}
}

func mintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint",
		Short: "Mint one NFT and wait for confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if err := a.refresh(ctx); err != nil {
					a.logger.Warn("initial refresh failed", zap.Error(err))
				}
				out, err := a.wf.AttemptMint(ctx, a.wallet, a.program)
				if err != nil {
					return err
				}
				if err := printOutcome(out); err != nil {
					return err
				}
				if !out.Success() {
					return errMintFailed
				}
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Track the sale live and serve the mint API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.cfg.HTTPAddr
				}
				if metricsAddr == "" {
					metricsAddr = a.cfg.MetricsAddr
				}
				return serve(ctx, a, addr, metricsAddr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (default from http_addr)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address (default from metrics_addr)")
	return cmd
}

func serve(ctx context.Context, a *app, addr, metricsAddr string) error {
	if err := a.refresh(ctx); err != nil {
		a.logger.Warn("initial refresh failed", zap.Error(err))
	}

	wsConfig := solana.DefaultWSConfig()
	wsConfig.Logger = a.logger
	wsConfig.OnReconnect = func() {
		observability.RecordWSReconnect()
		if err := a.syncer.Resync(ctx); err != nil {
			a.logger.Warn("resync after reconnect failed", zap.Error(err))
		}
	}
	ws, err := solana.NewWSClient(ctx, a.cfg.WSEndpoint, &wsConfig)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	servers := []*http.Server{{
		Addr: addr,
		Handler: server.New(server.Config{
			Workflow: a.wf,
			Wallet:   a.wallet,
			Program:  a.program,
			Logger:   a.logger,
		}),
	}}
	if metricsAddr != "" && metricsAddr != addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		servers = append(servers, &http.Server{Addr: metricsAddr, Handler: mux})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.syncer.Watch(gctx, ws)
	})
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			a.logger.Info("http server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http shutdown", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("shutdown complete")
		return nil
	}
	return err
}

func printStatus(a *app) error {
	status := a.model.Status()

	var balance *uint64
	var walletAddr string
	if wallet.Connected(a.wallet) {
		key := a.wallet.PublicKey()
		walletAddr = key.ToBase58()
		if lamports, ok := a.wf.Balance(key); ok {
			balance = &lamports
		}
	}

	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"candyMachine": a.program.CandyMachineID.ToBase58(),
			"state":        status.State,
			"known":        status.Known,
			"counters":     status.Counters,
			"remaining":    status.Counters.Remaining(),
			"goLiveAt":     status.GoLiveAt,
			"canMint":      a.model.CanMint(),
			"wallet":       walletAddr,
			"balance":      balance,
		})
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"Candy machine", wallet.ShortenAddress(a.program.CandyMachineID.ToBase58(), 4)})
	tw.AppendRow(table.Row{"State", status.State})
	tw.AppendRow(table.Row{"Items available", status.Counters.ItemsAvailable})
	tw.AppendRow(table.Row{"Items redeemed", status.Counters.ItemsRedeemed})
	tw.AppendRow(table.Row{"Remaining", status.Counters.Remaining()})
	tw.AppendRow(table.Row{"Go-live", formatTime(status.GoLiveAt)})
	if walletAddr != "" {
		tw.AppendRow(table.Row{"Wallet", wallet.ShortenAddress(walletAddr, 4)})
	}
	if balance != nil {
		tw.AppendRow(table.Row{"Balance", formatSOL(*balance)})
	}
	tw.Render()
	return nil
}

func printOutcome(out mint.Outcome) error {
	if viper.GetBool("json") {
		return printJSON(out)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Severity", "Message", "Kind", "Signature"})
	tw.AppendRow(table.Row{out.Severity, out.Message, out.Kind, out.Signature})
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatSOL(lamports uint64) string {
	return strconv.FormatFloat(float64(lamports)/solana.LamportsPerSOL, 'f', 4, 64) + " SOL"
}
