package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gregtusar/zerodte/api"
	"github.com/gregtusar/zerodte/pkg/models"
	"github.com/gregtusar/zerodte/pkg/recovery"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "zerodte",
		Short:         "0DTE options contract selection and order execution",
		Long:          `Selects liquid same-day and short-dated option contracts per underlying, places orders with limit fallback and tracks fills, retrying transient brokerage failures with exponential backoff.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		selectCmd(),
		tradeCmd(),
		batchCmd(),
		statsCmd(),
		cooldownsCmd(),
		serveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the app for one command invocation and closes it after.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cfgFile, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.WithError(cerr).Warn("Failed to close resources")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func selectCmd() *cobra.Command {
	var side string
	cmd := &cobra.Command{
		Use:   "select SYMBOL",
		Short: "Resolve the expiry policy and select a contract without ordering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			class, err := models.ParseOptionClass(side)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				sel, err := a.Selector()
				if err != nil {
					return err
				}
				b, _ := a.Broker()
				cal, _ := a.Calendar()
				underlying := strings.ToUpper(args[0])

				policy := cal.ResolvePolicy(underlying, b.Now())
				out := map[string]interface{}{
					"underlying": underlying,
					"policy":     policy.String(),
				}
				if policy.Tradeable() {
					out["trading_days_remaining"] = cal.TradingTimeRemaining(policy.Expiry, b.Now())
					selection, err := sel.FindContract(ctx, underlying, class, policy)
					if err != nil {
						return err
					}
					out["contract"] = selection.Contract
					if !selection.Found() {
						out["reason"] = selection.Reason()
					}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&side, "side", "call", "option side (call|put)")
	return cmd
}

func tradeCmd() *cobra.Command {
	var (
		side   string
		qty    int64
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "trade SYMBOL",
		Short: "Run the full decision pipeline for one underlying",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			class, err := models.ParseOptionClass(side)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				t, err := a.Trader(dryRun)
				if err != nil {
					return err
				}
				if qty <= 0 {
					qty = a.cfg.Trading.Qty
				}
				rec, err := t.Run(ctx, args[0], class, qty)
				if perr := printJSON(cmd.OutOrStdout(), rec); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&side, "side", "call", "option side (call|put)")
	cmd.Flags().Int64Var(&qty, "qty", 0, "contracts to buy (default trading.qty)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "select but do not place orders")
	return cmd
}

func batchCmd() *cobra.Command {
	var (
		side   string
		qty    int64
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "batch [SYMBOL...]",
		Short: "Run the pipeline for several underlyings concurrently",
		RunE: func(cmd *cobra.Command, args []string) error {
			class, err := models.ParseOptionClass(side)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				symbols := args
				if len(symbols) == 0 {
					symbols = a.cfg.Trading.Underlyings
				}
				if len(symbols) == 0 {
					return fmt.Errorf("no underlyings given and trading.underlyings is empty")
				}
				t, err := a.Trader(dryRun)
				if err != nil {
					return err
				}
				if qty <= 0 {
					qty = a.cfg.Trading.Qty
				}
				return printJSON(cmd.OutOrStdout(), t.RunBatch(ctx, symbols, class, qty))
			})
		},
	}
	cmd.Flags().StringVar(&side, "side", "call", "option side (call|put)")
	cmd.Flags().Int64Var(&qty, "qty", 0, "contracts to buy per underlying (default trading.qty)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "select but do not place orders")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the recovery attempt log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				attempts, err := recovery.ReadLogFile(a.cfg.Recovery.Log.Path)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), recovery.Summarize(attempts, time.Now()))
			})
		},
	}
}

func cooldownsCmd() *cobra.Command {
	var toClear []string
	cmd := &cobra.Command{
		Use:   "cooldowns",
		Short: "List active cooldowns, or clear some with --clear",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.Store()
				if err != nil {
					return err
				}
				for _, u := range toClear {
					if err := st.ClearCooldown(u); err != nil {
						return err
					}
					a.logger.WithField("underlying", strings.ToUpper(u)).Info("Cleared cooldown")
				}
				active, err := st.Cooldowns(time.Now())
				if err != nil {
					return err
				}
				if active == nil {
					active = []models.Cooldown{}
				}
				return printJSON(cmd.OutOrStdout(), active)
			})
		},
	}
	cmd.Flags().StringSliceVar(&toClear, "clear", nil, "underlyings whose cooldown to remove")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops API (health, recovery stats, cooldowns, trades, metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				rec, err := a.Recovery()
				if err != nil {
					return err
				}
				st, err := a.Store()
				if err != nil {
					return err
				}
				if port == 0 {
					port = a.cfg.Server.Port
				}
				if a.cfg.Server.JWTSecret == "" {
					a.logger.Warn("server.jwt_secret is empty; API auth disabled")
				}
				srv := api.NewServer(rec, st, a.logger, strconv.Itoa(port), a.cfg.Server.JWTSecret)
				return srv.Start(ctx)
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}
