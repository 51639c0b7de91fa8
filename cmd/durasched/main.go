package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"durasched/internal/app"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	cfgPath    string
	adminAddr  string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "durasched",
	Short: "Durable deferred-action scheduler",
	Long: `durasched runs named handlers once, after a delay or at a given time.
Jobs are persisted and survive restarts and store outages.

Commands:
  run     - Run the scheduler daemon
  add     - Schedule a job on the running daemon
  get     - Show one job
  list    - List jobs ordered by due time
  remove  - Remove a job
  clean   - Remove every job in the namespace
  status  - Show connection state and armed timers

Examples:
  durasched run --config /etc/durasched.yaml
  durasched add --handler log.message --args '{"text":"hello"}' --delay 10m
  durasched list`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler daemon",
	Long: `Connect to the configured store, restore the namespace and fire jobs
as they come due. SIGINT/SIGTERM disconnect gracefully: timers are cancelled
and records are kept for the next start.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./durasched.yaml", "path to config (json or yaml)")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "", "admin API address (overrides admin.addr)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(addCmd, getCmd, listCmd, removeCmd, cleanCmd, statusCmd)
}

func runDaemon(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	stop := func(reason app.StopReason) {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = a.Stop(sctx, reason)
	}

	if err := a.Start(ctx); err != nil {
		if ctx.Err() != nil {
			stop(app.StopSignal)
			return nil
		}
		stop(app.StopStartFailed)
		return err
	}

	select {
	case <-ctx.Done():
		stop(app.StopSignal)
		return nil
	case <-a.Done():
		err := a.Err()
		stop(app.StopFatalError)
		return err
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(err.Error())
		if hint := strings.TrimSpace(errors.FlattenHints(err)); hint != "" {
			pterm.Info.Println(hint)
		}
		os.Exit(1)
	}
}
