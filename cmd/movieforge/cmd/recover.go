package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/movieforge/internal/recovery"
	"github.com/jmylchreest/movieforge/internal/services"
)

var recoverWatch bool

var recoverCmd = &cobra.Command{
	Use:   "recover <movieId>",
	Short: "Probe and adopt externally-completed artifacts",
	Long: `Scans movieId's failed-but-recoverable artifacts, probes the
provider that reported each one, and promotes any that have since
completed to a succeeded event without re-invoking a handler. With
--watch, instead starts a background sweep over every known movie on the
configured schedule and blocks until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().BoolVar(&recoverWatch, "watch", false, "run as a background sweep over every known movie instead of a single pass")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := buildServices(ctx, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	probe, fetch := recovery.FromHandlers(svc.Handlers)
	deps := recovery.Deps{
		Events: svc.Events,
		Blobs:  svc.Blobs,
		Probe:  probe,
		Fetch:  fetch,
		Clock:  svc.Clock,
		Logger: svc.Logger,
	}

	if recoverWatch {
		return runRecoverWatch(svc, deps)
	}

	if len(args) != 1 {
		return fmt.Errorf("recover: a movieId is required unless --watch is set")
	}

	outcomes, err := recovery.Run(ctx, deps, args[0])
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	out, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("recover: encoding output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runRecoverWatch(svc *services.Services, deps recovery.Deps) error {
	cronExpr := svc.Config.Recovery.CronExpr
	if cronExpr == "" {
		cronExpr = recovery.PollEveryExpr(svc.Config.Recovery.PollEvery)
	}

	sweeper, err := recovery.NewSweeper(deps, svc.MovieIds, cronExpr, svc.Logger)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	sweeper.Start()
	defer sweeper.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	svc.Logger.Info("recovery sweeper running", slog.String("schedule", cronExpr))
	sig := <-sigCh
	svc.Logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	return nil
}
