package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/movieforge/internal/blobstore"
	"github.com/jmylchreest/movieforge/internal/movie"
	"github.com/jmylchreest/movieforge/internal/planner"
	"github.com/jmylchreest/movieforge/internal/runtime"
)

var (
	executeRevision    string
	executeConcurrency int
)

var executeCmd = &cobra.Command{
	Use:   "execute <movieId>",
	Short: "Run a previously computed plan",
	Long: `Loads the persisted plan for --revision and runs it layer by
layer, invoking registered handlers, persisting artefacts, and
materializing the next manifest revision.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&executeRevision, "revision", "", "revision whose persisted plan to execute (required, see plan's output)")
	executeCmd.Flags().IntVar(&executeConcurrency, "concurrency", 0, "parallel handler invocations per layer (0 = derive from CPU count)")
	_ = executeCmd.MarkFlagRequired("revision")
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := buildServices(ctx, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	movieId := args[0]
	plan, err := planner.LoadPlan(ctx, svc.Storage, movieId, executeRevision)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	concurrency := executeConcurrency
	if concurrency <= 0 {
		concurrency = svc.Config.Planner.DefaultConcurrency
	}

	deps := runtime.Deps{
		Storage:         svc.Storage,
		Manifest:        svc.Manifest,
		Events:          svc.Events,
		Handlers:        svc.Handlers,
		Clock:           svc.Clock,
		Concurrency:     concurrency,
		HandlerDeadline: svc.Config.Planner.HandlerDeadline,
		Logger:          svc.Logger,
	}
	if svc.Config.Storage.BlobCompression {
		deps.Compress = blobstore.BrotliCompressor(5)
	}

	start := svc.Clock()
	result, err := runtime.Execute(ctx, deps, movieId, plan)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	elapsed := svc.Clock().Sub(start)

	meta, err := movie.Load(ctx, svc.Storage, movieId)
	if err != nil {
		return fmt.Errorf("execute: loading metadata for registry update: %w", err)
	}
	summary := movie.Summary{MovieId: movieId, Metadata: *meta, Revision: result.Revision}
	if err := svc.Registry.Upsert(ctx, summary); err != nil {
		return fmt.Errorf("execute: updating registry: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("execute: encoding output: %w", err)
	}
	fmt.Println(string(out))
	fmt.Printf("executed revision %s in %s\n", result.Revision, elapsed.Round(time.Millisecond))
	return nil
}
