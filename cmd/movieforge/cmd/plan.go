package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/movieforge/internal/blueprint"
	"github.com/jmylchreest/movieforge/internal/planner"
)

var (
	planBlueprintPath string
	planInputsPath    string
	planArtifactIds   []string
	planUpToLayer     int
)

var planCmd = &cobra.Command{
	Use:   "plan <movieId>",
	Short: "Compute the incremental job plan for a movie",
	Long: `Loads the blueprint and resolved inputs, records any changed
inputs as events, and prints the layered job plan that execute would run —
without invoking any handler.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planBlueprintPath, "blueprint", "", "path to the blueprint JSON file (required)")
	planCmd.Flags().StringVar(&planInputsPath, "inputs", "", "path to the resolved-inputs JSON file (required)")
	planCmd.Flags().StringSliceVar(&planArtifactIds, "target", nil, "restrict planning to the ancestor closure of these artifact IDs")
	planCmd.Flags().IntVar(&planUpToLayer, "up-to-layer", -1, "cap planning to this blueprint layer index (-1 = unbounded)")
	_ = planCmd.MarkFlagRequired("blueprint")
	_ = planCmd.MarkFlagRequired("inputs")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := buildServices(ctx, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	bp, err := blueprint.LoadFile(planBlueprintPath)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	inputs, err := blueprint.LoadInputsFile(planInputsPath)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	movieId := args[0]
	deps := planner.Deps{
		Storage:  svc.Storage,
		Manifest: svc.Manifest,
		Events:   svc.Events,
		Clock:    svc.Clock,
	}
	opts := planner.Options{
		ArtifactIds: planArtifactIds,
		UpToLayer:   planUpToLayer,
	}
	if opts.UpToLayer == -1 {
		opts.UpToLayer = svc.Config.Planner.DefaultUpToLayer
	}

	plan, expl, err := planner.Plan(ctx, deps, movieId, bp, inputs, opts)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	out, err := json.MarshalIndent(struct {
		Plan        *planner.Plan        `json:"plan"`
		Explanation *planner.Explanation `json:"explanation"`
	}{plan, expl}, "", "  ")
	if err != nil {
		return fmt.Errorf("plan: encoding output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
