package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/movieforge/internal/movie"
)

var initDisplayName string

var initCmd = &cobra.Command{
	Use:   "init <movieId>",
	Short: "Initialize a new movie build",
	Long: `Creates a movie's storage skeleton: a metadata.json record and an
explicit empty current.json manifest pointer. Fails if movieId is already
initialized.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known movies",
	Long: `Lists every initialized movie and its current revision, served from
the registry's cached index.`,
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <movieId>",
	Short: "Show one movie's metadata and current revision",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <movieId>",
	Short: "Delete a movie's entire build tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	initCmd.Flags().StringVar(&initDisplayName, "name", "", "human-readable display name")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := buildServices(ctx, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	movieId := args[0]
	meta, err := movie.Init(ctx, svc.Storage, svc.Manifest, movieId, initDisplayName, svc.Clock)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := svc.Registry.Upsert(ctx, movie.Summary{MovieId: movieId, Metadata: *meta}); err != nil {
		return fmt.Errorf("init: updating registry: %w", err)
	}

	fmt.Printf("initialized movie %s\n", movieId)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := buildServices(ctx, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	summaries, err := svc.Registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	out, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return fmt.Errorf("list: encoding output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := buildServices(ctx, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	summary, err := movie.Show(ctx, svc.Storage, svc.Manifest, args[0])
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("show: encoding output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := buildServices(ctx, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	movieId := args[0]
	if err := movie.Delete(ctx, svc.Storage, movieId); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err := svc.Registry.Delete(ctx, movieId); err != nil {
		return fmt.Errorf("delete: evicting registry entry: %w", err)
	}

	fmt.Printf("deleted movie %s\n", movieId)
	return nil
}
