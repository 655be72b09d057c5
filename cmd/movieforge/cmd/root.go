// Package cmd implements the CLI commands for movieforge.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/movieforge/internal/config"
	"github.com/jmylchreest/movieforge/internal/observability"
	"github.com/jmylchreest/movieforge/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "movieforge",
	Short:   "Content-addressed incremental build engine for generative-media pipelines",
	Version: version.Short(),
	Long: `movieforge plans and executes the minimal set of producer jobs needed to
bring a blueprint's artifacts up to date: it compares declared inputs and a
blueprint's producer graph against the prior build manifest, runs only the
stale producers with bounded concurrency, and persists every artifact by
content hash so later invocations reuse prior work.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.movieforge.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")

	// Bind flags to viper
	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Set default configuration values before reading config file
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".movieforge" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/movieforge")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".movieforge")
	}

	// Environment variables
	viper.SetEnvPrefix("MOVIEFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// The S3-compatible backend reads its settings from bare, unprefixed
	// environment variables per the shared cloud-storage convention.
	_ = viper.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	_ = viper.BindEnv("storage.s3.bucket", "S3_BUCKET")
	_ = viper.BindEnv("storage.s3.region", "S3_REGION")

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the process-wide slog default logger from the
// resolved configuration before any subcommand body runs.
func initLogging() error {
	var cfg config.LoggingConfig
	if err := viper.UnmarshalKey("logging", &cfg); err != nil {
		return fmt.Errorf("unmarshaling logging config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	observability.SetDefault(logger)
	return nil
}

// loadConfig loads and validates the full application configuration for
// subcommands that need more than logging (storage, database, planner,
// recovery).
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding fails.
// This helper ensures lint-compliant error handling for viper.BindPFlag.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
