package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/movieforge/internal/config"
	"github.com/jmylchreest/movieforge/pkg/bytesize"
	"github.com/jmylchreest/movieforge/pkg/duration"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing movieforge configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  movieforge config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, .movieforge.yaml, /etc/movieforge/config.yaml)
  - Environment variables (MOVIEFORGE_STORAGE_BASE_DIR, MOVIEFORGE_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the MOVIEFORGE_ prefix and underscores for nesting.
Example: storage.base_dir -> MOVIEFORGE_STORAGE_BASE_DIR`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		// Get mapstructure tag, then yaml tag, else the field name as declared
		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		// Handle different types
		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = duration.Format(v)
		case int64:
			// Check if this looks like a byte size (field name contains "size")
			if contains(key, "size", "bytes") {
				result[key] = bytesize.Format(bytesize.Size(v))
			} else {
				result[key] = v
			}
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func contains(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) {
			for i := 0; i <= len(s)-len(sub); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// Load config with defaults (no file, just defaults)
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Convert to map with human-readable values
	cfgMap := toMap(cfg)

	// Marshal to YAML
	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Print header with documentation
	fmt.Println("# movieforge Configuration File")
	fmt.Println("# =============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   MOVIEFORGE_STORAGE_DRIVER, MOVIEFORGE_STORAGE_BASE_DIR")
	fmt.Println("#   MOVIEFORGE_DATABASE_DRIVER, MOVIEFORGE_DATABASE_DSN")
	fmt.Println("#   MOVIEFORGE_PLANNER_DEFAULT_CONCURRENCY")
	fmt.Println("#   MOVIEFORGE_LOGGING_LEVEL, MOVIEFORGE_LOGGING_FORMAT")
	fmt.Println("#   S3_ENDPOINT, S3_BUCKET, S3_REGION (no prefix, shared convention)")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
