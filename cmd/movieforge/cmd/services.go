package cmd

import (
	"context"
	"fmt"

	"github.com/jmylchreest/movieforge/internal/observability"
	"github.com/jmylchreest/movieforge/internal/services"
)

// buildServices loads configuration and assembles the Services bundle a
// subcommand needs. skipRegistry avoids opening the registry database for
// commands that never list or look up movies by it.
func buildServices(ctx context.Context, skipRegistry bool) (*services.Services, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := observability.LoggerFromContext(ctx)
	return services.New(ctx, cfg, logger, skipRegistry)
}
