package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// MovieLister returns every movieId the sweeper should probe on each tick.
// It is typically the movie registry's List, narrowed to movieIds.
type MovieLister func(ctx context.Context) ([]string, error)

// Sweeper runs the recovery pre-pass for every known movie on a cron
// schedule, so externally-running jobs get adopted without a caller
// invoking plan. It is optional: a deployment with no long-running
// external providers need not start one.
type Sweeper struct {
	deps    Deps
	movies  MovieLister
	logger  *slog.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewSweeper builds a Sweeper that fires on cronExpr (a robfig/cron
// expression, or an "@every 30s"-style descriptor). cronExpr must not be
// empty.
func NewSweeper(deps Deps, movies MovieLister, cronExpr string, logger *slog.Logger) (*Sweeper, error) {
	if cronExpr == "" {
		return nil, fmt.Errorf("recovery: sweeper cron expression must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{
		deps:   deps,
		movies: movies,
		logger: logger,
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
	if _, err := s.cron.AddFunc(cronExpr, s.sweep); err != nil {
		return nil, fmt.Errorf("recovery: parsing cron expression %q: %w", cronExpr, err)
	}
	return s, nil
}

// PollEveryExpr renders a poll interval as the "@every" descriptor
// robfig/cron accepts, for callers configuring the sweeper by interval
// rather than by cron expression.
func PollEveryExpr(d time.Duration) string {
	return fmt.Sprintf("@every %s", d.String())
}

// Start begins the sweeper's background schedule. It is idempotent.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("recovery sweeper started")
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("recovery sweeper stopped")
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	movieIds, err := s.movies(ctx)
	if err != nil {
		s.logger.Error("recovery sweeper: listing movies failed", slog.String("error", err.Error()))
		return
	}

	for _, movieId := range movieIds {
		outcomes, err := Run(ctx, s.deps, movieId)
		if err != nil {
			s.logger.Error("recovery sweeper: pre-pass failed",
				slog.String("movieId", movieId), slog.String("error", err.Error()))
			continue
		}
		promoted := 0
		for _, o := range outcomes {
			if o.Promoted {
				promoted++
			}
		}
		if promoted > 0 {
			s.logger.Info("recovery sweeper: promoted artifacts",
				slog.String("movieId", movieId), slog.Int("count", promoted))
		}
	}
}
