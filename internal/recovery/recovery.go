// Package recovery implements the pre-pass that runs before planning: it
// scans the artifact event log for outcomes the runtime marked
// failed-but-recoverable, probes the provider that reported them, and
// promotes any that have since completed externally to a succeeded event
// without re-invoking a handler. It never touches artifacts whose latest
// status is already succeeded, or whose failure carried no
// providerRequestId to probe.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/movieforge/internal/blobstore"
	"github.com/jmylchreest/movieforge/internal/eventlog"
	"github.com/jmylchreest/movieforge/internal/hashing"
)

// ProbeStatus is what a Prober reports back for one externally-running job.
type ProbeStatus string

const (
	ProbeCompleted  ProbeStatus = "completed"
	ProbeInProgress ProbeStatus = "in_progress"
	ProbeInQueue    ProbeStatus = "in_queue"
	ProbeFailed     ProbeStatus = "failed"
	ProbeUnknown    ProbeStatus = "unknown"
)

// ProbeResult is a Prober's answer for one providerRequestId.
type ProbeResult struct {
	Status     ProbeStatus
	OutputURLs []string
}

// Prober checks on one previously-reported job with the provider that
// produced it. The core never interprets providerRequestId; it is opaque
// to everything except the provider it came from.
type Prober func(ctx context.Context, provider, requestId string) (ProbeResult, error)

// Fetcher downloads one completed output's bytes from a URL a Prober
// reported.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// Deps bundles the pre-pass's collaborators. Blobs is a factory rather
// than a fixed store because one Deps value is shared across every
// movie a sweeper visits.
type Deps struct {
	Events *eventlog.Log
	Blobs  func(movieId string) *blobstore.Store
	Probe  Prober
	Fetch  Fetcher
	Clock  func() time.Time
	Logger *slog.Logger
}

// Outcome records what the pre-pass did for one artifact it examined.
type Outcome struct {
	ArtefactId string
	Provider   string
	Status     ProbeStatus
	Promoted   bool
}

// Run scans movieId's artifact event stream for every artifact whose
// latest status is failed, whose diagnostics flag recoverable, and which
// carries a providerRequestId; probes each one; and appends a succeeded
// event (carrying forward the original inputsHash) for every one the
// probe reports completed. It adds zero events when no failed-recoverable
// artifacts exist, and is safe to call repeatedly: once an artifact is
// promoted its latest status is succeeded, so later calls skip it.
func Run(ctx context.Context, deps Deps, movieId string) ([]Outcome, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	candidates, err := recoverableFailures(ctx, deps.Events, movieId)
	if err != nil {
		return nil, fmt.Errorf("recovery: scanning %s: %w", movieId, err)
	}

	var outcomes []Outcome
	for _, failed := range candidates {
		outcome, err := probeAndPromote(ctx, deps, movieId, failed, clock, logger)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// recoverableFailures replays movieId's artifact stream, keeping the last
// event per artifactId, and returns those whose latest status is
// failed&recoverable with a providerRequestId to probe.
func recoverableFailures(ctx context.Context, events *eventlog.Log, movieId string) ([]eventlog.ArtefactEvent, error) {
	latest := make(map[string]eventlog.ArtefactEvent)
	for ev, err := range events.StreamArtefacts(ctx, movieId) {
		if err != nil {
			return nil, err
		}
		latest[ev.ArtefactId] = ev
	}

	var out []eventlog.ArtefactEvent
	for _, ev := range latest {
		if ev.Status != eventlog.StatusFailed {
			continue
		}
		if ev.Diagnostics == nil || !ev.Diagnostics.Recoverable || ev.Diagnostics.ProviderRequestId == "" {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func probeAndPromote(ctx context.Context, deps Deps, movieId string, failed eventlog.ArtefactEvent, clock func() time.Time, logger *slog.Logger) (Outcome, error) {
	provider := failed.Diagnostics.Provider
	requestId := failed.Diagnostics.ProviderRequestId

	result, err := deps.Probe(ctx, provider, requestId)
	if err != nil {
		return Outcome{}, fmt.Errorf("recovery: probing %s (provider=%s requestId=%s): %w", failed.ArtefactId, provider, requestId, err)
	}

	outcome := Outcome{ArtefactId: failed.ArtefactId, Provider: provider, Status: result.Status}
	if result.Status != ProbeCompleted {
		logger.InfoContext(ctx, "recovery: artifact still pending",
			slog.String("artefactId", failed.ArtefactId), slog.String("status", string(result.Status)))
		return outcome, nil
	}

	if len(result.OutputURLs) == 0 {
		return Outcome{}, fmt.Errorf("recovery: %s: completed probe for artifact %s returned no output URLs", provider, failed.ArtefactId)
	}

	data, err := deps.Fetch(ctx, result.OutputURLs[0])
	if err != nil {
		return Outcome{}, fmt.Errorf("recovery: fetching output for %s: %w", failed.ArtefactId, err)
	}

	blobRef, err := deps.Blobs(movieId).Persist(ctx, data, "application/octet-stream")
	if err != nil {
		return Outcome{}, fmt.Errorf("recovery: persisting recovered output for %s: %w", failed.ArtefactId, err)
	}

	outputHash, err := hashing.ArtefactOutputHash(&blobRef)
	if err != nil {
		return Outcome{}, fmt.Errorf("recovery: hashing recovered output for %s: %w", failed.ArtefactId, err)
	}

	succeeded := eventlog.ArtefactEvent{
		ArtefactId: failed.ArtefactId,
		Status:     eventlog.StatusSucceeded,
		Blob:       &blobRef,
		OutputHash: outputHash,
		InputsHash: failed.InputsHash,
		ProducedBy: failed.ProducedBy,
		Timestamp:  clock().Format(time.RFC3339),
	}
	if err := deps.Events.AppendArtefact(ctx, movieId, succeeded); err != nil {
		return Outcome{}, fmt.Errorf("recovery: appending succeeded event for %s: %w", failed.ArtefactId, err)
	}

	logger.InfoContext(ctx, "recovery: promoted artifact to succeeded",
		slog.String("artefactId", failed.ArtefactId), slog.String("provider", provider))
	outcome.Promoted = true
	return outcome, nil
}
