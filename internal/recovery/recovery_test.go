package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/movieforge/internal/blobstore"
	"github.com/jmylchreest/movieforge/internal/eventlog"
	"github.com/jmylchreest/movieforge/internal/hashing"
	"github.com/jmylchreest/movieforge/internal/storage"
	"github.com/jmylchreest/movieforge/internal/storage/memstore"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newTestDeps(probe Prober, fetch Fetcher) (Deps, *eventlog.Log) {
	storeCtx := storage.New(memstore.New(), "")
	events := eventlog.New(storeCtx)
	return Deps{
		Events: events,
		Blobs:  func(movieId string) *blobstore.Store { return blobstore.New(storeCtx, movieId) },
		Probe:  probe,
		Fetch:  fetch,
		Clock:  fixedClock,
	}, events
}

func appendFailed(t *testing.T, events *eventlog.Log, movieId string) {
	t.Helper()
	require.NoError(t, events.AppendArtefact(context.Background(), movieId, eventlog.ArtefactEvent{
		ArtefactId: "Artifact:Gen.Out",
		Status:     eventlog.StatusFailed,
		InputsHash: "inputs-hash-1",
		ProducedBy: "Gen",
		Diagnostics: &eventlog.Diagnostics{
			Provider:          "acme",
			ProviderRequestId: "req-1",
			Recoverable:       true,
		},
	}))
}

func TestRun_PromotesCompletedArtifact(t *testing.T) {
	deps, events := newTestDeps(
		func(ctx context.Context, provider, requestId string) (ProbeResult, error) {
			assert.Equal(t, "acme", provider)
			assert.Equal(t, "req-1", requestId)
			return ProbeResult{Status: ProbeCompleted, OutputURLs: []string{"https://example.invalid/out"}}, nil
		},
		func(ctx context.Context, url string) ([]byte, error) { return []byte("xyz"), nil },
	)
	appendFailed(t, events, "movie-1")

	outcomes, err := Run(context.Background(), deps, "movie-1")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Promoted)
	assert.Equal(t, ProbeCompleted, outcomes[0].Status)

	var latest eventlog.ArtefactEvent
	for ev, err := range events.StreamArtefacts(context.Background(), "movie-1") {
		require.NoError(t, err)
		latest = ev
	}
	assert.Equal(t, eventlog.StatusSucceeded, latest.Status)
	assert.Equal(t, "inputs-hash-1", latest.InputsHash)
	require.NotNil(t, latest.Blob)

	expectedHash, err := hashing.ArtefactOutputHash(latest.Blob)
	require.NoError(t, err)
	assert.Equal(t, expectedHash, latest.OutputHash)
}

func TestRun_LeavesInProgressUntouched(t *testing.T) {
	deps, events := newTestDeps(
		func(ctx context.Context, provider, requestId string) (ProbeResult, error) {
			return ProbeResult{Status: ProbeInProgress}, nil
		},
		func(ctx context.Context, url string) ([]byte, error) { t.Fatal("fetch should not be called"); return nil, nil },
	)
	appendFailed(t, events, "movie-2")

	outcomes, err := Run(context.Background(), deps, "movie-2")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Promoted)
	assert.Equal(t, ProbeInProgress, outcomes[0].Status)
}

func TestRun_IsIdempotentOnceSucceeded(t *testing.T) {
	calls := 0
	deps, events := newTestDeps(
		func(ctx context.Context, provider, requestId string) (ProbeResult, error) {
			calls++
			return ProbeResult{Status: ProbeCompleted, OutputURLs: []string{"https://example.invalid/out"}}, nil
		},
		func(ctx context.Context, url string) ([]byte, error) { return []byte("xyz"), nil },
	)
	appendFailed(t, events, "movie-3")

	_, err := Run(context.Background(), deps, "movie-3")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	outcomes, err := Run(context.Background(), deps, "movie-3")
	require.NoError(t, err)
	assert.Empty(t, outcomes, "a succeeded artifact is no longer a candidate")
	assert.Equal(t, 1, calls, "probe must not be called again")
}

func TestRun_NoCandidatesAddsZeroEvents(t *testing.T) {
	deps, events := newTestDeps(
		func(ctx context.Context, provider, requestId string) (ProbeResult, error) {
			t.Fatal("probe should not be called")
			return ProbeResult{}, nil
		},
		func(ctx context.Context, url string) ([]byte, error) { return nil, nil },
	)

	outcomes, err := Run(context.Background(), deps, "movie-empty")
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	var count int
	for ev, err := range events.StreamArtefacts(context.Background(), "movie-empty") {
		require.NoError(t, err)
		_ = ev
		count++
	}
	assert.Equal(t, 0, count)
}

func TestRun_IgnoresNonRecoverableFailures(t *testing.T) {
	deps, events := newTestDeps(
		func(ctx context.Context, provider, requestId string) (ProbeResult, error) {
			t.Fatal("probe should not be called for a non-recoverable failure")
			return ProbeResult{}, nil
		},
		func(ctx context.Context, url string) ([]byte, error) { return nil, nil },
	)
	require.NoError(t, events.AppendArtefact(context.Background(), "movie-4", eventlog.ArtefactEvent{
		ArtefactId:  "Artifact:Gen.Out",
		Status:      eventlog.StatusFailed,
		Diagnostics: &eventlog.Diagnostics{Provider: "acme", Recoverable: false},
	}))

	outcomes, err := Run(context.Background(), deps, "movie-4")
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
