package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/movieforge/internal/blobstore"
	"github.com/jmylchreest/movieforge/internal/eventlog"
	"github.com/jmylchreest/movieforge/internal/handler"
	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/planner"
	"github.com/jmylchreest/movieforge/internal/storage"
	"github.com/jmylchreest/movieforge/internal/storage/memstore"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

type fakeHandler struct {
	invoke func(ctx context.Context, jc handler.JobContext) (handler.ProviderResult, error)
	calls  int
}

func (f *fakeHandler) Invoke(ctx context.Context, jc handler.JobContext) (handler.ProviderResult, error) {
	f.calls++
	return f.invoke(ctx, jc)
}

func newTestDeps(registry *handler.Registry) (Deps, *storage.Context) {
	storeCtx := storage.New(memstore.New(), "")
	return Deps{
		Storage:     storeCtx,
		Manifest:    manifest.New(storeCtx),
		Events:      eventlog.New(storeCtx),
		Handlers:    registry,
		Clock:       fixedClock,
		Concurrency: 2,
	}, storeCtx
}

func succeedingPlan() *planner.Plan {
	return &planner.Plan{
		Revision: "",
		Layers: [][]planner.Job{
			{
				{
					JobId:         "Gen#1",
					Producer:      "Gen",
					Provider:      "test",
					ProviderModel: "v1",
					Produces:      []string{"Artifact:Gen.Out"},
				},
			},
		},
	}
}

// Scenario A: a cold first run executes a one-job plan, landing
// at rev-0001 with its output readable back out of the blob store.
func TestExecute_ColdRunProducesFirstRevision(t *testing.T) {
	reg := handler.NewRegistry()
	reg.Register("test", "v1", &fakeHandler{
		invoke: func(_ context.Context, jc handler.JobContext) (handler.ProviderResult, error) {
			return handler.ProviderResult{
				Status: handler.StatusSucceeded,
				Artefacts: []handler.ArtefactResult{
					{ArtefactId: "Artifact:Gen.Out", Inline: []byte("hello")},
				},
			}, nil
		},
	})
	deps, storeCtx := newTestDeps(reg)

	result, err := Execute(context.Background(), deps, "movie-1", succeedingPlan())
	require.NoError(t, err)
	assert.Equal(t, "rev-0001", result.Revision)
	require.Len(t, result.Jobs, 1)
	assert.Equal(t, JobSucceeded, result.Jobs[0].Status)

	art, ok := result.Manifest.Artefacts["Artifact:Gen.Out"]
	require.True(t, ok)
	require.NotNil(t, art.Blob)

	blobs := blobstore.New(storeCtx, "movie-1")
	blobBytes, err := blobs.Read(context.Background(), *art.Blob)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(blobBytes))
}

// A failed producer blocks downstream jobs that consume its artifact: they
// are skipped and never invoke their handler.
func TestExecute_FailurePropagatesSkipToDownstream(t *testing.T) {
	reg := handler.NewRegistry()
	reg.Register("test", "v1", &fakeHandler{
		invoke: func(_ context.Context, jc handler.JobContext) (handler.ProviderResult, error) {
			return handler.ProviderResult{
				Status:      handler.StatusFailed,
				Diagnostics: &eventlog.Diagnostics{Recoverable: true, ProviderRequestId: "req-1"},
			}, nil
		},
	})
	downstream := &fakeHandler{invoke: func(_ context.Context, jc handler.JobContext) (handler.ProviderResult, error) {
		return handler.ProviderResult{Status: handler.StatusSucceeded}, nil
	}}
	reg.Register("test", "v2", downstream)

	deps, _ := newTestDeps(reg)

	plan := &planner.Plan{
		Layers: [][]planner.Job{
			{{JobId: "A#1", Producer: "A", Provider: "test", ProviderModel: "v1", Produces: []string{"Artifact:A.Out"}}},
			{{JobId: "B#1", Producer: "B", Provider: "test", ProviderModel: "v2", Inputs: []string{"Artifact:A.Out"}, Produces: []string{"Artifact:B.Out"}}},
		},
	}

	result, err := Execute(context.Background(), deps, "movie-2", plan)
	require.NoError(t, err)
	require.Len(t, result.Jobs, 2)

	byID := make(map[string]JobResult)
	for _, jr := range result.Jobs {
		byID[jr.JobId] = jr
	}
	assert.Equal(t, JobFailed, byID["A#1"].Status)
	assert.Equal(t, JobSkipped, byID["B#1"].Status)
	assert.Equal(t, 0, downstream.calls)

	art := result.Manifest.Artefacts["Artifact:A.Out"]
	assert.Equal(t, eventlog.StatusFailed, art.Status)
	require.NotNil(t, art.Diagnostics)
	assert.True(t, art.Diagnostics.Recoverable)
	assert.Equal(t, "req-1", art.Diagnostics.ProviderRequestId)

	_, produced := result.Manifest.Artefacts["Artifact:B.Out"]
	assert.False(t, produced)
}

// A handler invocation that outlives its deadline surfaces a recoverable
// failed event rather than hanging the run.
func TestExecute_HandlerTimeoutIsRecoverable(t *testing.T) {
	reg := handler.NewRegistry()
	reg.Register("test", "v1", &fakeHandler{
		invoke: func(ctx context.Context, jc handler.JobContext) (handler.ProviderResult, error) {
			<-ctx.Done()
			return handler.ProviderResult{}, ctx.Err()
		},
	})
	deps, _ := newTestDeps(reg)
	deps.HandlerDeadline = 10 * time.Millisecond

	result, err := Execute(context.Background(), deps, "movie-3", succeedingPlan())
	require.NoError(t, err)
	require.Len(t, result.Jobs, 1)
	assert.Equal(t, JobFailed, result.Jobs[0].Status)
	require.NotNil(t, result.Jobs[0].Diagnostics)
	assert.True(t, result.Jobs[0].Diagnostics.Recoverable)
	assert.Contains(t, result.Jobs[0].Diagnostics.Message, CodeHandlerTimeout)
}

// No handler registered for a job's (provider, model) pair fails that job
// with the stable handler-not-found code, without panicking the run.
func TestExecute_UnknownHandlerFailsJob(t *testing.T) {
	reg := handler.NewRegistry()
	deps, _ := newTestDeps(reg)

	result, err := Execute(context.Background(), deps, "movie-4", succeedingPlan())
	require.NoError(t, err)
	require.Len(t, result.Jobs, 1)
	assert.Equal(t, JobFailed, result.Jobs[0].Status)
	assert.Contains(t, result.Jobs[0].Diagnostics.Message, handler.CodeHandlerNotFound)
}
