package planner

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/movieforge/internal/blueprint"
	"github.com/jmylchreest/movieforge/internal/eventlog"
	"github.com/jmylchreest/movieforge/internal/hashing"
	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/storage"
	"github.com/jmylchreest/movieforge/internal/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func newTestDeps() Deps {
	storeCtx := storage.New(memstore.New(), "")
	return Deps{
		Storage:  storeCtx,
		Manifest: manifest.New(storeCtx),
		Events:   eventlog.New(storeCtx),
		Clock:    fixedClock,
	}
}

// oneProducerBlueprint: Input:.Prompt -> Gen(prompt) -> Artifact:Gen.Out
func oneProducerBlueprint() *blueprint.Blueprint {
	return &blueprint.Blueprint{
		Inputs: map[string]blueprint.InputSpec{
			"Input:.Prompt": {CanonicalId: "Input:.Prompt"},
		},
		Producers: []blueprint.Producer{
			{
				Alias:       "Gen",
				Provider:    "test",
				Inputs:      []blueprint.Connection{{Port: "prompt", Source: "Input:.Prompt"}},
				OutputNames: []string{"Out"},
			},
		},
	}
}

// twoStageBlueprint: Input:.Prompt -> A -> Artifact:A.Out -> B -> Artifact:B.Out
func twoStageBlueprint() *blueprint.Blueprint {
	return &blueprint.Blueprint{
		Inputs: map[string]blueprint.InputSpec{
			"Input:.Prompt": {CanonicalId: "Input:.Prompt"},
		},
		Producers: []blueprint.Producer{
			{
				Alias:       "A",
				Provider:    "test",
				Inputs:      []blueprint.Connection{{Port: "prompt", Source: "Input:.Prompt"}},
				OutputNames: []string{"Out"},
			},
			{
				Alias:       "B",
				Provider:    "test",
				Inputs:      []blueprint.Connection{{Port: "in", Source: "Artifact:A.Out"}},
				OutputNames: []string{"Out"},
			},
		},
	}
}

func countJobs(plan *Plan) int {
	n := 0
	for _, l := range plan.Layers {
		n += len(l)
	}
	return n
}

func TestPlan_FirstRun_AllJobsInitial(t *testing.T) {
	deps := newTestDeps()
	plan, expl, err := Plan(context.Background(), deps, "movie-1", oneProducerBlueprint(),
		map[string]any{"Input:.Prompt": "hello"}, Options{UpToLayer: -1})
	require.NoError(t, err)

	require.Equal(t, 1, countJobs(plan))
	require.Len(t, plan.Layers, 1)
	assert.Equal(t, "Producer:Gen", plan.Layers[0][0].JobId)
	assert.Equal(t, ReasonInitial, expl.JobReasons["Producer:Gen"])
	assert.Nil(t, plan.ManifestBaseHash)
}

func TestPlan_NoopSecondRun_NoChanges(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	bp := oneProducerBlueprint()
	inputs := map[string]any{"Input:.Prompt": "hello"}

	plan, _, err := Plan(ctx, deps, "movie-1", bp, inputs, Options{UpToLayer: -1})
	require.NoError(t, err)
	require.Equal(t, 1, countJobs(plan))

	simulateSuccess(t, ctx, deps, "movie-1", plan.Layers[0][0])

	plan2, expl2, err := Plan(ctx, deps, "movie-1", bp, inputs, Options{UpToLayer: -1})
	require.NoError(t, err)
	assert.Equal(t, 0, countJobs(plan2))
	assert.Empty(t, expl2.InitialDirtyJobs)
}

func TestPlan_InputChange_MarksDirtyWithReason(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	bp := oneProducerBlueprint()

	plan, _, err := Plan(ctx, deps, "movie-1", bp, map[string]any{"Input:.Prompt": "hello"}, Options{UpToLayer: -1})
	require.NoError(t, err)
	simulateSuccess(t, ctx, deps, "movie-1", plan.Layers[0][0])

	plan2, expl2, err := Plan(ctx, deps, "movie-1", bp, map[string]any{"Input:.Prompt": "goodbye"}, Options{UpToLayer: -1})
	require.NoError(t, err)
	require.Equal(t, 1, countJobs(plan2))
	assert.Equal(t, ReasonTouchesDirtyInput, expl2.JobReasons["Producer:Gen"])
	assert.Equal(t, []string{"Input:.Prompt"}, expl2.DirtyInputs)
}

func TestPlan_LayerCap_ExcludesLaterLayers(t *testing.T) {
	deps := newTestDeps()
	plan, _, err := Plan(context.Background(), deps, "movie-1", twoStageBlueprint(),
		map[string]any{"Input:.Prompt": "hello"}, Options{UpToLayer: 0})
	require.NoError(t, err)

	require.Equal(t, 1, countJobs(plan))
	assert.Equal(t, "Producer:A", plan.Layers[0][0].JobId)
}

func TestPlan_SurgicalMode_RestrictsToAncestorClosure(t *testing.T) {
	bp := &blueprint.Blueprint{
		Inputs: map[string]blueprint.InputSpec{"Input:.Prompt": {CanonicalId: "Input:.Prompt"}},
		Producers: []blueprint.Producer{
			{Alias: "A", Provider: "test", Inputs: []blueprint.Connection{{Port: "p", Source: "Input:.Prompt"}}, OutputNames: []string{"Out"}},
			{Alias: "C", Provider: "test", Inputs: []blueprint.Connection{{Port: "p", Source: "Input:.Prompt"}}, OutputNames: []string{"Out"}},
		},
	}
	deps := newTestDeps()
	plan, expl, err := Plan(context.Background(), deps, "movie-1", bp,
		map[string]any{"Input:.Prompt": "hello"},
		Options{UpToLayer: -1, ArtifactIds: []string{"Artifact:A.Out"}})
	require.NoError(t, err)

	require.Equal(t, 1, countJobs(plan))
	assert.Equal(t, "Producer:A", plan.Layers[0][0].JobId)
	assert.Equal(t, []string{"Artifact:A.Out"}, expl.SurgicalTargets)
}

func TestPlan_LoopedProducer_ExpandsPerCount(t *testing.T) {
	bp := &blueprint.Blueprint{
		Inputs: map[string]blueprint.InputSpec{
			"Input:.Count":  {CanonicalId: "Input:.Count"},
			"Input:.Prompt": {CanonicalId: "Input:.Prompt"},
		},
		Producers: []blueprint.Producer{
			{
				Alias:       "Gen",
				Provider:    "test",
				Inputs:      []blueprint.Connection{{Port: "p", Source: "Input:.Prompt[i]"}},
				OutputNames: []string{"Out"},
				LoopSymbol:  "i",
				CountSource: "Input:.Count",
			},
		},
	}
	deps := newTestDeps()
	plan, _, err := Plan(context.Background(), deps, "movie-1", bp,
		map[string]any{"Input:.Count": 3, "Input:.Prompt[i]": "x"}, Options{UpToLayer: -1})
	require.NoError(t, err)
	require.Equal(t, 3, countJobs(plan))
	assert.Equal(t, "Producer:Gen[0]", plan.Layers[0][0].JobId)
	assert.Equal(t, "Producer:Gen[1]", plan.Layers[0][1].JobId)
	assert.Equal(t, "Producer:Gen[2]", plan.Layers[0][2].JobId)
}

func TestPlan_PendingArtefactDraft_SkipsProducingJobButBumpsManifest(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	bp := oneProducerBlueprint()

	plan, _, err := Plan(ctx, deps, "movie-1", bp,
		map[string]any{"Input:.Prompt": "hello"},
		Options{UpToLayer: -1, PendingArtefactDrafts: map[string]DraftArtefact{
			"Artifact:Gen.Out": {Value: "overridden"},
		}})
	require.NoError(t, err)
	assert.Equal(t, 0, countJobs(plan))

	m, _, err := deps.Manifest.Load(ctx, "movie-1")
	require.NoError(t, err)
	assert.Equal(t, "overridden", m.Artefacts["Artifact:Gen.Out"].Value)
	assert.Equal(t, "user-override", m.Artefacts["Artifact:Gen.Out"].ProducedBy)
}

// simulateSuccess mimics what the execution runtime would do after running
// job: append a succeeded artefact event per produced ID with the matching
// inputsHash, and materialize the manifest.
func simulateSuccess(t *testing.T, ctx context.Context, deps Deps, movieId string, job Job) {
	t.Helper()
	base, _, err := deps.Manifest.Load(ctx, movieId)
	require.NoError(t, err)

	r := &resolver{base: base, dirtyInputs: map[string]any{}, dirtyInputHash: map[string]string{}, draftArtefacts: map[string]DraftArtefact{}, draftOutputHash: map[string]string{}}
	for id, in := range base.Inputs {
		r.dirtyInputs[id] = in.Value
		r.dirtyInputHash[id] = in.Hash
	}
	inputsHash, err := jobInputsHash(job, r)
	require.NoError(t, err)

	var events []eventlog.ArtefactEvent
	for _, pid := range job.Produces {
		outputHash, err := hashing.ArtefactOutputHash("result")
		require.NoError(t, err)
		ev := eventlog.ArtefactEvent{
			Kind: eventlog.KindArtefact, ArtefactId: pid, Status: eventlog.StatusSucceeded,
			Value: "result", OutputHash: outputHash, InputsHash: inputsHash,
			ProducedBy: job.Producer, Timestamp: "2026-01-01T00:00:00Z",
		}
		require.NoError(t, deps.Events.AppendArtefact(ctx, movieId, ev))
		events = append(events, ev)
	}
	_, _, err = deps.Manifest.BuildNext(ctx, movieId, base, nil, events)
	require.NoError(t, err)
}
