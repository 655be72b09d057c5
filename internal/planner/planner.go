package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmylchreest/movieforge/internal/blueprint"
	"github.com/jmylchreest/movieforge/internal/eventlog"
	"github.com/jmylchreest/movieforge/internal/hashing"
	"github.com/jmylchreest/movieforge/internal/ident"
	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/storage"
)

// Deps bundles the collaborators a planning pass needs. It is built once
// per movie by the caller (CLI command or runtime) and threaded through
// rather than reached for as package-level state.
type Deps struct {
	Storage  *storage.Context
	Manifest *manifest.Service
	Events   *eventlog.Log
	Clock    func() time.Time
}

const runsDir = "runs"

// Plan runs one incremental planning pass: it records any
// changed inputs and pending artefact drafts as events, expands the
// blueprint into concrete job instances, classifies and propagates
// dirtiness, applies surgical/layer-cap scoping, and persists both the
// resulting layered Plan and (if anything changed) the next manifest
// revision.
func Plan(ctx context.Context, deps Deps, movieId string, bp *blueprint.Blueprint, resolvedInputs map[string]any, opts Options) (*Plan, *Explanation, error) {
	base, pointer, err := deps.Manifest.Load(ctx, movieId)
	if err != nil {
		return nil, nil, fmt.Errorf("planner: loading manifest: %w", err)
	}

	now := deps.Clock().Format(time.RFC3339)

	r := &resolver{
		base:            base,
		dirtyInputs:     map[string]any{},
		dirtyInputHash:  map[string]string{},
		draftArtefacts:  opts.PendingArtefactDrafts,
		draftOutputHash: map[string]string{},
	}

	dirtyInputIds := map[string]bool{}
	var newInputEvents []eventlog.InputEvent
	for id, val := range resolvedInputs {
		hash, err := hashing.InputValueHash(val)
		if err != nil {
			return nil, nil, fmt.Errorf("planner: hashing input %s: %w", id, err)
		}
		r.dirtyInputs[id] = val
		r.dirtyInputHash[id] = hash
		if prior, ok := base.InputHash(id); !ok || prior != hash {
			dirtyInputIds[id] = true
			newInputEvents = append(newInputEvents, eventlog.InputEvent{
				Kind: eventlog.KindInput, InputId: id, Value: val, Hash: hash, Timestamp: now,
			})
		}
	}

	var draftEvents []eventlog.ArtefactEvent
	for id, d := range opts.PendingArtefactDrafts {
		hash, err := hashing.ArtefactOutputHash(d.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("planner: hashing artefact draft %s: %w", id, err)
		}
		r.draftOutputHash[id] = hash
		draftEvents = append(draftEvents, eventlog.ArtefactEvent{
			Kind: eventlog.KindArtefact, ArtefactId: id, Status: eventlog.StatusSucceeded,
			Value: d.Value, OutputHash: hash, ProducedBy: "user-override", Timestamp: now,
		})
	}

	jobs, err := expandJobs(bp, r)
	if err != nil {
		return nil, nil, err
	}

	// A job whose entire output set is covered by a pending draft doesn't
	// need to run this pass; the draft substitutes for its invocation.
	var runnable []Job
	for _, j := range jobs {
		overridden := len(j.Produces) > 0
		for _, pid := range j.Produces {
			if _, ok := opts.PendingArtefactDrafts[pid]; !ok {
				overridden = false
				break
			}
		}
		if !overridden {
			runnable = append(runnable, j)
		}
	}

	expl := &Explanation{JobReasons: map[string]string{}}
	for id := range dirtyInputIds {
		expl.DirtyInputs = append(expl.DirtyInputs, id)
	}
	sort.Strings(expl.DirtyInputs)
	for id := range opts.PendingArtefactDrafts {
		expl.DirtyArtefacts = append(expl.DirtyArtefacts, id)
	}
	sort.Strings(expl.DirtyArtefacts)

	dirty := classify(runnable, base, r, dirtyInputIds, expl)

	if len(opts.ArtifactIds) > 0 {
		closure := ancestorClosure(runnable, opts.ArtifactIds)
		for id := range dirty {
			if !closure[id] {
				delete(dirty, id)
			}
		}
		expl.SurgicalTargets = append([]string(nil), opts.ArtifactIds...)
	}

	producerLayer, layerCount := producerLayers(bp)

	var selected []Job
	for _, j := range runnable {
		if !dirty[j.JobId] {
			continue
		}
		if opts.UpToLayer >= 0 && producerLayer[j.Producer] > opts.UpToLayer {
			continue
		}
		selected = append(selected, j)
	}

	layers := layerSelectedJobs(selected)

	revision := manifest.NextRevision(manifest.RevisionNumber(base.Revision))

	var baseHash *string
	if pointer != nil && pointer.Hash != "" {
		h := pointer.Hash
		baseHash = &h
	}

	plan := &Plan{
		Revision:            revision,
		ManifestBaseHash:    baseHash,
		BlueprintLayerCount: layerCount,
		Layers:              layers,
		CreatedAt:           now,
	}

	planBytes, err := json.Marshal(plan)
	if err != nil {
		return nil, nil, fmt.Errorf("planner: encoding plan: %w", err)
	}
	planPath := fmt.Sprintf("%s/%s-plan.json", runsDir, revision)
	if err := deps.Storage.Write(ctx, movieId, planBytes, storage.WriteOptions{MimeType: "application/json"}, planPath); err != nil {
		return nil, nil, fmt.Errorf("planner: writing %s: %w", planPath, err)
	}

	if len(newInputEvents) > 0 || len(draftEvents) > 0 {
		for _, ev := range newInputEvents {
			if err := deps.Events.AppendInput(ctx, movieId, ev); err != nil {
				return nil, nil, fmt.Errorf("planner: appending input event %s: %w", ev.InputId, err)
			}
		}
		for _, ev := range draftEvents {
			if err := deps.Events.AppendArtefact(ctx, movieId, ev); err != nil {
				return nil, nil, fmt.Errorf("planner: appending artefact event %s: %w", ev.ArtefactId, err)
			}
		}
		if _, _, err := deps.Manifest.BuildNext(ctx, movieId, base, newInputEvents, draftEvents); err != nil {
			return nil, nil, fmt.Errorf("planner: materializing manifest: %w", err)
		}
	}

	return plan, expl, nil
}

// LoadPlan reads back a previously persisted plan for movieId's revision,
// the counterpart to the write Plan performs before returning.
func LoadPlan(ctx context.Context, s *storage.Context, movieId, revision string) (*Plan, error) {
	planPath := fmt.Sprintf("%s/%s-plan.json", runsDir, revision)
	raw, err := s.ReadToBytes(ctx, movieId, planPath)
	if err != nil {
		return nil, fmt.Errorf("planner: reading %s: %w", planPath, err)
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("planner: decoding %s: %w", planPath, err)
	}
	return &plan, nil
}

// layerSelectedJobs assigns each selected job the smallest layer index such
// that every artifact it consumes from another selected job sits in a
// strictly earlier layer (a dependency not in the selected set is already
// satisfied by the manifest and contributes no ordering constraint), then
// groups and lexicographically tie-breaks within each layer.
func layerSelectedJobs(selected []Job) [][]Job {
	if len(selected) == 0 {
		return [][]Job{}
	}

	byId := make(map[string]Job, len(selected))
	producerOf := make(map[string]string, len(selected)*2)
	for _, j := range selected {
		byId[j.JobId] = j
		for _, pid := range j.Produces {
			producerOf[pid] = j.JobId
		}
	}

	memo := map[string]int{}
	var depth func(jobId string) int
	depth = func(jobId string) int {
		if l, ok := memo[jobId]; ok {
			return l
		}
		max := -1
		for _, in := range byId[jobId].Inputs {
			if !ident.IsArtifactId(in) {
				continue
			}
			if depId, ok := producerOf[in]; ok && depId != jobId {
				if dl := depth(depId); dl > max {
					max = dl
				}
			}
		}
		l := max + 1
		memo[jobId] = l
		return l
	}

	maxLayer := 0
	for _, j := range selected {
		l := depth(j.JobId)
		if l > maxLayer {
			maxLayer = l
		}
	}

	layers := make([][]Job, maxLayer+1)
	for _, j := range selected {
		l := memo[j.JobId]
		j.Layer = l
		layers[l] = append(layers[l], j)
	}
	for _, l := range layers {
		sortJobsByIdLex(l)
	}
	return layers
}
