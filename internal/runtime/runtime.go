// Package runtime implements the execution runtime: it consumes a
// persisted planner.Plan and runs it layer by layer with bounded
// concurrency, invoking handlers through a handler.Registry, persisting
// returned artefacts through the blob store, appending one event per
// outcome, and materializing a new manifest once the final layer
// completes. Retries are entirely the handler's responsibility; the
// runtime itself never retries a failed invocation.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/jmylchreest/movieforge/internal/blobstore"
	"github.com/jmylchreest/movieforge/internal/eventlog"
	"github.com/jmylchreest/movieforge/internal/handler"
	"github.com/jmylchreest/movieforge/internal/hashing"
	"github.com/jmylchreest/movieforge/internal/ident"
	"github.com/jmylchreest/movieforge/internal/manifest"
	"github.com/jmylchreest/movieforge/internal/planner"
	"github.com/jmylchreest/movieforge/internal/storage"
)

// Deps bundles the collaborators one execution run needs.
type Deps struct {
	Storage  *storage.Context
	Manifest *manifest.Service
	Events   *eventlog.Log
	Handlers *handler.Registry
	Clock    func() time.Time

	// Concurrency bounds parallel handler invocations within one layer.
	// <= 0 derives a default from the host's logical CPU count.
	Concurrency int

	// HandlerDeadline bounds one handler invocation. <= 0 means no deadline.
	HandlerDeadline time.Duration

	// Compress optionally compresses a persisted blob's bytes; see
	// blobstore.Store.WithCompression.
	Compress func(mimeType string, data []byte) (compressed []byte, ext string, ok bool)

	Logger *slog.Logger
}

// JobStatus is one job's terminal outcome for a single execution run.
type JobStatus string

const (
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// JobResult records one job's outcome within a Result.
type JobResult struct {
	JobId       string
	Status      JobStatus
	Diagnostics *eventlog.Diagnostics
}

// Result is the outcome of one Execute call.
type Result struct {
	Revision string
	Jobs     []JobResult
	Manifest *manifest.Manifest
}

// CodeHandlerTimeout is the stable R### error code recorded in diagnostics
// when a handler invocation exceeds its deadline.
const CodeHandlerTimeout = "R005:HANDLER_TIMEOUT"

// run carries the state one Execute call threads through its layers: the
// movie being built, the manifest it is executing against, the in-memory
// overlay of artefacts this run has already produced, and the serialized
// event buffer that feeds the closing BuildNext call.
type run struct {
	deps    Deps
	movieId string
	blobs   *blobstore.Store
	plan    *planner.Plan
	base    *manifest.Manifest
	logger  *slog.Logger

	mu       sync.Mutex
	resolved map[string]manifest.Artefact // artefactId -> this-run output, overlaying base
	events   []eventlog.ArtefactEvent
}

// Execute runs plan against movieId's current manifest: layer by layer, up
// to deps.Concurrency jobs in parallel, invoking handlers, persisting
// artefacts, and appending events; then materializes the next manifest
// revision from every event this run appended.
func Execute(ctx context.Context, deps Deps, movieId string, plan *planner.Plan) (*Result, error) {
	base, _, err := deps.Manifest.Load(ctx, movieId)
	if err != nil {
		return nil, fmt.Errorf("runtime: loading manifest: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Concurrency <= 0 {
		deps.Concurrency = defaultConcurrency(ctx)
	}

	blobs := blobstore.New(deps.Storage, movieId)
	if deps.Compress != nil {
		blobs = blobs.WithCompression(deps.Compress)
	}

	r := &run{
		deps:     deps,
		movieId:  movieId,
		blobs:    blobs,
		plan:     plan,
		base:     base,
		logger:   logger,
		resolved: make(map[string]manifest.Artefact),
	}

	unavailable := make(map[string]bool) // artefact IDs whose producing job failed or was skipped this run
	var results []JobResult

	for layerIndex, layer := range plan.Layers {
		runnable, skipped := partitionSkipped(layer, unavailable)
		for _, j := range skipped {
			logger.WarnContext(ctx, "skipping job: depends on unavailable artefact",
				slog.String("jobId", j.JobId), slog.Int("layer", layerIndex))
			for _, pid := range j.Produces {
				unavailable[pid] = true
			}
			results = append(results, JobResult{JobId: j.JobId, Status: JobSkipped})
		}
		if len(runnable) == 0 {
			continue
		}

		layerResults := r.runLayer(ctx, layerIndex, runnable)
		for _, jr := range layerResults {
			results = append(results, jr)
			if jr.Status == JobFailed {
				job := jobByID(runnable, jr.JobId)
				for _, pid := range job.Produces {
					unavailable[pid] = true
				}
			}
		}
	}

	var next *manifest.Manifest
	revision := base.Revision
	if len(r.events) > 0 {
		next, revision, err = deps.Manifest.BuildNext(ctx, movieId, base, nil, r.events)
		if err != nil {
			return nil, fmt.Errorf("runtime: materializing manifest: %w", err)
		}
	} else {
		next = base
	}

	return &Result{Revision: revision, Jobs: results, Manifest: next}, nil
}

func jobByID(jobs []planner.Job, id string) planner.Job {
	for _, j := range jobs {
		if j.JobId == id {
			return j
		}
	}
	return planner.Job{}
}

func partitionSkipped(layer []planner.Job, unavailable map[string]bool) (runnable, skipped []planner.Job) {
	for _, j := range layer {
		blocked := false
		for _, in := range j.Inputs {
			if ident.IsArtifactId(in) && unavailable[in] {
				blocked = true
				break
			}
		}
		if blocked {
			skipped = append(skipped, j)
		} else {
			runnable = append(runnable, j)
		}
	}
	return runnable, skipped
}

// runLayer executes every job in one layer with up to deps.Concurrency
// invocations in flight, and returns once every job has reached a terminal
// outcome.
func (r *run) runLayer(ctx context.Context, layerIndex int, jobs []planner.Job) []JobResult {
	sem := make(chan struct{}, r.deps.Concurrency)
	results := make([]JobResult, len(jobs))
	var wg sync.WaitGroup

	for i, j := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, j planner.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.runJob(ctx, layerIndex, j)
		}(i, j)
	}
	wg.Wait()
	return results
}

func (r *run) runJob(ctx context.Context, layerIndex int, job planner.Job) JobResult {
	resolve := func(id string) (string, bool) {
		r.mu.Lock()
		art, overlaid := r.resolved[id]
		r.mu.Unlock()
		if overlaid {
			return art.OutputHash, true
		}
		if h, ok := r.base.InputHash(id); ok {
			return h, true
		}
		return r.base.ArtefactDependencyHash(id)
	}
	inputsHash, err := hashing.JobInputsHash(job.Inputs, resolve)
	if err != nil {
		return r.recordFailure(job, eventlog.Diagnostics{
			Provider: job.Provider, Model: job.ProviderModel,
			Message: fmt.Sprintf("runtime: computing inputsHash: %v", err),
		})
	}

	h, err := r.deps.Handlers.Lookup(job.Provider, job.ProviderModel)
	if err != nil {
		return r.recordFailure(job, eventlog.Diagnostics{
			Provider: job.Provider, Model: job.ProviderModel, Message: err.Error(),
		})
	}

	jc := handler.JobContext{
		JobId:      job.JobId,
		Provider:   job.Provider,
		Model:      job.ProviderModel,
		Revision:   r.plan.Revision,
		LayerIndex: layerIndex,
		Attempt:    job.Attempt,
		Inputs:     job.Inputs,
		Produces:   job.Produces,
		Context: handler.Context{
			ProviderConfig: job.Context.ProviderOptions,
			Attachments:    r.resolveAttachments(job.Inputs),
		},
	}

	invokeCtx := ctx
	var cancel context.CancelFunc
	if r.deps.HandlerDeadline > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, r.deps.HandlerDeadline)
		defer cancel()
	}

	result, err := h.Invoke(invokeCtx, jc)
	if invokeCtx.Err() == context.DeadlineExceeded {
		return r.recordFailure(job, eventlog.Diagnostics{
			Provider: job.Provider, Model: job.ProviderModel,
			Recoverable: true, Message: fmt.Sprintf("%s: handler invocation timed out", CodeHandlerTimeout),
		})
	}
	if err != nil {
		return r.recordFailure(job, eventlog.Diagnostics{
			Provider: job.Provider, Model: job.ProviderModel, Message: err.Error(),
		})
	}

	if result.Status == handler.StatusFailed {
		diag := eventlog.Diagnostics{}
		if result.Diagnostics != nil {
			diag = *result.Diagnostics
		}
		if diag.Provider == "" {
			diag.Provider = job.Provider
		}
		if diag.Model == "" {
			diag.Model = job.ProviderModel
		}
		return r.recordFailure(job, diag)
	}

	return r.recordSuccess(ctx, job, result, inputsHash)
}

func (r *run) resolveAttachments(inputs []string) []handler.Attachment {
	var out []handler.Attachment
	for _, id := range inputs {
		r.mu.Lock()
		art, overlaid := r.resolved[id]
		r.mu.Unlock()
		if overlaid {
			out = append(out, handler.Attachment{Id: id, Value: art.Value, Blob: art.Blob})
			continue
		}
		if in, ok := r.base.Inputs[id]; ok {
			out = append(out, handler.Attachment{Id: id, Value: in.Value})
			continue
		}
		if art, ok := r.base.Artefacts[id]; ok {
			out = append(out, handler.Attachment{Id: id, Value: art.Value, Blob: art.Blob})
		}
	}
	return out
}

// recordFailure appends one failed event per artefact job was to produce,
// then returns the job's terminal result.
func (r *run) recordFailure(job planner.Job, diag eventlog.Diagnostics) JobResult {
	now := r.deps.Clock().Format(time.RFC3339)
	for _, pid := range job.Produces {
		r.appendEvent(eventlog.ArtefactEvent{
			Kind:        eventlog.KindArtefact,
			ArtefactId:  pid,
			Status:      eventlog.StatusFailed,
			ProducedBy:  job.Producer,
			Diagnostics: &diag,
			Timestamp:   now,
		})
	}
	return JobResult{JobId: job.JobId, Status: JobFailed, Diagnostics: &diag}
}

// recordSuccess persists each returned artefact's bytes (if inline) via the
// blob store, appends one succeeded event per produced artefact, and
// overlays the run's resolved map so later layers see this job's outputs.
func (r *run) recordSuccess(ctx context.Context, job planner.Job, result handler.ProviderResult, inputsHash string) JobResult {
	byId := make(map[string]handler.ArtefactResult, len(result.Artefacts))
	for _, ar := range result.Artefacts {
		byId[ar.ArtefactId] = ar
	}

	now := r.deps.Clock().Format(time.RFC3339)
	for _, pid := range job.Produces {
		ar, ok := byId[pid]
		if !ok {
			r.logger.WarnContext(ctx, "handler reported success without this artefact",
				slog.String("jobId", job.JobId), slog.String("artefactId", pid))
			continue
		}

		blobRef := ar.Blob
		if blobRef == nil && len(ar.Inline) > 0 {
			ref, err := r.blobs.Persist(ctx, ar.Inline, "application/octet-stream")
			if err != nil {
				return r.recordFailure(job, eventlog.Diagnostics{
					Provider: job.Provider, Model: job.ProviderModel,
					Message: fmt.Sprintf("persisting artefact %s: %v", pid, err),
				})
			}
			blobRef = &ref
		}

		outputHash, err := hashing.ArtefactOutputHash(blobRef)
		if err != nil {
			return r.recordFailure(job, eventlog.Diagnostics{
				Provider: job.Provider, Model: job.ProviderModel,
				Message: fmt.Sprintf("hashing artefact %s output: %v", pid, err),
			})
		}

		ev := eventlog.ArtefactEvent{
			Kind:       eventlog.KindArtefact,
			ArtefactId: pid,
			Status:     eventlog.StatusSucceeded,
			Blob:       blobRef,
			OutputHash: outputHash,
			InputsHash: inputsHash,
			ProducedBy: job.Producer,
			Timestamp:  now,
		}
		r.appendEvent(ev)

		r.mu.Lock()
		r.resolved[pid] = manifest.Artefact{
			Status: eventlog.StatusSucceeded, Blob: blobRef, OutputHash: outputHash,
			InputsHash: inputsHash, ProducedBy: job.Producer,
		}
		r.mu.Unlock()
	}

	return JobResult{JobId: job.JobId, Status: JobSucceeded}
}

// appendEvent appends ev to the durable event log and records it in the
// run's buffer in the exact order the append call returned — preserving
// intra-layer completion order, since eventlog.Log serializes appends per
// file internally and every goroutine calls through this one method.
func (r *run) appendEvent(ev eventlog.ArtefactEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.deps.Events.AppendArtefact(context.Background(), r.movieId, ev); err != nil {
		r.logger.Error("runtime: appending artefact event failed", slog.String("artefactId", ev.ArtefactId), slog.String("error", err.Error()))
		return
	}
	r.events = append(r.events, ev)
}

// defaultConcurrency derives a bounded-concurrency default from the host's
// logical CPU count, falling back to 1 when the probe fails.
func defaultConcurrency(ctx context.Context) int {
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil || counts <= 0 {
		return 1
	}
	return counts
}
