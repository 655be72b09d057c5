package planner

import (
	"github.com/jmylchreest/movieforge/internal/ident"
	"github.com/jmylchreest/movieforge/internal/manifest"
)

// classify runs the five dirty-detection criteria over
// every expanded job, then propagates dirtiness through the artifact
// dependency graph until a fixed point. It returns the set of
// dirty job IDs and populates expl with the reasons and propagation record.
func classify(jobs []Job, base *manifest.Manifest, r *resolver, dirtyInputIds map[string]bool, expl *Explanation) map[string]bool {
	producerOf := make(map[string]string, len(jobs)*2) // produced artifact ID -> producing job ID
	for _, j := range jobs {
		for _, pid := range j.Produces {
			producerOf[pid] = j.JobId
		}
	}

	dirty := make(map[string]bool, len(jobs))
	firstRun := len(base.Inputs) == 0 && len(base.Artefacts) == 0 && base.Revision == ""

	for _, j := range jobs {
		if firstRun {
			dirty[j.JobId] = true
			expl.JobReasons[j.JobId] = ReasonInitial
			expl.InitialDirtyJobs = append(expl.InitialDirtyJobs, j.JobId)
			continue
		}

		if reason, ok := classifyOne(j, base, r, dirtyInputIds); ok {
			dirty[j.JobId] = true
			expl.JobReasons[j.JobId] = reason
			expl.InitialDirtyJobs = append(expl.InitialDirtyJobs, j.JobId)
		}
	}

	// Propagate: a job that consumes a dirty artifact is itself dirty, even
	// if its own recomputed jobInputsHash happens to still match (the
	// dependency hasn't actually re-run yet, so its stored output hash is
	// stale). Iterate to a fixed point since propagation can chain.
	for changed := true; changed; {
		changed = false
		for _, j := range jobs {
			if dirty[j.JobId] {
				continue
			}
			for _, in := range j.Inputs {
				if !ident.IsArtifactId(in) {
					continue
				}
				producingJob, ok := producerOf[in]
				if !ok || !dirty[producingJob] {
					continue
				}
				dirty[j.JobId] = true
				expl.JobReasons[j.JobId] = ReasonTouchesDirtyArtefact
				expl.PropagatedJobs = append(expl.PropagatedJobs, j.JobId)
				if expl.PropagationTriggers == nil {
					expl.PropagationTriggers = map[string]string{}
				}
				expl.PropagationTriggers[j.JobId] = producingJob
				changed = true
				break
			}
		}
	}

	return dirty
}

func classifyOne(j Job, base *manifest.Manifest, r *resolver, dirtyInputIds map[string]bool) (string, bool) {
	for _, pid := range j.Produces {
		art, ok := base.Artefacts[pid]
		if !ok || art.Status != "succeeded" {
			return ReasonProducesMissing, true
		}
	}

	for _, in := range j.Inputs {
		if ident.IsInputId(in) && dirtyInputIds[in] {
			return ReasonTouchesDirtyInput, true
		}
	}

	computed, err := jobInputsHash(j, r)
	if err == nil {
		for _, pid := range j.Produces {
			if art, ok := base.Artefacts[pid]; ok && art.InputsHash != "" && art.InputsHash != computed {
				return ReasonInputsHashChanged, true
			}
		}
	}

	return "", false
}

// ancestorClosure computes the set of job IDs (transitively) required to
// produce every artifact in targetArtifactIds, for surgical-mode scoping.
func ancestorClosure(jobs []Job, targetArtifactIds []string) map[string]bool {
	producerOf := make(map[string]Job, len(jobs)*2)
	for _, j := range jobs {
		for _, pid := range j.Produces {
			producerOf[pid] = j
		}
	}

	closure := make(map[string]bool)
	var visit func(jobId string)
	jobById := make(map[string]Job, len(jobs))
	for _, j := range jobs {
		jobById[j.JobId] = j
	}
	visit = func(jobId string) {
		if closure[jobId] {
			return
		}
		closure[jobId] = true
		for _, in := range jobById[jobId].Inputs {
			if dep, ok := producerOf[in]; ok {
				visit(dep.JobId)
			}
		}
	}

	for _, artID := range targetArtifactIds {
		if j, ok := producerOf[artID]; ok {
			visit(j.JobId)
		}
	}
	return closure
}
