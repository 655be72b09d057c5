package planner

import "github.com/jmylchreest/movieforge/internal/hashing"

// jobInputsHash recomputes jobInputsHash for job using r to resolve each
// consumed ID to its currently-known hash.
func jobInputsHash(j Job, r *resolver) (string, error) {
	return hashing.JobInputsHash(j.Inputs, func(id string) (string, bool) {
		return r.resolveHash(id)
	})
}
