package planner

import (
	"encoding/json"
	"fmt"

	"github.com/jmylchreest/movieforge/internal/manifest"
)

// resolver answers "what is this canonical ID's value/hash right now,
// combining the prior manifest with whatever this planning pass is about
// to change" — used both to expand loop dimensions (resolveCount) and to
// recompute a job's jobInputsHash (resolveHash).
type resolver struct {
	base            *manifest.Manifest
	dirtyInputs     map[string]any    // canonical Input ID -> freshly resolved value, this pass
	dirtyInputHash  map[string]string // canonical Input ID -> freshly computed hash, this pass
	draftArtefacts  map[string]DraftArtefact
	draftOutputHash map[string]string // canonical Artifact ID -> freshly computed hash, this pass
}

func (r *resolver) resolveHash(id string) (string, bool) {
	if h, ok := r.dirtyInputHash[id]; ok {
		return h, true
	}
	if h, ok := r.draftOutputHash[id]; ok {
		return h, true
	}
	if h, ok := r.base.InputHash(id); ok {
		return h, true
	}
	return r.base.ArtefactDependencyHash(id)
}

func (r *resolver) resolveValue(id string) (any, bool) {
	if v, ok := r.dirtyInputs[id]; ok {
		return v, true
	}
	if d, ok := r.draftArtefacts[id]; ok {
		return d.Value, true
	}
	if in, ok := r.base.Inputs[id]; ok {
		return in.Value, true
	}
	if art, ok := r.base.Artefacts[id]; ok {
		return art.Value, true
	}
	return nil, false
}

func (r *resolver) resolveCount(id string) (int, error) {
	v, ok := r.resolveValue(id)
	if !ok {
		return 0, fmt.Errorf("planner: no resolved value for count source %s", id)
	}
	return toInt(v)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("planner: count value %q is not numeric: %w", n, err)
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("planner: count source resolved to non-numeric value %v (%T)", v, v)
	}
}
