package planner

import (
	"sort"

	"github.com/jmylchreest/movieforge/internal/blueprint"
	"github.com/jmylchreest/movieforge/internal/ident"
)

// producerLayers computes each producer's longest-path-from-root depth over
// the producer-to-producer dependency graph induced by Artifact-sourced
// connections. The validator has already rejected cycles, so this always
// terminates. Returned alongside is the total layer count (max depth + 1).
func producerLayers(bp *blueprint.Blueprint) (layers map[string]int, count int) {
	deps := make(map[string][]string, len(bp.Producers))
	for i := range bp.Producers {
		p := &bp.Producers[i]
		var ds []string
		for _, c := range p.Inputs {
			if !ident.IsArtifactId(c.Source) {
				continue
			}
			parsed, err := ident.Parse(c.Source)
			if err != nil {
				continue
			}
			if _, ok := bp.ProducerByAlias(parsed.Alias); ok {
				ds = append(ds, parsed.Alias)
			}
		}
		deps[p.Alias] = ds
	}

	layers = make(map[string]int, len(bp.Producers))
	var depth func(alias string) int
	depth = func(alias string) int {
		if l, ok := layers[alias]; ok {
			return l
		}
		max := -1
		for _, d := range deps[alias] {
			if dl := depth(d); dl > max {
				max = dl
			}
		}
		l := max + 1
		layers[alias] = l
		return l
	}

	for i := range bp.Producers {
		depth(bp.Producers[i].Alias)
	}

	for _, l := range layers {
		if l+1 > count {
			count = l + 1
		}
	}
	return layers, count
}

// sortJobsByIdLex orders jobs by canonical jobId ascending, the tie-break
// the grammar's total order specifies for same-layer jobs.
func sortJobsByIdLex(jobs []Job) {
	sort.Slice(jobs, func(i, j int) bool { return ident.Less(jobs[i].JobId, jobs[j].JobId) })
}
