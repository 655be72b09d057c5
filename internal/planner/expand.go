package planner

import (
	"fmt"

	"github.com/jmylchreest/movieforge/internal/blueprint"
	"github.com/jmylchreest/movieforge/internal/ident"
)

// expandJobs turns every blueprint producer into one or more concrete Job
// instances, resolving loop cardinality through r and substituting each
// loop-selected connection source with the concrete iteration index.
func expandJobs(bp *blueprint.Blueprint, r *resolver) ([]Job, error) {
	var jobs []Job
	for i := range bp.Producers {
		p := &bp.Producers[i]
		if !p.IsLooped() {
			jobs = append(jobs, buildJob(p, nil))
			continue
		}
		count, err := r.resolveCount(p.CountSource)
		if err != nil {
			return nil, fmt.Errorf("planner: expanding producer %s: %w", p.Alias, err)
		}
		for idx := 0; idx < count; idx++ {
			n := idx
			jobs = append(jobs, buildJob(p, &n))
		}
	}
	return jobs, nil
}

func buildJob(p *blueprint.Producer, loopIndex *int) Job {
	sel := selectorFor(loopIndex)

	inputs := make([]string, 0, len(p.Inputs))
	bindings := make(map[string]string, len(p.Inputs))
	for _, c := range p.Inputs {
		src := c.Source
		if loopIndex != nil {
			src = substituteLoopIndex(src, p.LoopSymbol, *loopIndex)
		}
		inputs = append(inputs, src)
		bindings[c.Port] = src
	}

	produces := make([]string, 0, len(p.OutputNames))
	for _, name := range p.OutputNames {
		produces = append(produces, ident.Format(ident.ID{Kind: ident.KindArtifact, Alias: p.Alias, Name: name, Selector: sel}))
	}

	jobId := ident.Format(ident.ID{Kind: ident.KindProducer, Alias: p.Alias, Selector: sel})

	return Job{
		JobId:         jobId,
		Producer:      p.Alias,
		Provider:      p.Provider,
		ProviderModel: p.ProviderModel,
		Inputs:        inputs,
		Produces:      produces,
		Context:       JobContext{InputBindings: bindings},
		Attempt:       1,
	}
}

func selectorFor(loopIndex *int) *ident.Selector {
	if loopIndex == nil {
		return nil
	}
	return &ident.Selector{Kind: ident.SelectorConst, Value: *loopIndex}
}

// substituteLoopIndex replaces source's loop selector with a concrete
// constant if it carries the given symbol, honoring any declared offset
// (e.g. "[i+1]" at iteration 2 resolves to "[3]"). Sources that don't carry
// a matching symbolic selector (plain top-level inputs, or connections into
// a different loop family) are returned unchanged.
func substituteLoopIndex(source, symbol string, idx int) string {
	id, err := ident.Parse(source)
	if err != nil {
		return source
	}
	if id.Selector == nil || id.Selector.Kind != ident.SelectorLoop || id.Selector.Symbol != symbol {
		return source
	}
	id.Selector = &ident.Selector{Kind: ident.SelectorConst, Value: idx + id.Selector.Offset}
	return ident.Format(id)
}
