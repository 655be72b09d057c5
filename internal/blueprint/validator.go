package blueprint

import (
	"fmt"
	"sort"

	"github.com/jmylchreest/movieforge/internal/ident"
)

// Issue is one validation error or warning, carrying a stable code.
type Issue struct {
	Code    string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Code, i.Message)
}

// Result aggregates every issue found by Validate. The planner refuses to
// run when Errors is non-empty; Warnings never block planning.
type Result struct {
	Errors   []Issue
	Warnings []Issue
}

// OK reports whether no errors were found (warnings are not disqualifying).
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Validate runs every check against b and returns their
// union. Checks are independent: one check's failure does not suppress
// another's.
func Validate(b *Blueprint) Result {
	var r Result

	checkConnectionEndpoints(b, &r)
	checkSchemas(b, &r)
	checkLoopCountSources(b, &r)
	checkCollectors(b, &r)
	checkConditions(b, &r)
	checkTypes(b, &r)
	checkCycles(b, &r)
	checkDimensionConsistency(b, &r)
	checkUnusedAndUnreachable(b, &r)

	return r
}

func addError(r *Result, code, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
}

func addWarning(r *Result, code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Code: code, Message: fmt.Sprintf(format, args...)})
}

// sourceExists reports whether a canonical Input:/Artifact: source ID
// resolves to a declared input or a producer's declared output.
func sourceExists(b *Blueprint, source string) bool {
	id, err := ident.Parse(source)
	if err != nil {
		return false
	}
	switch id.Kind {
	case ident.KindInput:
		unindexed := ident.Format(ident.ID{Kind: ident.KindInput, Alias: id.Alias, Name: id.Name})
		_, ok := b.Inputs[unindexed]
		return ok
	case ident.KindArtifact:
		producer, ok := b.ProducerByAlias(id.Alias)
		if !ok {
			return false
		}
		for _, name := range producer.OutputNames {
			if name == id.Name {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// 1. Connection endpoints exist (both source and target port).
func checkConnectionEndpoints(b *Blueprint, r *Result) {
	for _, p := range b.Producers {
		for _, c := range p.Inputs {
			if !sourceExists(b, c.Source) {
				addError(r, "V001", "producer %q: connection source %q does not exist", p.Alias, c.Source)
			}
		}
	}
	for _, col := range b.Collectors {
		for _, c := range col.SourcePorts {
			if !sourceExists(b, c.Source) {
				addError(r, "V001", "collector %q: source %q does not exist", col.Alias, c.Source)
			}
		}
	}
}

// 2. Producer input/output schemas — each producer imported with a schema
// enumerates the allowed port names.
func checkSchemas(b *Blueprint, r *Result) {
	for _, p := range b.Producers {
		if p.InputSchema == nil {
			continue
		}
		for _, c := range p.Inputs {
			if _, ok := p.InputSchema[c.Port]; !ok {
				addError(r, "V002", "producer %q: port %q is not declared in its input schema", p.Alias, c.Port)
			}
		}
		if p.OutputSchema == nil {
			continue
		}
		for _, name := range p.OutputNames {
			if _, ok := p.OutputSchema[name]; !ok {
				addError(r, "V002", "producer %q: output %q is not declared in its output schema", p.Alias, name)
			}
		}
	}
}

// 3. Loop/artifact count inputs — every producer whose output is an
// indexed artifact must have a concrete count source.
func checkLoopCountSources(b *Blueprint, r *Result) {
	for _, p := range b.Producers {
		if !p.IsLooped() {
			continue
		}
		if p.CountSource == "" {
			addError(r, "V003", "producer %q: loop symbol %q has no count source", p.Alias, p.LoopSymbol)
			continue
		}
		if !sourceExists(b, p.CountSource) {
			addError(r, "V003", "producer %q: count source %q does not exist", p.Alias, p.CountSource)
		}
	}
}

// 4. Collector correctness — a collector's inputs share a loop symbol; its
// output is scalar at the enclosing level.
func checkCollectors(b *Blueprint, r *Result) {
	for _, col := range b.Collectors {
		if col.LoopSymbol == "" {
			addError(r, "V004", "collector %q: no loop symbol declared", col.Alias)
			continue
		}
		for _, c := range col.SourcePorts {
			id, err := ident.Parse(c.Source)
			if err != nil || id.Selector == nil || id.Selector.Kind != ident.SelectorLoop || id.Selector.Symbol != col.LoopSymbol {
				addError(r, "V004", "collector %q: source %q does not carry loop symbol %q", col.Alias, c.Source, col.LoopSymbol)
			}
		}
	}
}

// 5. Condition paths — a conditional edge names a condition, which
// evaluates to boolean at runtime; both branches are reachable schema-wise.
func checkConditions(b *Blueprint, r *Result) {
	for _, p := range b.Producers {
		if p.Condition == nil {
			continue
		}
		if !sourceExists(b, p.Condition.InputId) {
			addError(r, "V005", "producer %q: condition source %q does not exist", p.Alias, p.Condition.InputId)
			continue
		}
		if p.Condition.WhenTrue != "" {
			if _, ok := b.ProducerByAlias(p.Condition.WhenTrue); !ok {
				addError(r, "V005", "producer %q: condition whenTrue branch %q is unreachable", p.Alias, p.Condition.WhenTrue)
			}
		}
		if p.Condition.WhenFalse != "" {
			if _, ok := b.ProducerByAlias(p.Condition.WhenFalse); !ok {
				addError(r, "V005", "producer %q: condition whenFalse branch %q is unreachable", p.Alias, p.Condition.WhenFalse)
			}
		}
	}
}

// 6. Types — connection source type conforms to target port type.
func checkTypes(b *Blueprint, r *Result) {
	for _, p := range b.Producers {
		if p.InputSchema == nil {
			continue
		}
		for _, c := range p.Inputs {
			wantType, declared := p.InputSchema[c.Port]
			if !declared || wantType == "" {
				continue
			}
			sourceType, ok := sourceType(b, c.Source)
			if ok && sourceType != "" && sourceType != wantType {
				addError(r, "V006", "producer %q: port %q expects type %q, source %q provides %q", p.Alias, c.Port, wantType, c.Source, sourceType)
			}
		}
	}
}

func sourceType(b *Blueprint, source string) (PortType, bool) {
	id, err := ident.Parse(source)
	if err != nil {
		return "", false
	}
	switch id.Kind {
	case ident.KindInput:
		unindexed := ident.Format(ident.ID{Kind: ident.KindInput, Alias: id.Alias, Name: id.Name})
		spec, ok := b.Inputs[unindexed]
		return spec.Type, ok
	case ident.KindArtifact:
		producer, ok := b.ProducerByAlias(id.Alias)
		if !ok {
			return "", false
		}
		t, ok := producer.OutputSchema[id.Name]
		return t, ok
	default:
		return "", false
	}
}

// 7. No cycles through producers.
func checkCycles(b *Blueprint, r *Result) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(b.Producers))
	var visit func(alias string, stack []string) bool
	visit = func(alias string, stack []string) bool {
		color[alias] = gray
		p, ok := b.ProducerByAlias(alias)
		if ok {
			for _, c := range p.Inputs {
				id, err := ident.Parse(c.Source)
				if err != nil || id.Kind != ident.KindArtifact {
					continue
				}
				dep := id.Alias
				switch color[dep] {
				case gray:
					addError(r, "V007", "cycle detected through producer %q", dep)
					return true
				case white:
					if visit(dep, append(stack, alias)) {
						return true
					}
				}
			}
		}
		color[alias] = black
		return false
	}
	for _, p := range b.Producers {
		if color[p.Alias] == white {
			visit(p.Alias, nil)
		}
	}
}

// 8. Dimension consistency — all loop symbols feeding one producer resolve
// to the same cardinality source.
func checkDimensionConsistency(b *Blueprint, r *Result) {
	for _, p := range b.Producers {
		symbolSources := map[string]string{}
		for _, c := range p.Inputs {
			id, err := ident.Parse(c.Source)
			if err != nil || id.Selector == nil || id.Selector.Kind != ident.SelectorLoop {
				continue
			}
			symbol := id.Selector.Symbol
			producerAlias := id.Alias
			source, seen := symbolSources[symbol]
			if !seen {
				symbolSources[symbol] = producerAlias
				continue
			}
			if source != producerAlias {
				addError(r, "V008", "producer %q: loop symbol %q resolves to inconsistent cardinality sources %q and %q", p.Alias, symbol, source, producerAlias)
			}
		}
	}
}

// 9. Warnings — unused inputs/artifacts, unreachable producers.
func checkUnusedAndUnreachable(b *Blueprint, r *Result) {
	usedInputs := map[string]bool{}
	usedArtefacts := map[string]bool{}
	hasInbound := map[string]bool{}

	for _, p := range b.Producers {
		for _, c := range p.Inputs {
			id, err := ident.Parse(c.Source)
			if err != nil {
				continue
			}
			switch id.Kind {
			case ident.KindInput:
				usedInputs[ident.Format(ident.ID{Kind: ident.KindInput, Alias: id.Alias, Name: id.Name})] = true
			case ident.KindArtifact:
				usedArtefacts[ident.Format(ident.ID{Kind: ident.KindArtifact, Alias: id.Alias, Name: id.Name})] = true
				hasInbound[p.Alias] = true
			}
		}
	}
	for _, col := range b.Collectors {
		for _, c := range col.SourcePorts {
			id, err := ident.Parse(c.Source)
			if err == nil && id.Kind == ident.KindArtifact {
				usedArtefacts[ident.Format(ident.ID{Kind: ident.KindArtifact, Alias: id.Alias, Name: id.Name})] = true
			}
		}
	}

	unusedInputs := make([]string, 0)
	for id := range b.Inputs {
		if !usedInputs[id] {
			unusedInputs = append(unusedInputs, id)
		}
	}
	sort.Strings(unusedInputs)
	for _, id := range unusedInputs {
		addWarning(r, "V009", "input %q is never consumed", id)
	}

	for _, p := range b.Producers {
		for _, name := range p.OutputNames {
			artefactId := ident.Format(ident.ID{Kind: ident.KindArtifact, Alias: p.Alias, Name: name})
			if !usedArtefacts[artefactId] {
				addWarning(r, "V009", "artifact %q is never consumed", artefactId)
			}
		}
	}

	conditionTargets := map[string]bool{}
	for _, p := range b.Producers {
		if p.Condition == nil {
			continue
		}
		if p.Condition.WhenTrue != "" {
			conditionTargets[p.Condition.WhenTrue] = true
		}
		if p.Condition.WhenFalse != "" {
			conditionTargets[p.Condition.WhenFalse] = true
		}
	}
	for _, p := range b.Producers {
		if p.Condition == nil {
			continue
		}
		if !hasInbound[p.Alias] && !conditionTargets[p.Alias] {
			addWarning(r, "V009", "producer %q is gated by a condition but no branch routes execution to it", p.Alias)
		}
	}
}
