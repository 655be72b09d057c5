// Package blueprint implements the in-memory blueprint model and its
// pre-planning validator. Blueprints are loaded once and never
// mutated; producer-to-producer references (including back-edges formed by
// nested producer imports) are represented as an arena of nodes indexed by
// integer position rather than as owning pointers, so a reference to an
// ancestor is a lookup, never a cycle in Go's object graph.
package blueprint

import "github.com/jmylchreest/movieforge/internal/ident"

// PortType is a coarse type tag used by the type-conformance check. An
// empty PortType means "untyped", which always conforms.
type PortType string

// InputSpec declares one top-level or nested input slot.
type InputSpec struct {
	// CanonicalId is this input's fully-qualified Input:... ID.
	CanonicalId string   `json:"canonicalId"`
	Type        PortType `json:"type,omitempty"`
}

// Connection binds one of a producer's named input ports to a canonical
// source ID (an Input:... or Artifact:... identifier, possibly
// loop-selected).
type Connection struct {
	Port   string `json:"port"`
	Source string `json:"source"` // canonical ID
}

// Condition gates a producer or connection on a boolean-valued input.
type Condition struct {
	// InputId is the canonical ID of the boolean-valued condition source.
	InputId string `json:"inputId"`
	// WhenTrue/WhenFalse name the reachable branch producers, used only by
	// the reachability warning check.
	WhenTrue  string `json:"whenTrue,omitempty"`
	WhenFalse string `json:"whenFalse,omitempty"`
}

// Producer is one node of the blueprint DAG: it consumes inputs (and/or
// other producers' artifacts) via Connections and emits one artifact per
// entry in Outputs.
type Producer struct {
	// Alias is this producer's dotted namespace path, e.g. "Gen" or
	// "Parent.Child". Unique within the blueprint.
	Alias         string                `json:"alias"`
	Provider      string                `json:"provider"`
	ProviderModel string                `json:"providerModel"`
	Inputs        []Connection          `json:"inputs,omitempty"`
	OutputNames   []string              `json:"outputNames"`
	InputSchema   map[string]PortType   `json:"inputSchema,omitempty"`  // declared allowed port names -> type, nil if unconstrained
	OutputSchema  map[string]PortType   `json:"outputSchema,omitempty"`

	// LoopSymbol is non-empty when this producer is replicated once per
	// element of a loop dimension; CountSource is the canonical ID (an
	// Input or Artifact count) providing the cardinality.
	LoopSymbol  string `json:"loopSymbol,omitempty"`
	CountSource string `json:"countSource,omitempty"`

	Condition *Condition `json:"condition,omitempty"`

	// ParentAlias is the enclosing producer's Alias for a nested import, or
	// "" at the top level. Stored as a string key, not a pointer, so
	// producer-import back-edges never form an owning cycle.
	ParentAlias string `json:"parentAlias,omitempty"`
}

// Collector merges the per-iteration outputs of a looped producer back
// into a single scalar artifact at the enclosing level.
type Collector struct {
	Alias       string       `json:"alias"`
	LoopSymbol  string       `json:"loopSymbol"`
	SourcePorts []Connection `json:"sourcePorts"` // each must carry the same LoopSymbol selector family
	OutputName  string       `json:"outputName"`
}

// Blueprint is the immutable, loaded DAG. Once built it is read-only and
// freely shared across goroutines.
type Blueprint struct {
	Inputs     map[string]InputSpec `json:"inputs"` // keyed by canonical Input ID
	Producers  []Producer           `json:"producers"`
	Collectors []Collector          `json:"collectors,omitempty"`
}

// ProducerByAlias looks up a producer by its alias, returning ok=false if
// none matches.
func (b *Blueprint) ProducerByAlias(alias string) (*Producer, bool) {
	for i := range b.Producers {
		if b.Producers[i].Alias == alias {
			return &b.Producers[i], true
		}
	}
	return nil, false
}

// ArtifactIds returns every canonical Artifact:... ID this producer
// declares as an output (unindexed; loop expansion happens in the
// planner).
func (p *Producer) ArtifactIds() []string {
	ids := make([]string, len(p.OutputNames))
	for i, name := range p.OutputNames {
		ids[i] = ident.Format(ident.ID{Kind: ident.KindArtifact, Alias: p.Alias, Name: name})
	}
	return ids
}

// IsLooped reports whether this producer is replicated per loop iteration.
func (p *Producer) IsLooped() bool {
	return p.LoopSymbol != ""
}
