// Package planner implements the incremental build planner:
// given a blueprint, resolved input values, the prior manifest, and the
// event log, it determines the minimal set of producer jobs that must run
// to bring every artifact up to date, and emits a layered execution Plan.
package planner

// Job is one producer instance's unit of work: a single, concretely
// loop-indexed invocation of a producer.
type Job struct {
	JobId         string     `json:"jobId"`
	Producer      string     `json:"producer"`
	Provider      string     `json:"provider"`
	ProviderModel string     `json:"providerModel"`
	Inputs        []string   `json:"inputs"`
	Produces      []string   `json:"produces"`
	Context       JobContext `json:"context"`
	Attempt       int        `json:"attempt"`
	Layer         int        `json:"-"`
}

// JobContext carries the opaque, pass-through data a Handler needs beyond
// the resolved input/output ID lists.
type JobContext struct {
	InputBindings   map[string]string `json:"inputBindings"`
	ProviderOptions map[string]any    `json:"providerOptions,omitempty"`
	RateKey         string            `json:"rateKey,omitempty"`
}

// Plan is the stable wire format consumed by the execution runtime.
type Plan struct {
	Revision            string  `json:"revision"`
	ManifestBaseHash    *string `json:"manifestBaseHash"`
	BlueprintLayerCount int     `json:"blueprintLayerCount"`
	Layers              [][]Job `json:"layers"`
	CreatedAt           string  `json:"createdAt"`
}

// Explanation documents why the planner produced the plan it did.
type Explanation struct {
	JobReasons       map[string]string `json:"jobReasons"`
	DirtyInputs      []string          `json:"dirtyInputs"`
	DirtyArtefacts   []string          `json:"dirtyArtefacts"`
	InitialDirtyJobs []string          `json:"initialDirtyJobs"`
	PropagatedJobs   []string          `json:"propagatedJobs"`
	SurgicalTargets  []string          `json:"surgicalTargets,omitempty"`

	// PropagationTriggers maps a propagated job ID to the upstream dirty job
	// ID whose artifact made it dirty.
	PropagationTriggers map[string]string `json:"propagationTriggers,omitempty"`
}

// Reason codes recorded in Explanation.JobReasons.
const (
	ReasonInitial              = "initial"
	ReasonProducesMissing      = "producesMissing"
	ReasonTouchesDirtyInput    = "touchesDirtyInput"
	ReasonTouchesDirtyArtefact = "touchesDirtyArtefact"
	ReasonInputsHashChanged    = "inputsHashChanged"
)

// DraftArtefact is a user-provided artifact override supplied outside of a
// producer run.
type DraftArtefact struct {
	Value    any
	MimeType string
}

// Options parameterizes one planning pass.
type Options struct {
	// ArtifactIds restricts planning to the ancestor-closure of these
	// target artifact IDs ("surgical mode"). Empty means plan everything.
	ArtifactIds []string

	// UpToLayer caps emitted jobs to layer index <= UpToLayer. A negative
	// value (the configured default is -1) means no cap; the zero value
	// caps at layer 0.
	UpToLayer int

	// PendingArtefactDrafts are user overrides to record as artifact
	// events (producedBy = "user-override") before dirty detection runs.
	PendingArtefactDrafts map[string]DraftArtefact
}
