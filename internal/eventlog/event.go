package eventlog

import "github.com/jmylchreest/movieforge/internal/blobstore"

// Kind discriminates the two event record shapes carried by the NDJSON
// streams. Both input and artifact events are tagged variants on the wire;
// a bare "duck-typed" record with no discriminator is never written.
type Kind string

const (
	KindInput    Kind = "input"
	KindArtefact Kind = "artefact"
)

// Status is an artifact event's terminal outcome.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// InputEvent records a resolved input value and its canonical hash at the
// moment it was observed.
type InputEvent struct {
	Kind      Kind   `json:"kind"`
	InputId   string `json:"inputId"`
	Value     any    `json:"value"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

// Diagnostics carries handler/provider-reported detail for a failed
// artifact event. The core never inspects its contents beyond Recoverable
// and ProviderRequestId, which gate the recovery pre-pass.
type Diagnostics struct {
	Provider          string `json:"provider,omitempty"`
	Model             string `json:"model,omitempty"`
	ProviderRequestId string `json:"providerRequestId,omitempty"`
	Recoverable       bool   `json:"recoverable,omitempty"`
	Message           string `json:"message,omitempty"`
}

// ArtefactEvent records one outcome for a produced artifact: a successful
// blob-backed output, or a failed attempt with diagnostics.
type ArtefactEvent struct {
	Kind Kind   `json:"kind"`
	ArtefactId string `json:"artefactId"`
	Status     Status `json:"status"`
	// Blob is set when the artifact's output is binary and was persisted to
	// the blob store. Value carries a scalar/structured (non-blob) output,
	// e.g. a loop-count artifact consumed by another producer's cardinality
	// source.
	Blob  *blobstore.Ref `json:"blob,omitempty"`
	Value any            `json:"value,omitempty"`
	// OutputHash is artefactOutputHash(output), the value downstream jobs'
	// jobInputsHash resolves this artifact to.
	OutputHash  string       `json:"outputHash,omitempty"`
	InputsHash  string       `json:"inputsHash,omitempty"`
	ProducedBy  string       `json:"producedBy,omitempty"` // producer alias, or "user-override"
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
	Timestamp   string       `json:"timestamp"`
}
