// Package manifest implements the manifest service: it
// materializes the current snapshot of input values and artifact outputs
// by replaying the event log and keeping the last record per canonical ID,
// then persists that snapshot as an immutable "manifests/rev-NNNN.json"
// file and atomically swaps the "current.json" pointer to it.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmylchreest/movieforge/internal/blobstore"
	"github.com/jmylchreest/movieforge/internal/eventlog"
	"github.com/jmylchreest/movieforge/internal/hashing"
	"github.com/jmylchreest/movieforge/internal/storage"
)

const (
	currentPointerPath = "current.json"
	manifestsDir       = "manifests"
)

// Input is one entry in Manifest.Inputs: a resolved value and its
// canonical hash.
type Input struct {
	Value any    `json:"value"`
	Hash  string `json:"hash"`
}

// Artefact is one entry in Manifest.Artefacts.
type Artefact struct {
	Status      eventlog.Status       `json:"status"`
	Blob        *blobstore.Ref        `json:"blob,omitempty"`
	Value       any                   `json:"value,omitempty"`
	OutputHash  string                `json:"outputHash,omitempty"`
	InputsHash  string                `json:"inputsHash,omitempty"`
	ProducedBy  string                `json:"producedBy,omitempty"`
	Diagnostics *eventlog.Diagnostics `json:"diagnostics,omitempty"`
}

// Manifest is the materialized snapshot at a given revision.
type Manifest struct {
	Revision  string              `json:"revision"`
	Inputs    map[string]Input    `json:"inputs"`
	Artefacts map[string]Artefact `json:"artefacts"`
}

func empty() *Manifest {
	return &Manifest{Inputs: map[string]Input{}, Artefacts: map[string]Artefact{}}
}

// InputHash resolves id's stored input hash, for use as a
// hashing.JobInputsHash resolve callback.
func (m *Manifest) InputHash(id string) (string, bool) {
	in, ok := m.Inputs[id]
	if !ok {
		return "", false
	}
	return in.Hash, true
}

// ArtefactDependencyHash resolves id to artefactOutputHash(output), the
// value downstream jobs' jobInputsHash keys freshness on.
func (m *Manifest) ArtefactDependencyHash(id string) (string, bool) {
	art, ok := m.Artefacts[id]
	if !ok || art.Status != eventlog.StatusSucceeded {
		return "", false
	}
	return art.OutputHash, true
}

// Pointer is the current.json contents.
type Pointer struct {
	Revision     string `json:"revision"`
	ManifestPath string `json:"manifestPath"`
	Hash         string `json:"hash"`
	UpdatedAt    string `json:"updatedAt"`
}

// Service loads and materializes manifests over a storage.Context.
type Service struct {
	storage *storage.Context
}

// New constructs a manifest Service.
func New(s *storage.Context) *Service {
	return &Service{storage: s}
}

// InitEmpty writes an explicit, empty current.json pointer so a freshly
// initialized build is distinguishable from one that was never
// initialized: Load returns the same empty manifest either way, but
// FileExists(current.json) only holds once InitEmpty has run.
func (s *Service) InitEmpty(ctx context.Context, movieId string) error {
	pointerBytes, err := json.Marshal(Pointer{})
	if err != nil {
		return fmt.Errorf("manifest: encoding empty pointer: %w", err)
	}
	if err := s.storage.Write(ctx, movieId, pointerBytes, storage.WriteOptions{MimeType: "application/json"}, currentPointerPath); err != nil {
		return fmt.Errorf("manifest: writing empty pointer: %w", err)
	}
	return nil
}

// Load reads the current pointer and dereferences it. A build with no
// prior plan/execute has no pointer file and returns an empty manifest
// with Revision == "".
func (s *Service) Load(ctx context.Context, movieId string) (*Manifest, *Pointer, error) {
	exists, err := s.storage.FileExists(ctx, movieId, currentPointerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: checking current pointer: %w", err)
	}
	if !exists {
		return empty(), &Pointer{}, nil
	}

	raw, err := s.storage.ReadToBytes(ctx, movieId, currentPointerPath)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: %s: %w", RuntimeCodeManifestCorrupt, err)
	}
	var pointer Pointer
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return nil, nil, fmt.Errorf("manifest: %s: current.json: %w", RuntimeCodeManifestCorrupt, err)
	}
	if pointer.ManifestPath == "" {
		return empty(), &pointer, nil
	}

	manifestRaw, err := s.storage.ReadToBytes(ctx, movieId, pointer.ManifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: %s: %s: %w", RuntimeCodeManifestCorrupt, pointer.ManifestPath, err)
	}
	var m Manifest
	if err := json.Unmarshal(manifestRaw, &m); err != nil {
		return nil, nil, fmt.Errorf("manifest: %s: %s: %w", RuntimeCodeManifestCorrupt, pointer.ManifestPath, err)
	}
	if m.Inputs == nil {
		m.Inputs = map[string]Input{}
	}
	if m.Artefacts == nil {
		m.Artefacts = map[string]Artefact{}
	}
	return &m, &pointer, nil
}

// BuildNext applies newly-appended input and artifact events on top of
// base, writes the resulting manifest at the next revision, and atomically
// swaps current.json to point at it. It returns the new manifest and its
// revision label.
func (s *Service) BuildNext(ctx context.Context, movieId string, base *Manifest, inputEvents []eventlog.InputEvent, artefactEvents []eventlog.ArtefactEvent) (*Manifest, string, error) {
	next := cloneManifest(base)

	for _, ev := range inputEvents {
		next.Inputs[ev.InputId] = Input{Value: ev.Value, Hash: ev.Hash}
	}
	for _, ev := range artefactEvents {
		next.Artefacts[ev.ArtefactId] = Artefact{
			Status:      ev.Status,
			Blob:        ev.Blob,
			Value:       ev.Value,
			OutputHash:  ev.OutputHash,
			InputsHash:  ev.InputsHash,
			ProducedBy:  ev.ProducedBy,
			Diagnostics: ev.Diagnostics,
		}
	}

	currentN := RevisionNumber(base.Revision)
	revision := NextRevision(currentN)
	next.Revision = revision

	manifestBytes, err := json.Marshal(next)
	if err != nil {
		return nil, "", fmt.Errorf("manifest: encoding %s: %w", revision, err)
	}
	manifestPath := fmt.Sprintf("%s/%s.json", manifestsDir, revision)
	if err := s.storage.Write(ctx, movieId, manifestBytes, storage.WriteOptions{MimeType: "application/json"}, manifestPath); err != nil {
		return nil, "", fmt.Errorf("manifest: writing %s: %w", manifestPath, err)
	}

	manifestHash, err := hashing.Hash(next)
	if err != nil {
		return nil, "", fmt.Errorf("manifest: hashing %s: %w", revision, err)
	}
	pointer := Pointer{Revision: revision, ManifestPath: manifestPath, Hash: manifestHash}
	pointerBytes, err := json.Marshal(pointer)
	if err != nil {
		return nil, "", fmt.Errorf("manifest: encoding pointer: %w", err)
	}
	if err := s.storage.Write(ctx, movieId, pointerBytes, storage.WriteOptions{MimeType: "application/json"}, currentPointerPath); err != nil {
		return nil, "", fmt.Errorf("manifest: swapping current pointer: %w", err)
	}

	return next, revision, nil
}

func cloneManifest(base *Manifest) *Manifest {
	next := empty()
	next.Revision = base.Revision
	for k, v := range base.Inputs {
		next.Inputs[k] = v
	}
	for k, v := range base.Artefacts {
		next.Artefacts[k] = v
	}
	return next
}

// RevisionNumber parses the integer out of a "rev-NNNN" label, returning 0
// for an empty (no prior revision) label.
func RevisionNumber(revision string) int {
	if revision == "" {
		return 0
	}
	numStr := strings.TrimPrefix(revision, "rev-")
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0
	}
	return n
}

// NextRevision formats revision number n+1 as "rev-NNNN".
func NextRevision(n int) string {
	return fmt.Sprintf("rev-%04d", n+1)
}

// RuntimeCodeManifestCorrupt is the stable R### error code surfaced when a
// manifest or pointer file fails to parse.
const RuntimeCodeManifestCorrupt = "R003:MANIFEST_CORRUPT"
