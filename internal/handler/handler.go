// Package handler defines the narrow contract the execution runtime uses
// to invoke producer implementations (calls to generative-model providers,
// ffmpeg, OTIO export, Remotion rendering, ...) and the registry that
// resolves a job's declared (provider, model) pair to a concrete Handler.
// The core never inspects a handler's opaque payloads; it only routes to
// one and persists what comes back.
package handler

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/jmylchreest/movieforge/internal/blobstore"
	"github.com/jmylchreest/movieforge/internal/eventlog"
)

// Attachment carries one resolved input's current value or blob reference,
// passed to the handler opaquely alongside the bare ID list so it does not
// need its own storage access to read what it consumes.
type Attachment struct {
	Id    string         `json:"id"`
	Value any            `json:"value,omitempty"`
	Blob  *blobstore.Ref `json:"blob,omitempty"`
}

// Context is the opaque, pass-through portion of a JobContext. The runtime
// never looks inside ProviderConfig or Extras; it only threads them through
// from the blueprint/plan to the handler.
type Context struct {
	ProviderConfig any               `json:"providerConfig,omitempty"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	Extras         map[string]any    `json:"extras,omitempty"`
}

// JobContext is everything a Handler needs to execute one job invocation.
type JobContext struct {
	JobId      string
	Provider   string
	Model      string
	Revision   string
	LayerIndex int
	Attempt    int
	Inputs     []string
	Produces   []string
	Context    Context
}

// Status is a ProviderResult's terminal outcome.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ArtefactResult is one produced artifact's outcome, carried back inside a
// ProviderResult. Exactly one of Blob/Inline is meaningful for a succeeded
// artifact; neither is required for a failed one.
type ArtefactResult struct {
	ArtefactId  string
	Blob        *blobstore.Ref
	Inline      []byte
	Diagnostics *eventlog.Diagnostics
}

// ProviderResult is what invoke returns: a terminal status for the job plus
// one result per produced artifact.
type ProviderResult struct {
	Status      Status
	Artefacts   []ArtefactResult
	Diagnostics *eventlog.Diagnostics
}

// Handler is the interface a producer implementation satisfies. warmStart
// is optional (credential/model validation at process start, not per job);
// a Handler that has nothing to validate need not implement it.
type Handler interface {
	Invoke(ctx context.Context, jc JobContext) (ProviderResult, error)
}

// WarmStarter is an optional extension a Handler may also satisfy to
// validate credentials or model availability once, before any job runs.
type WarmStarter interface {
	WarmStart(ctx context.Context) error
}

// Registry resolves a job's (provider, model) pair to the Handler that
// should execute it, falling back through glob patterns registered for
// that provider when no exact model match exists.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler // "<provider>/<modelPattern>" -> Handler
}

// NewRegistry constructs an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a Handler to a (provider, modelPattern) pair. modelPattern
// may be an exact model name or a path.Match-style glob (e.g. "gpt-4*", or
// "*" to match every model for the provider).
func (r *Registry) Register(provider, modelPattern string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[provider+"/"+modelPattern] = h
}

// Lookup resolves the Handler bound to (provider, model). An exact
// provider+model match wins; failing that, every registered pattern for
// the same provider is tried as a glob over the model name, most specific
// (longest pattern) first; failing that, patterns registered under
// provider "*" are tried the same way. Returns an error naming the pair
// when nothing matches.
func (r *Registry) Lookup(provider, model string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.handlers[provider+"/"+model]; ok {
		return h, nil
	}
	if h, ok := r.matchProvider(provider, model); ok {
		return h, nil
	}
	if provider != "*" {
		if h, ok := r.matchProvider("*", model); ok {
			return h, nil
		}
	}
	return nil, fmt.Errorf("handler: %s: no handler registered for provider=%q model=%q", CodeHandlerNotFound, provider, model)
}

func (r *Registry) matchProvider(provider, model string) (Handler, bool) {
	type candidate struct {
		pattern string
		handler Handler
	}
	prefix := provider + "/"
	var candidates []candidate
	for key, h := range r.handlers {
		if !hasPrefix(key, prefix) {
			continue
		}
		pattern := key[len(prefix):]
		if pattern == model {
			continue // exact match already handled by the caller
		}
		ok, err := path.Match(pattern, model)
		if err != nil || !ok {
			continue
		}
		candidates = append(candidates, candidate{pattern: pattern, handler: h})
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i].pattern) > len(candidates[j].pattern) })
	return candidates[0].handler, true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// WarmStartAll invokes WarmStart on every distinct registered handler that
// implements WarmStarter, returning the first error encountered.
func (r *Registry) WarmStartAll(ctx context.Context) error {
	r.mu.RLock()
	seen := make(map[Handler]bool, len(r.handlers))
	var warmStarters []WarmStarter
	for _, h := range r.handlers {
		if seen[h] {
			continue
		}
		seen[h] = true
		if ws, ok := h.(WarmStarter); ok {
			warmStarters = append(warmStarters, ws)
		}
	}
	r.mu.RUnlock()

	for _, ws := range warmStarters {
		if err := ws.WarmStart(ctx); err != nil {
			return fmt.Errorf("handler: warm start: %w", err)
		}
	}
	return nil
}

// CodeHandlerNotFound is the stable R### error code surfaced when no
// registered handler matches a job's (provider, model) pair.
const CodeHandlerNotFound = "R004:HANDLER_NOT_FOUND"
