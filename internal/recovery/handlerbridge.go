package recovery

import (
	"context"
	"fmt"

	"github.com/jmylchreest/movieforge/internal/handler"
)

// JobProber is an optional extension a handler.Handler may satisfy to let
// the recovery pre-pass check on a previously-reported job through the
// same credentials and client it invokes jobs with. A handler with nothing
// externally-polled to report on need not implement it.
type JobProber interface {
	ProbeJob(ctx context.Context, requestId string) (ProbeResult, error)
}

// JobFetcher is an optional extension a handler.Handler may satisfy to
// download a completed job's output bytes from a URL its JobProber
// reported.
type JobFetcher interface {
	FetchOutput(ctx context.Context, url string) ([]byte, error)
}

// FromHandlers builds a Prober/Fetcher pair that resolve a provider's
// registered handler (glob model "*") and delegate to it, for providers
// whose handler implements JobProber/JobFetcher. Run always probes before
// fetching for a given artifact, so the returned Fetcher can close over
// the provider its paired Probe call last resolved rather than needing
// its own provider parameter — this holds only because Run visits
// artifacts one at a time, never concurrently.
func FromHandlers(handlers *handler.Registry) (Prober, Fetcher) {
	var lastProvider string

	probe := func(ctx context.Context, provider, requestId string) (ProbeResult, error) {
		lastProvider = provider
		h, err := handlers.Lookup(provider, "*")
		if err != nil {
			return ProbeResult{}, fmt.Errorf("recovery: resolving handler for provider %s: %w", provider, err)
		}
		prober, ok := h.(JobProber)
		if !ok {
			return ProbeResult{}, fmt.Errorf("recovery: handler for provider %s does not support probing", provider)
		}
		return prober.ProbeJob(ctx, requestId)
	}

	fetch := func(ctx context.Context, url string) ([]byte, error) {
		h, err := handlers.Lookup(lastProvider, "*")
		if err != nil {
			return nil, fmt.Errorf("recovery: resolving handler for provider %s: %w", lastProvider, err)
		}
		fetcher, ok := h.(JobFetcher)
		if !ok {
			return nil, fmt.Errorf("recovery: handler for provider %s does not support fetching", lastProvider)
		}
		return fetcher.FetchOutput(ctx, url)
	}

	return probe, fetch
}
