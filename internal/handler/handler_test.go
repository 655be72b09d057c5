package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	name string
}

func (s *stubHandler) Invoke(_ context.Context, jc JobContext) (ProviderResult, error) {
	return ProviderResult{Status: StatusSucceeded}, nil
}

func TestRegistry_ExactMatch(t *testing.T) {
	r := NewRegistry()
	exact := &stubHandler{name: "exact"}
	r.Register("openai", "gpt-4o", exact)

	h, err := r.Lookup("openai", "gpt-4o")
	require.NoError(t, err)
	assert.Same(t, exact, h)
}

func TestRegistry_GlobFallbackWithinProvider(t *testing.T) {
	r := NewRegistry()
	wildcard := &stubHandler{name: "wildcard"}
	r.Register("openai", "gpt-4*", wildcard)

	h, err := r.Lookup("openai", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Same(t, wildcard, h)
}

func TestRegistry_MostSpecificGlobWins(t *testing.T) {
	r := NewRegistry()
	broad := &stubHandler{name: "broad"}
	narrow := &stubHandler{name: "narrow"}
	r.Register("openai", "*", broad)
	r.Register("openai", "gpt-4*", narrow)

	h, err := r.Lookup("openai", "gpt-4o")
	require.NoError(t, err)
	assert.Same(t, narrow, h)
}

func TestRegistry_ProviderWildcardFallback(t *testing.T) {
	r := NewRegistry()
	catchAll := &stubHandler{name: "catch-all"}
	r.Register("*", "*", catchAll)

	h, err := r.Lookup("anything", "whatever")
	require.NoError(t, err)
	assert.Same(t, catchAll, h)
}

func TestRegistry_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("openai", "gpt-4o")
	require.Error(t, err)
	assert.Contains(t, err.Error(), CodeHandlerNotFound)
}

type warmStub struct {
	stubHandler
	started bool
}

func (w *warmStub) WarmStart(_ context.Context) error {
	w.started = true
	return nil
}

func TestRegistry_WarmStartAll(t *testing.T) {
	r := NewRegistry()
	w := &warmStub{}
	r.Register("openai", "*", w)

	require.NoError(t, r.WarmStartAll(context.Background()))
	assert.True(t, w.started)
}
