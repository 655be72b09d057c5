// Package ident implements the canonical identifier grammar for inputs,
// artifacts, and producers. Every other component in the engine treats IDs
// as opaque strings and must go through this package to construct or
// inspect one; nowhere else may an ID be built by ad-hoc string
// concatenation.
package ident

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which canonical ID variant a string carries.
type Kind int

const (
	// KindInput marks an Input:<alias>.<key> identifier.
	KindInput Kind = iota
	// KindArtifact marks an Artifact:<producerAlias>.<outputName> identifier.
	KindArtifact
	// KindProducer marks a Producer:<alias> identifier.
	KindProducer
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "Input"
	case KindArtifact:
		return "Artifact"
	case KindProducer:
		return "Producer"
	default:
		return "Unknown"
	}
}

// SelectorKind distinguishes a loop-index selector's two forms.
type SelectorKind int

const (
	// SelectorConst is a concrete, resolved loop index, e.g. "[2]".
	SelectorConst SelectorKind = iota
	// SelectorLoop is a symbolic offset from a loop variable, e.g. "[i+1]".
	SelectorLoop
)

// Selector is a parsed loop-index suffix. The base for symbolic selectors is
// zero, matching the observed zero-based indexing convention; this is
// documented rather than assumed (see design notes on loop indices).
type Selector struct {
	Kind   SelectorKind
	Value  int    // valid when Kind == SelectorConst
	Symbol string // valid when Kind == SelectorLoop
	Offset int    // valid when Kind == SelectorLoop
}

func (s Selector) String() string {
	if s.Kind == SelectorConst {
		return strconv.Itoa(s.Value)
	}
	if s.Offset == 0 {
		return s.Symbol
	}
	return fmt.Sprintf("%s+%d", s.Symbol, s.Offset)
}

// ID is the parsed form of a canonical identifier string.
type ID struct {
	Kind Kind

	// Alias is the dotted producer namespace path. Empty for a top-level
	// input/producer. For artifacts, Alias is the producing producer's path.
	Alias string

	// Name is the input key or artifact output name. Unset for producer IDs.
	Name string

	// Selector is the loop-index suffix, if any.
	Selector *Selector
}

// InvalidId reports a canonical ID string that does not match the grammar.
type InvalidId struct {
	Raw string
	Err error
}

func (e *InvalidId) Error() string {
	return fmt.Sprintf("invalid id %q: %v", e.Raw, e.Err)
}

func (e *InvalidId) Unwrap() error { return e.Err }

// InvalidLoopSelector reports a malformed "[...]" suffix.
type InvalidLoopSelector struct {
	Raw string
	Err error
}

func (e *InvalidLoopSelector) Error() string {
	return fmt.Sprintf("invalid loop selector in %q: %v", e.Raw, e.Err)
}

func (e *InvalidLoopSelector) Unwrap() error { return e.Err }

const (
	inputPrefix    = "Input:"
	artifactPrefix = "Artifact:"
	producerPrefix = "Producer:"
)

// IsInputId reports whether raw carries the Input: prefix.
func IsInputId(raw string) bool { return strings.HasPrefix(raw, inputPrefix) }

// IsArtifactId reports whether raw carries the Artifact: prefix.
func IsArtifactId(raw string) bool { return strings.HasPrefix(raw, artifactPrefix) }

// IsProducerId reports whether raw carries the Producer: prefix.
func IsProducerId(raw string) bool { return strings.HasPrefix(raw, producerPrefix) }

// Parse decodes a canonical ID string into its structured form.
func Parse(raw string) (ID, error) {
	var kind Kind
	var rest string
	switch {
	case IsInputId(raw):
		kind = KindInput
		rest = raw[len(inputPrefix):]
	case IsArtifactId(raw):
		kind = KindArtifact
		rest = raw[len(artifactPrefix):]
	case IsProducerId(raw):
		kind = KindProducer
		rest = raw[len(producerPrefix):]
	default:
		return ID{}, &InvalidId{Raw: raw, Err: fmt.Errorf("missing Input:/Artifact:/Producer: prefix")}
	}

	body, selector, err := splitSelector(rest)
	if err != nil {
		return ID{}, &InvalidId{Raw: raw, Err: err}
	}

	if kind == KindProducer {
		if body == "" {
			return ID{}, &InvalidId{Raw: raw, Err: fmt.Errorf("producer alias must not be empty")}
		}
		return ID{Kind: kind, Alias: body, Selector: selector}, nil
	}

	// Input/Artifact: "<alias>.<name>", alias may be empty ("." + name).
	idx := strings.LastIndex(body, ".")
	if idx < 0 {
		return ID{}, &InvalidId{Raw: raw, Err: fmt.Errorf("missing '.' separating alias from name")}
	}
	alias := body[:idx]
	name := body[idx+1:]
	if name == "" {
		return ID{}, &InvalidId{Raw: raw, Err: fmt.Errorf("name must not be empty")}
	}

	return ID{Kind: kind, Alias: alias, Name: name, Selector: selector}, nil
}

// splitSelector strips and parses a trailing "[...]" suffix, if present.
func splitSelector(s string) (body string, sel *Selector, err error) {
	if !strings.HasSuffix(s, "]") {
		return s, nil, nil
	}
	open := strings.LastIndex(s, "[")
	if open < 0 {
		return "", nil, &InvalidLoopSelector{Raw: s, Err: fmt.Errorf("unmatched ']'")}
	}
	body = s[:open]
	inner := s[open+1 : len(s)-1]
	if inner == "" {
		return "", nil, &InvalidLoopSelector{Raw: s, Err: fmt.Errorf("empty selector")}
	}

	if v, err := strconv.Atoi(inner); err == nil {
		return body, &Selector{Kind: SelectorConst, Value: v}, nil
	}

	if plus := strings.IndexByte(inner, '+'); plus >= 0 {
		symbol := inner[:plus]
		offsetStr := inner[plus+1:]
		if symbol == "" {
			return "", nil, &InvalidLoopSelector{Raw: s, Err: fmt.Errorf("empty loop symbol")}
		}
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return "", nil, &InvalidLoopSelector{Raw: s, Err: fmt.Errorf("bad offset %q: %w", offsetStr, err)}
		}
		return body, &Selector{Kind: SelectorLoop, Symbol: symbol, Offset: offset}, nil
	}

	// Bare symbol with implicit zero offset, e.g. "[i]".
	return body, &Selector{Kind: SelectorLoop, Symbol: inner, Offset: 0}, nil
}

// Format reconstructs the canonical string form of an ID.
func Format(id ID) string {
	var b strings.Builder
	b.WriteString(id.Kind.String())
	b.WriteByte(':')

	switch id.Kind {
	case KindProducer:
		b.WriteString(id.Alias)
	default:
		b.WriteString(id.Alias)
		b.WriteByte('.')
		b.WriteString(id.Name)
	}

	if id.Selector != nil {
		b.WriteByte('[')
		b.WriteString(id.Selector.String())
		b.WriteByte(']')
	}

	return b.String()
}

// FormatProducerAlias joins a namespace path and a local producer name with
// ".", eliding the separator when namespacePath is empty.
func FormatProducerAlias(namespacePath, localName string) string {
	if namespacePath == "" {
		return localName
	}
	return namespacePath + "." + localName
}
