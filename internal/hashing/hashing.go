// Package hashing implements deterministic canonicalization and SHA-256
// fingerprinting of input values and producer outputs. Every
// freshness decision the planner makes rests on these primitives producing
// the same hash for the same logical value regardless of how that value was
// constructed or in what order its object keys were populated.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Canonicalize recursively normalizes v into a tree of maps, slices, and
// scalars: structs and maps become key-sorted objects (sorting happens at
// encode time via encoding/json's native map-key ordering), arrays preserve
// element order, and non-finite floats stringify since they have no JSON
// representation. The result is stable across platforms and across
// equivalent Go representations (struct vs. map) of the same logical value.
func Canonicalize(v any) any {
	return normalize(reflect.ValueOf(v))
}

func normalize(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem())

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = normalize(iter.Value())
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		return normalizeSequence(rv)

	case reflect.Array:
		return normalizeSequence(rv)

	case reflect.Struct:
		return normalizeStruct(rv)

	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprintf("%v", f)
		}
		return f

	default:
		return rv.Interface()
	}
}

func normalizeSequence(rv reflect.Value) any {
	n := rv.Len()
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = normalize(rv.Index(i))
	}
	return out
}

func normalizeStruct(rv reflect.Value) any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		name := field.Name
		omitempty := false
		if tag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" {
					omitempty = true
				}
			}
		}
		fv := rv.Field(i)
		if omitempty && fv.IsZero() {
			continue
		}
		out[name] = normalize(fv)
	}
	return out
}

// Hash computes sha256_hex(canonicalize(v)).
func Hash(v any) (string, error) {
	canon := Canonicalize(v)
	data, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("encoding canonical value: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MustHash is Hash for values that are known-encodable (constants, already
// canonicalized trees); it panics on the programmer error of an unencodable
// value rather than threading an error through call sites that can't fail.
func MustHash(v any) string {
	h, err := Hash(v)
	if err != nil {
		panic(fmt.Sprintf("hashing: unencodable value: %v", err))
	}
	return h
}

// InputValueHash hashes a resolved input value: a JSON scalar/object for
// plain inputs, or a blob-reference triple for binary inputs.
func InputValueHash(value any) (string, error) {
	return Hash(value)
}

// ArtefactOutputHash hashes a producer's output, including any embedded
// blob reference.
func ArtefactOutputHash(output any) (string, error) {
	return Hash(output)
}

// JobInputsHash hashes the sorted sequence of stored hashes for a job's
// input IDs. resolve maps a canonical input or artifact ID to its currently
// recorded hash (the manifest's input hash, or its producing artifact's
// hash); a missing mapping is a caller bug and returns an error rather than
// silently hashing an incomplete set.
func JobInputsHash(inputIDs []string, resolve func(id string) (hash string, ok bool)) (string, error) {
	sorted := make([]string, len(inputIDs))
	copy(sorted, inputIDs)
	sort.Strings(sorted)

	resolved := make([]string, 0, len(sorted))
	for _, id := range sorted {
		h, ok := resolve(id)
		if !ok {
			return "", fmt.Errorf("hashing: no stored hash for input %s", id)
		}
		resolved = append(resolved, h)
	}
	return Hash(resolved)
}
