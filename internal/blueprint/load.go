package blueprint

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a blueprint as JSON from path. This is a thin convenience
// for the CLI, not a dataflow grammar of its own: the system treats the
// blueprint tree as something a caller already has in hand, and JSON is
// simply the serialization this loader accepts it in.
func LoadFile(path string) (*Blueprint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blueprint: reading %s: %w", path, err)
	}
	var bp Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return nil, fmt.Errorf("blueprint: decoding %s: %w", path, err)
	}
	return &bp, nil
}

// LoadInputsFile reads a resolved-input map (canonical Input:... ID ->
// value) as JSON from path.
func LoadInputsFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blueprint: reading inputs %s: %w", path, err)
	}
	var inputs map[string]any
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return nil, fmt.Errorf("blueprint: decoding inputs %s: %w", path, err)
	}
	return inputs, nil
}
