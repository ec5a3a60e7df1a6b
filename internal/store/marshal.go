package store

import (
	"fmt"

	"github.com/roach88/nodebook/internal/ir"
)

// marshalBindings converts a name -> hash map to canonical JSON TEXT.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalBindings(bindings map[string]string) (string, error) {
	obj := make(ir.IRObject, len(bindings))
	for name, hash := range bindings {
		obj[name] = ir.IRString(hash)
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal bindings: %w", err)
	}
	return string(data), nil
}

// unmarshalBindings parses canonical JSON TEXT to a name -> hash map.
func unmarshalBindings(data string) (map[string]string, error) {
	out := make(map[string]string)
	if data == "" || data == "{}" {
		return out, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal bindings: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("unmarshal bindings: got %T, want object", v)
	}
	for name, v := range obj {
		hash, ok := v.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("unmarshal bindings: %q is %T, want string", name, v)
		}
		out[name] = string(hash)
	}
	return out, nil
}

// Refcounts derives value reference counts from a chain record: one
// reference per output binding.
func (rec *ChainRecord) Refcounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range rec.Nodes {
		for _, hash := range n.Outputs {
			counts[hash]++
		}
	}
	return counts
}
