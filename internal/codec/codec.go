package codec

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/roach88/nodebook/internal/ir"
	"github.com/roach88/nodebook/internal/runtime"
)

// DefaultMaxDepth bounds container nesting during encoding.
const DefaultMaxDepth = 256

// Value kinds written to payloads.
const (
	KindNone     = "none"
	KindBool     = "bool"
	KindInt      = "int"
	KindFloat    = "float"
	KindString   = "string"
	KindBytes    = "bytes"
	KindList     = "list"
	KindTuple    = "tuple"
	KindSet      = "set"
	KindDict     = "dict"
	KindStruct   = "struct"
	KindTable    = "table"
	KindFunction = "function"
	KindBuiltin  = "builtin"
	KindModule   = "module"
	KindDuration = "duration"
	KindTime     = "time"
)

// Encoded is a value in stored form.
type Encoded struct {
	// Hash is the content address of Payload.
	Hash string

	// Payload is the canonical serialization. Dict entries and set items
	// keep their insertion order; Hash is taken over them sorted.
	Payload []byte
}

// Codec encodes and decodes values for one runtime. Builtins, modules and
// functions are resolved against that runtime.
type Codec struct {
	rt       *runtime.Runtime
	maxDepth int
}

// New creates a Codec bound to rt.
func New(rt *runtime.Runtime) *Codec {
	return &Codec{rt: rt, maxDepth: DefaultMaxDepth}
}

// Encode serializes v and computes its content hash.
func (c *Codec) Encode(v starlark.Value) (Encoded, error) {
	enc := &encoder{c: c, active: make(map[starlark.Value]bool)}
	tree, err := enc.value(v, "", 0)
	if err != nil {
		return Encoded{}, err
	}
	payload, err := ir.MarshalCanonical(ir.IRObject{
		"version": ir.IRString(ir.PayloadVersion),
		"value":   tree,
	})
	if err != nil {
		return Encoded{}, fmt.Errorf("encode %s: %w", v.Type(), err)
	}
	norm, err := hashForm(tree)
	if err != nil {
		return Encoded{}, fmt.Errorf("encode %s: %w", v.Type(), err)
	}
	_, hash, err := ir.ValueHash(ir.IRObject{
		"version": ir.IRString(ir.PayloadVersion),
		"value":   norm,
	})
	if err != nil {
		return Encoded{}, fmt.Errorf("encode %s: %w", v.Type(), err)
	}
	return Encoded{Hash: hash, Payload: payload}, nil
}

// Hash returns the content hash of v.
func (c *Codec) Hash(v starlark.Value) (string, error) {
	enc, err := c.Encode(v)
	if err != nil {
		return "", err
	}
	return enc.Hash, nil
}

// Decode rebuilds a value from a payload produced by Encode. Each call
// returns a new, unshared value.
func (c *Codec) Decode(payload []byte) (starlark.Value, error) {
	raw, err := ir.UnmarshalIRValue(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := raw.(ir.IRObject)
	if !ok {
		return nil, malformed("payload is not an object")
	}
	version, ok := obj["version"].(ir.IRString)
	if !ok || string(version) != ir.PayloadVersion {
		return nil, malformed("unsupported payload version %v", obj["version"])
	}
	tree, ok := obj["value"]
	if !ok {
		return nil, malformed("payload has no value")
	}
	dec := &decoder{c: c}
	return dec.value(tree)
}
