package notebook

import (
	"fmt"
	"maps"
	"slices"

	"go.starlark.net/starlark"

	"github.com/roach88/nodebook/internal/analysis"
	"github.com/roach88/nodebook/internal/codec"
	"github.com/roach88/nodebook/internal/runtime"
)

// Wildcard is the invalidation hash that matches any recorded input hash.
// It is carried by names a run introduced, since no earlier binding exists
// to compare against.
const Wildcard = "*"

// Node is one cell of a chain. Its fields are owned by the Chain; callers
// read them through the accessor methods, which return copies.
type Node struct {
	id   string
	code string

	staticInputs  []string
	staticImports []string

	// inputs and outputs map variable name to content hash as of the last
	// successful run.
	inputs  map[string]string
	outputs map[string]string

	valid bool

	prev string
	next string
}

// newNode returns an empty node. New nodes are valid with no code, so an
// unrun cell never forces a re-run of anything.
func newNode(id string) *Node {
	return &Node{
		id:      id,
		inputs:  map[string]string{},
		outputs: map[string]string{},
		valid:   true,
	}
}

func (n *Node) ID() string   { return n.id }
func (n *Node) Code() string { return n.code }
func (n *Node) Valid() bool  { return n.valid }

// Prev returns the id of the preceding node, "" for the head.
func (n *Node) Prev() string { return n.prev }

// Next returns the id of the following node, "" for the tail.
func (n *Node) Next() string { return n.next }

// StaticInputs returns the free names of the code, sorted.
func (n *Node) StaticInputs() []string { return slices.Clone(n.staticInputs) }

// StaticImports returns the modules the code loads, sorted.
func (n *Node) StaticImports() []string { return slices.Clone(n.staticImports) }

// InputBindings returns the name -> hash bindings used by the last run.
func (n *Node) InputBindings() map[string]string { return maps.Clone(n.inputs) }

// OutputBindings returns the bindings the last run changed or introduced.
func (n *Node) OutputBindings() map[string]string { return maps.Clone(n.outputs) }

// UpdateCode analyzes code and, if it parses, replaces the node's code and
// static sets and marks the node invalid. On *analysis.SyntaxError the node
// is left unchanged.
func (n *Node) UpdateCode(code string) error {
	res, err := analysis.Analyze(code)
	if err != nil {
		return err
	}
	n.code = code
	n.staticInputs = res.Inputs
	n.staticImports = res.Imports
	n.valid = false
	return nil
}

// outcome is the uncommitted result of executing a node.
type outcome struct {
	display starlark.Value

	inputs  map[string]string
	outputs map[string]string

	// values and encoded hold the live value and stored form of each output.
	values  starlark.StringDict
	encoded map[string]codec.Encoded
}

// run executes the node's code with values as the initial environment.
// hashes holds the content hash of each entry in values. The node itself is
// not modified; see apply.
func (n *Node) run(rt *runtime.Runtime, c *codec.Codec, values starlark.StringDict, hashes map[string]string) (*outcome, error) {
	res, err := rt.Exec(n.code, values)
	if err != nil {
		return nil, &ExecutionError{Node: n.id, Err: err}
	}

	out := &outcome{
		display: res.Display,
		inputs:  maps.Clone(hashes),
		outputs: map[string]string{},
		values:  starlark.StringDict{},
		encoded: map[string]codec.Encoded{},
	}
	if out.inputs == nil {
		out.inputs = map[string]string{}
	}

	for _, name := range res.Globals.Keys() {
		v := res.Globals[name]
		enc, err := c.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("node %s: binding %q: %w", n.id, name, err)
		}
		if hashes[name] == enc.Hash {
			continue
		}
		out.outputs[name] = enc.Hash
		out.values[name] = v
		out.encoded[name] = enc
	}
	return out, nil
}

// apply records a committed outcome.
func (n *Node) apply(out *outcome) {
	n.inputs = out.inputs
	n.outputs = out.outputs
	n.valid = true
}

// invalidate marks a valid node invalid. With a nil changed set the node is
// invalidated unconditionally. Otherwise it is invalidated only if it
// consumed one of the changed names at the given hash, or at any hash when
// the changed hash is Wildcard. It reports whether the node went from valid
// to invalid.
func (n *Node) invalidate(changed map[string]string) bool {
	if !n.valid {
		return false
	}
	if changed != nil && !n.consumes(changed) {
		return false
	}
	n.valid = false
	return true
}

func (n *Node) consumes(changed map[string]string) bool {
	for name, hash := range changed {
		recorded, ok := n.inputs[name]
		if !ok {
			continue
		}
		if hash == Wildcard || hash == recorded {
			return true
		}
	}
	return false
}
