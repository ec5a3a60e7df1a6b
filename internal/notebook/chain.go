package notebook

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"

	"go.starlark.net/starlark"

	"github.com/roach88/nodebook/internal/analysis"
	"github.com/roach88/nodebook/internal/codec"
	"github.com/roach88/nodebook/internal/ir"
	"github.com/roach88/nodebook/internal/runtime"
	"github.com/roach88/nodebook/internal/store"
)

// InvalidLabel is the position label of an invalid node.
const InvalidLabel = "X"

// Position is one entry of Chain.Positions.
type Position struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// RunResult is what a successful run reports to the caller.
type RunResult struct {
	// Display is the value of the trailing bare expression, or nil.
	Display starlark.Value

	// Outputs holds the bindings the run changed or introduced.
	Outputs starlark.StringDict
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used for auto-heal notices.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = l
	}
}

// Chain is the ordered sequence of nodes of one notebook, together with the
// runtime that executes them and the store that holds their values.
type Chain struct {
	rt     *runtime.Runtime
	codec  *codec.Codec
	store  *store.Store
	logger *slog.Logger

	head  string
	nodes map[string]*Node
}

// New creates an empty chain. Values are encoded with the store's codec,
// which must be bound to rt.
func New(rt *runtime.Runtime, st *store.Store, opts ...Option) *Chain {
	c := &Chain{
		rt:     rt,
		codec:  st.Codec(),
		store:  st,
		logger: slog.Default(),
		nodes:  make(map[string]*Node),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Head returns the id of the first node, "" when the chain is empty.
func (c *Chain) Head() string {
	return c.head
}

// Len returns the number of nodes.
func (c *Chain) Len() int {
	return len(c.nodes)
}

// Node returns the node with the given id.
func (c *Chain) Node(id string) (*Node, bool) {
	n, ok := c.nodes[ir.NormalizeID(id)]
	return n, ok
}

// Nodes returns every node in chain order.
func (c *Chain) Nodes() []*Node {
	out := make([]*Node, 0, len(c.nodes))
	for id := c.head; id != ""; id = c.nodes[id].next {
		out = append(out, c.nodes[id])
	}
	return out
}

func (c *Chain) lookup(id string) (*Node, error) {
	n, ok := c.nodes[ir.NormalizeID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return n, nil
}

// index returns the 0-based distance of a node from the head.
func (c *Chain) index(id string) int {
	i := 0
	for cur := c.nodes[id].prev; cur != ""; cur = c.nodes[cur].prev {
		i++
	}
	return i
}

// InsertOrMove creates the node if it is unknown and places it immediately
// after the node named by after, or at the head when after is "". An after
// that names no node is ErrUnknownNode; it never falls back to the head.
// Repeating a call with the same arguments leaves the chain unchanged.
//
// Moving a node that has outputs invalidates the consumers whose visible
// binding it changes, at both its old and its new position. The moved node
// keeps its own state until it runs.
func (c *Chain) InsertOrMove(id, after string) error {
	id, after = ir.NormalizeID(id), ir.NormalizeID(after)
	if id == "" {
		return errors.New("insert: empty node id")
	}
	if id == after {
		return fmt.Errorf("insert %q: cannot place a node after itself", id)
	}

	var target *Node
	if after != "" {
		t, ok := c.nodes[after]
		if !ok {
			return fmt.Errorf("insert %q after %q: %w", id, after, ErrUnknownNode)
		}
		target = t
	}

	n, ok := c.nodes[id]
	if !ok {
		n = newNode(id)
		c.nodes[id] = n
	} else if target == nil && c.head == id {
		return nil
	} else if target != nil && n.prev == after {
		return nil
	}

	c.propagate(id, n.outputs)
	c.detach(n)

	if target == nil {
		n.next = c.head
		if c.head != "" {
			c.nodes[c.head].prev = id
		}
		c.head = id
	} else {
		n.prev = after
		n.next = target.next
		if target.next != "" {
			c.nodes[target.next].prev = id
		}
		target.next = id
	}
	c.propagate(id, n.outputs)
	return nil
}

// detach unlinks n, joining its neighbours.
func (c *Chain) detach(n *Node) {
	if n.prev != "" {
		c.nodes[n.prev].next = n.next
	} else if c.head == n.id {
		c.head = n.next
	}
	if n.next != "" {
		c.nodes[n.next].prev = n.prev
	}
	n.prev, n.next = "", ""
}

// UpdateCode replaces the code of an existing node. See Node.UpdateCode.
func (c *Chain) UpdateCode(id, code string) error {
	n, err := c.lookup(id)
	if err != nil {
		return err
	}
	return n.UpdateCode(code)
}

// Resolve returns the hash that name has as seen by node id: the output of
// the nearest preceding node that binds it. Stale ancestors on the way are
// re-run first. A builtin with no binding resolves to "".
func (c *Chain) Resolve(id, name string) (string, error) {
	n, err := c.lookup(id)
	if err != nil {
		return "", err
	}
	hashes, err := c.prepare(n.id, []string{name})
	if err != nil {
		return "", err
	}
	return hashes[name], nil
}

// prepare resolves names for node id, re-running stale ancestors until every
// name resolves to a valid node. Ancestors are healed with an explicit stack:
// each entry waits until the nodes it depends on are valid.
func (c *Chain) prepare(id string, names []string) (map[string]string, error) {
	stack := []string{id}
	for {
		top := stack[len(stack)-1]
		want := names
		if top != id {
			want = c.nodes[top].staticInputs
		}

		hashes, stale, err := c.bind(top, want)
		if err != nil {
			return nil, err
		}
		if stale != "" {
			stack = append(stack, stale)
			continue
		}
		if top == id {
			return hashes, nil
		}

		stack = stack[:len(stack)-1]
		c.logger.Info("auto-running invalidated node",
			"node", top,
			"position", c.index(top)+1,
			"for", id,
		)
		if _, err := c.execute(c.nodes[top], hashes); err != nil {
			return nil, err
		}
	}
}

// bind looks up each name above node id without running anything. It
// returns the resolved hashes, or the id of the first stale node that binds
// one of the names. Undefined names are reported before any stale node.
func (c *Chain) bind(id string, names []string) (map[string]string, string, error) {
	hashes := make(map[string]string, len(names))
	stale := ""
	for _, name := range names {
		owner := c.owner(id, name)
		if owner == nil {
			if c.rt.IsBuiltin(name) {
				continue
			}
			return nil, "", &UndefinedNameError{Node: id, Name: name}
		}
		if !owner.valid {
			if stale == "" {
				stale = owner.id
			}
			continue
		}
		hashes[name] = owner.outputs[name]
	}
	return hashes, stale, nil
}

// owner returns the nearest node before id whose outputs bind name.
func (c *Chain) owner(id, name string) *Node {
	for cur := c.nodes[id].prev; cur != ""; cur = c.nodes[cur].prev {
		n := c.nodes[cur]
		if _, ok := n.outputs[name]; ok {
			return n
		}
	}
	return nil
}

// Run resolves the node's inputs, executes it and commits the result.
func (c *Chain) Run(id string) (*RunResult, error) {
	n, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	hashes, err := c.prepare(n.id, n.staticInputs)
	if err != nil {
		return nil, err
	}
	return c.execute(n, hashes)
}

// InsertAndRun places the node, replaces its code and runs it.
func (c *Chain) InsertAndRun(id, after, code string) (*RunResult, error) {
	if err := c.InsertOrMove(id, after); err != nil {
		return nil, err
	}
	if err := c.UpdateCode(id, code); err != nil {
		return nil, err
	}
	return c.Run(id)
}

// execute runs n with already resolved input hashes and commits the outcome.
func (c *Chain) execute(n *Node, hashes map[string]string) (*RunResult, error) {
	values := make(starlark.StringDict, len(hashes))
	for name, hash := range hashes {
		v, err := c.store.Get(hash)
		if err != nil {
			return nil, fmt.Errorf("node %s: input %q: %w", n.id, name, err)
		}
		values[name] = v
	}

	out, err := n.run(c.rt, c.codec, values, hashes)
	if err != nil {
		return nil, err
	}
	if err := c.commit(n, out); err != nil {
		return nil, err
	}
	return &RunResult{Display: out.display, Outputs: out.values}, nil
}

// commit moves the store references from n's old outputs to the new ones,
// records the outcome on n and invalidates affected descendants.
func (c *Chain) commit(n *Node, out *outcome) error {
	old := n.outputs

	var added []string
	for _, name := range out.values.Keys() {
		hash := out.outputs[name]
		if old[name] == hash {
			continue
		}
		if err := c.store.PutEncoded(out.encoded[name]); err != nil {
			c.rollback(added)
			return fmt.Errorf("node %s: store %q: %w", n.id, name, err)
		}
		added = append(added, hash)
	}

	changed := make(map[string]string)
	for name, hash := range old {
		if out.outputs[name] == hash {
			continue
		}
		changed[name] = hash
		if err := c.store.Decref(hash); err != nil {
			c.logger.Warn("failed to release superseded value",
				"node", n.id,
				"name", name,
				"hash", hash,
				"error", err,
			)
		}
	}
	for name := range out.outputs {
		if _, ok := old[name]; !ok {
			changed[name] = Wildcard
		}
	}

	n.apply(out)
	c.propagate(n.id, changed)
	return nil
}

func (c *Chain) rollback(hashes []string) {
	for _, hash := range hashes {
		if err := c.store.Decref(hash); err != nil {
			c.logger.Warn("rollback failed", "hash", hash, "error", err)
		}
	}
}

// propagate invalidates every descendant of id that consumed a changed
// binding, then the descendants of each newly invalidated node that
// consumed one of its outputs.
//
// A changed name reaches a descendant only while no node in between binds
// it. Past that point the descendant reads the shadowing binding, so the
// change is invisible to it. Wildcard names reach every consumer.
func (c *Chain) propagate(id string, changed map[string]string) {
	type pending struct {
		from    string
		changed map[string]string
	}
	work := []pending{{from: id, changed: changed}}
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]
		if len(p.changed) == 0 {
			continue
		}
		shadowed := make(map[string]bool)
		for cur := c.nodes[p.from].next; cur != ""; cur = c.nodes[cur].next {
			child := c.nodes[cur]
			if child.invalidate(visible(p.changed, shadowed)) {
				work = append(work, pending{from: cur, changed: child.outputs})
			}
			for name := range child.outputs {
				shadowed[name] = true
			}
		}
	}
}

// visible returns the changed names a descendant can see. The descendant
// resolves each of them to the changed node, so whatever hash it recorded
// is stale and the name is widened to Wildcard.
func visible(changed map[string]string, shadowed map[string]bool) map[string]string {
	out := make(map[string]string, len(changed))
	for name, hash := range changed {
		if hash == Wildcard || !shadowed[name] {
			out[name] = Wildcard
		}
	}
	return out
}

// Invalidate marks a node invalid unconditionally and propagates to the
// descendants that consumed its outputs.
func (c *Chain) Invalidate(id string) error {
	n, err := c.lookup(id)
	if err != nil {
		return err
	}
	if n.invalidate(nil) {
		c.propagate(n.id, n.outputs)
	}
	return nil
}

// Positions returns every node in chain order with its prompt label: "X"
// for an invalid node, otherwise its 1-based position.
func (c *Chain) Positions() []Position {
	out := make([]Position, 0, c.Len())
	i := 1
	for id := c.head; id != ""; id = c.nodes[id].next {
		label := InvalidLabel
		if c.nodes[id].valid {
			label = strconv.Itoa(i)
		}
		out = append(out, Position{ID: id, Label: label})
		i++
	}
	return out
}

// Snapshot returns the persisted form of the chain, head first.
func (c *Chain) Snapshot() store.ChainRecord {
	rec := store.ChainRecord{EngineVersion: ir.EngineVersion}
	for _, n := range c.Nodes() {
		rec.Nodes = append(rec.Nodes, store.NodeRecord{
			ID:      n.id,
			Code:    n.code,
			Valid:   n.valid,
			Inputs:  n.InputBindings(),
			Outputs: n.OutputBindings(),
		})
	}
	return rec
}

// Restore rebuilds an empty chain from a snapshot. Static sets are derived
// again from each node's code. Store refcounts are not touched; restore
// them from rec.Refcounts.
func (c *Chain) Restore(rec store.ChainRecord) error {
	if len(c.nodes) != 0 {
		return errors.New("restore: chain is not empty")
	}

	nodes := make(map[string]*Node, len(rec.Nodes))
	prev := ""
	head := ""
	for _, r := range rec.Nodes {
		id := ir.NormalizeID(r.ID)
		if id == "" {
			return errors.New("restore: empty node id")
		}
		if _, dup := nodes[id]; dup {
			return fmt.Errorf("restore: duplicate node %q", id)
		}
		n := newNode(id)
		if r.Code != "" {
			res, err := analysis.Analyze(r.Code)
			if err != nil {
				return fmt.Errorf("restore: node %q: %w", id, err)
			}
			n.staticInputs = res.Inputs
			n.staticImports = res.Imports
		}
		n.code = r.Code
		n.valid = r.Valid
		if r.Inputs != nil {
			n.inputs = maps.Clone(r.Inputs)
		}
		if r.Outputs != nil {
			n.outputs = maps.Clone(r.Outputs)
		}

		n.prev = prev
		if prev == "" {
			head = id
		} else {
			nodes[prev].next = id
		}
		nodes[id] = n
		prev = id
	}

	c.nodes = nodes
	c.head = head
	return nil
}
