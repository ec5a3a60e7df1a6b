// Package export flattens a node and the ancestors it depends on into a
// standalone script.
//
// Each included cell becomes a function taking its inputs as parameters and
// returning its outputs as a dict; the target cell returns its display
// expression when it has one. A main function threads the values from cell
// to cell. Load statements are hoisted to the top of the script.
package export

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/nodebook/internal/analysis"
	"github.com/roach88/nodebook/internal/notebook"
)

const indent = "    "

// ErrStale is returned when the target node is invalid.
var ErrStale = errors.New("node is invalid; run it before exporting")

// MissingDependencyError reports inputs no ancestor provides at the
// recorded hash.
type MissingDependencyError struct {
	Node    string
	Missing []string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("export %s: could not find input dependencies: %s", e.Node, strings.Join(e.Missing, ", "))
}

// IsMissingDependencyError returns true if err is or wraps a
// MissingDependencyError.
func IsMissingDependencyError(err error) bool {
	var me *MissingDependencyError
	return errors.As(err, &me)
}

// Options controls the generated script.
type Options struct {
	// Main names the entry function. Default "main".
	Main string

	// NoCall omits the trailing call of the entry function.
	NoCall bool
}

type binding struct {
	name string
	hash string
}

type cell struct {
	node     *notebook.Node
	position int
	frag     *analysis.Fragment
}

func (c *cell) funcName() string {
	return fmt.Sprintf("cell_%d", c.position)
}

// Export returns the minimal script that recomputes node id.
func Export(chain *notebook.Chain, id string, opts Options) (string, error) {
	if opts.Main == "" {
		opts.Main = "main"
	}

	target, ok := chain.Node(id)
	if !ok {
		return "", fmt.Errorf("export %q: %w", id, notebook.ErrUnknownNode)
	}
	if !target.Valid() {
		return "", fmt.Errorf("export %s: %w", target.ID(), ErrStale)
	}

	positions := make(map[string]int)
	for i, p := range chain.Positions() {
		positions[p.ID] = i + 1
	}

	depends := map[binding]bool{}
	addInputs(depends, target)
	avail := map[binding]bool{}

	included := []*notebook.Node{target}
	for n := target; !satisfied(depends, avail) && n.Prev() != ""; {
		n, _ = chain.Node(n.Prev())
		outs := pairs(n.OutputBindings())
		if !intersects(depends, outs) {
			continue
		}
		for _, b := range outs {
			avail[b] = true
		}
		addInputs(depends, n)
		included = append(included, n)
	}

	if missing := unmet(depends, avail); len(missing) > 0 {
		return "", &MissingDependencyError{Node: target.ID(), Missing: missing}
	}

	slices.Reverse(included)
	cells := make([]*cell, 0, len(included))
	for _, n := range included {
		frag, err := analysis.Extract(n.Code())
		if err != nil {
			return "", fmt.Errorf("export %s: node %s: %w", target.ID(), n.ID(), err)
		}
		cells = append(cells, &cell{node: n, position: positions[n.ID()], frag: frag})
	}

	return render(cells, opts), nil
}

func addInputs(depends map[binding]bool, n *notebook.Node) {
	for _, b := range pairs(n.InputBindings()) {
		depends[b] = true
	}
}

func pairs(m map[string]string) []binding {
	out := make([]binding, 0, len(m))
	for name, hash := range m {
		out = append(out, binding{name: name, hash: hash})
	}
	return out
}

func intersects(depends map[binding]bool, bs []binding) bool {
	for _, b := range bs {
		if depends[b] {
			return true
		}
	}
	return false
}

func satisfied(depends, avail map[binding]bool) bool {
	for b := range depends {
		if !avail[b] {
			return false
		}
	}
	return true
}

func unmet(depends, avail map[binding]bool) []string {
	var missing []string
	for b := range depends {
		if !avail[b] {
			missing = append(missing, b.name)
		}
	}
	slices.Sort(missing)
	return slices.Compact(missing)
}

func render(cells []*cell, opts Options) string {
	var b strings.Builder

	var loads []string
	for _, c := range cells {
		for _, l := range c.frag.Loads {
			if !slices.Contains(loads, l) {
				loads = append(loads, l)
			}
		}
	}
	for _, l := range loads {
		b.WriteString(l)
		b.WriteString("\n")
	}
	if len(loads) > 0 {
		b.WriteString("\n")
	}

	last := len(cells) - 1
	for i, c := range cells {
		renderCell(&b, c, i == last)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "def %s():\n", opts.Main)
	fmt.Fprintf(&b, "%senv = {}\n", indent)
	for i, c := range cells {
		call := fmt.Sprintf("%s(%s)", c.funcName(), callArgs(c))
		if i == last {
			fmt.Fprintf(&b, "%sreturn %s\n", indent, call)
			continue
		}
		fmt.Fprintf(&b, "%senv.update(%s)\n", indent, call)
	}

	if !opts.NoCall {
		fmt.Fprintf(&b, "\n%s()\n", opts.Main)
	}
	return b.String()
}

func renderCell(b *strings.Builder, c *cell, target bool) {
	fmt.Fprintf(b, "def %s(%s):\n", c.funcName(), strings.Join(params(c), ", "))
	if body := strings.TrimRight(c.frag.Body, "\n"); body != "" {
		for _, line := range strings.Split(body, "\n") {
			if strings.TrimSpace(line) == "" {
				b.WriteString("\n")
				continue
			}
			b.WriteString(indent + line + "\n")
		}
	}

	if c.frag.Display != "" {
		if target {
			fmt.Fprintf(b, "%sreturn %s\n", indent, reindent(c.frag.Display))
			return
		}
		fmt.Fprintf(b, "%s%s\n", indent, reindent(c.frag.Display))
	}

	outputs := c.node.OutputBindings()
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	slices.Sort(names)

	entries := make([]string, len(names))
	for i, name := range names {
		entries[i] = fmt.Sprintf("%q: %s", name, name)
	}
	fmt.Fprintf(b, "%sreturn {%s}\n", indent, strings.Join(entries, ", "))
}

func params(c *cell) []string {
	inputs := c.node.InputBindings()
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func callArgs(c *cell) string {
	names := params(c)
	args := make([]string, len(names))
	for i, name := range names {
		args[i] = fmt.Sprintf("env[%q]", name)
	}
	return strings.Join(args, ", ")
}

// reindent indents the continuation lines of a multi-line expression.
func reindent(expr string) string {
	return strings.ReplaceAll(expr, "\n", "\n"+indent)
}
