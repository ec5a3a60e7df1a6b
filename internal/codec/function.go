package codec

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/roach88/nodebook/internal/analysis"
	"github.com/roach88/nodebook/internal/ir"
)

// Function forms.
const (
	formDef    = "def"
	formLambda = "lambda"
)

// lambdaBinding is the global a lambda is assigned to when rebuilt.
const lambdaBinding = "__lambda__"

// definition is a function's recovered source.
type definition struct {
	form   string
	source string
}

func (e *encoder) function(fn *starlark.Function, path string, depth int) (ir.IRValue, error) {
	def, err := e.c.definition(fn)
	if err != nil {
		return nil, e.fail(fn, path, err.Error(), nil)
	}

	free, err := freeNames(def)
	if err != nil {
		return nil, e.fail(fn, path, "unparsable definition", err)
	}

	module := fn.Globals()
	captures := make(ir.IRObject)
	for _, name := range free {
		if def.form == formDef && name == fn.Name() {
			continue
		}
		v, ok := module[name]
		if !ok {
			continue
		}
		enc, err := e.value(v, path+"."+name, depth+1)
		if err != nil {
			return nil, err
		}
		captures[name] = enc
	}

	return ir.IRObject{
		"kind":    ir.IRString(KindFunction),
		"form":    ir.IRString(def.form),
		"name":    ir.IRString(fn.Name()),
		"source":  ir.IRString(def.source),
		"globals": captures,
	}, nil
}

// definition locates the def statement or lambda expression that created fn
// in the source it was executed from.
func (c *Codec) definition(fn *starlark.Function) (*definition, error) {
	pos := fn.Position()
	src, ok := c.rt.Source(pos.Filename())
	if !ok {
		return nil, fmt.Errorf("source of %s is not available", fn.Name())
	}
	f, err := analysis.Parse(pos.Filename(), src)
	if err != nil {
		return nil, err
	}

	var (
		found  syntax.Node
		nested bool
		stack  []syntax.Node
		funcs  int
	)
	syntax.Walk(f, func(n syntax.Node) bool {
		if n == nil {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if isFunc(top) {
				funcs--
			}
			return true
		}
		if found != nil {
			return false
		}
		if samePos(n, pos) {
			found = n
			nested = funcs > 0
			return false
		}
		stack = append(stack, n)
		if isFunc(n) {
			funcs++
		}
		return true
	})

	switch {
	case found == nil:
		return nil, fmt.Errorf("definition of %s not found", fn.Name())
	case nested:
		return nil, fmt.Errorf("nested function %s closes over an enclosing function", fn.Name())
	}

	switch n := found.(type) {
	case *syntax.DefStmt:
		_, end := n.Span()
		text := analysis.SourceLines(src, n.Def.Line, end.Line)
		return &definition{form: formDef, source: dedent(text, int(n.Def.Col)-1)}, nil
	case *syntax.LambdaExpr:
		start, end := n.Span()
		return &definition{form: formLambda, source: analysis.SourceSpan(src, start, end)}, nil
	}
	return nil, fmt.Errorf("definition of %s not found", fn.Name())
}

func isFunc(n syntax.Node) bool {
	switch n.(type) {
	case *syntax.DefStmt, *syntax.LambdaExpr:
		return true
	}
	return false
}

func samePos(n syntax.Node, pos syntax.Position) bool {
	var at syntax.Position
	switch n := n.(type) {
	case *syntax.DefStmt:
		at = n.Def
	case *syntax.LambdaExpr:
		at = n.Lambda
	default:
		return false
	}
	return at.Line == pos.Line && at.Col == pos.Col
}

// freeNames returns the names a definition reads from its module.
func freeNames(def *definition) ([]string, error) {
	src := def.source
	if def.form == formLambda {
		src = lambdaBinding + " = " + src
	}
	res, err := analysis.Analyze(src)
	if err != nil {
		return nil, err
	}
	names := append([]string(nil), res.Inputs...)
	sort.Strings(names)
	return names, nil
}

// dedent strips up to n leading blanks from every line.
func dedent(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := strings.SplitAfter(text, "\n")
	for i, line := range lines {
		cut := 0
		for cut < n && cut < len(line) && (line[cut] == ' ' || line[cut] == '\t') {
			cut++
		}
		lines[i] = line[cut:]
	}
	return strings.Join(lines, "")
}

// rebuild re-executes a definition bound to captures.
func (d *decoder) rebuild(form, name, source string, captures starlark.StringDict) (starlark.Value, error) {
	switch form {
	case formDef:
		env, err := d.c.rt.Define(source, captures)
		if err != nil {
			return nil, fmt.Errorf("rebuild %s: %w", name, err)
		}
		fn, ok := env[name].(*starlark.Function)
		if !ok {
			return nil, malformed("definition does not bind %s", name)
		}
		return fn, nil
	case formLambda:
		env, err := d.c.rt.Define(lambdaBinding+" = "+source, captures)
		if err != nil {
			return nil, fmt.Errorf("rebuild lambda: %w", err)
		}
		fn, ok := env[lambdaBinding].(*starlark.Function)
		if !ok {
			return nil, malformed("lambda source does not yield a function")
		}
		return fn, nil
	}
	return nil, malformed("unknown function form %q", form)
}
