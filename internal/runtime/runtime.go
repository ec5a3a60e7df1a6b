package runtime

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	"go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/roach88/nodebook/internal/analysis"
)

// ErrUnknownModule is returned by load for a module the runtime does not provide.
var ErrUnknownModule = errors.New("unknown module")

// BuiltinRef names a builtin function by where it can be found again.
// Module is "" for universe and predeclared builtins.
type BuiltinRef struct {
	Module string
	Name   string
}

// Result is the outcome of executing one cell.
type Result struct {
	// Display is the value of the trailing bare expression, or nil when the
	// cell has none.
	Display starlark.Value

	// Globals is the post-run environment with injected builtins removed.
	Globals starlark.StringDict
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithPrint directs the output of print() to w.
func WithPrint(w io.Writer) Option {
	return func(r *Runtime) {
		r.print = w
	}
}

// WithLogger sets the logger used for execution diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// Runtime executes cells. One Runtime serves one notebook session; it is
// not safe for concurrent use.
type Runtime struct {
	print  io.Writer
	logger *slog.Logger

	predeclared starlark.StringDict
	modules     map[string]*starlarkstruct.Module

	builtins map[*starlark.Builtin]BuiltinRef

	sources map[string]string
	seq     int
}

// New creates a Runtime with the standard builtins and modules.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		print:  io.Discard,
		logger: slog.Default(),
		predeclared: starlark.StringDict{
			"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
			"table":  starlark.NewBuiltin("table", newTable),
		},
		modules: map[string]*starlarkstruct.Module{
			math.Module.Name: math.Module,
			time.Module.Name: time.Module,
			json.Module.Name: json.Module,
		},
		sources: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.indexBuiltins()
	return r
}

func (r *Runtime) indexBuiltins() {
	r.builtins = make(map[*starlark.Builtin]BuiltinRef)
	for name, v := range starlark.Universe {
		if b, ok := v.(*starlark.Builtin); ok {
			r.builtins[b] = BuiltinRef{Name: name}
		}
	}
	for name, v := range r.predeclared {
		if b, ok := v.(*starlark.Builtin); ok {
			r.builtins[b] = BuiltinRef{Name: name}
		}
	}
	for modName, mod := range r.modules {
		for name, v := range mod.Members {
			if b, ok := v.(*starlark.Builtin); ok {
				r.builtins[b] = BuiltinRef{Module: modName, Name: name}
			}
		}
	}
}

// IsBuiltin reports whether name resolves without any cell binding it.
func (r *Runtime) IsBuiltin(name string) bool {
	return starlark.Universe.Has(name) || r.predeclared.Has(name)
}

// BuiltinRef returns the reference for a builtin function value.
// Bound methods are never addressable and report false.
func (r *Runtime) BuiltinRef(b *starlark.Builtin) (BuiltinRef, bool) {
	if b.Receiver() != nil {
		return BuiltinRef{}, false
	}
	ref, ok := r.builtins[b]
	return ref, ok
}

// LookupBuiltin resolves a BuiltinRef back to its value.
func (r *Runtime) LookupBuiltin(ref BuiltinRef) (*starlark.Builtin, bool) {
	var v starlark.Value
	if ref.Module == "" {
		v = r.predeclared[ref.Name]
		if v == nil {
			v = starlark.Universe[ref.Name]
		}
	} else if mod, ok := r.modules[ref.Module]; ok {
		v = mod.Members[ref.Name]
	}
	b, ok := v.(*starlark.Builtin)
	return b, ok
}

// Module returns a loadable module by name.
func (r *Runtime) Module(name string) (*starlarkstruct.Module, bool) {
	mod, ok := r.modules[name]
	return mod, ok
}

// ModuleName returns the name m is registered under, if it is one of the
// runtime's modules.
func (r *Runtime) ModuleName(m *starlarkstruct.Module) (string, bool) {
	for name, mod := range r.modules {
		if mod == m {
			return name, true
		}
	}
	return "", false
}

// Modules returns the loadable module names in sorted order.
func (r *Runtime) Modules() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the text registered under filename.
func (r *Runtime) Source(filename string) (string, bool) {
	src, ok := r.sources[filename]
	return src, ok
}

// register records src under a fresh synthetic filename.
func (r *Runtime) register(kind, src string) string {
	r.seq++
	filename := fmt.Sprintf("<%s %d>", kind, r.seq)
	r.sources[filename] = src
	return filename
}

// Exec runs code with globals as the initial environment. The map passed in
// is not modified.
func (r *Runtime) Exec(code string, globals starlark.StringDict) (*Result, error) {
	filename := r.register("cell", code)
	f, err := analysis.Parse(filename, code)
	if err != nil {
		return nil, err
	}
	display := analysis.SplitTrailingExpr(f)

	env := r.environment(globals)
	thread := r.thread(filename)

	r.logger.Debug("executing cell", "file", filename, "globals", len(globals))

	if err := starlark.ExecREPLChunk(f, thread, env); err != nil {
		return nil, err
	}

	res := &Result{}
	if display != nil {
		v, err := starlark.EvalExprOptions(analysis.FileOptions, thread, display, env)
		if err != nil {
			return nil, err
		}
		res.Display = v
	}
	res.Globals = r.strip(env)
	return res, nil
}

// Define executes definition source in a fresh module whose globals are
// captures, and returns the resulting globals. It is used to rebuild
// function values from their source text.
func (r *Runtime) Define(src string, captures starlark.StringDict) (starlark.StringDict, error) {
	filename := r.register("def", src)
	f, err := analysis.Parse(filename, src)
	if err != nil {
		return nil, err
	}
	env := r.environment(captures)
	if err := starlark.ExecREPLChunk(f, r.thread(filename), env); err != nil {
		return nil, err
	}
	return r.strip(env), nil
}

// environment copies globals over the predeclared builtins. Cell bindings
// shadow builtins of the same name.
func (r *Runtime) environment(globals starlark.StringDict) starlark.StringDict {
	env := make(starlark.StringDict, len(globals)+len(r.predeclared))
	for name, v := range r.predeclared {
		env[name] = v
	}
	for name, v := range globals {
		env[name] = v
	}
	return env
}

// strip removes injected builtins that were not rebound.
func (r *Runtime) strip(env starlark.StringDict) starlark.StringDict {
	out := make(starlark.StringDict, len(env))
	for name, v := range env {
		if pb, ok := r.predeclared[name].(*starlark.Builtin); ok {
			if b, ok := v.(*starlark.Builtin); ok && b == pb {
				continue
			}
		}
		out[name] = v
	}
	return out
}

func (r *Runtime) thread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(r.print, msg)
		},
		Load: r.load,
	}
}

func (r *Runtime) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	mod, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("load %q: %w", module, ErrUnknownModule)
	}
	dict := make(starlark.StringDict, len(mod.Members)+1)
	for name, v := range mod.Members {
		dict[name] = v
	}
	dict[mod.Name] = mod
	return dict, nil
}
