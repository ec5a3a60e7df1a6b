package analysis

import (
	"slices"

	"go.starlark.net/syntax"
)

// Result holds the classified names of one fragment.
// All three slices are sorted and free of duplicates.
type Result struct {
	Locals  []string `json:"locals"`
	Inputs  []string `json:"inputs"`
	Imports []string `json:"imports"`
}

// Analyze parses src and classifies every name reference in it.
// Unparsable source fails with *SyntaxError.
func Analyze(src string) (*Result, error) {
	f, err := Parse("<cell>", src)
	if err != nil {
		return nil, err
	}
	return AnalyzeFile(f), nil
}

// AnalyzeFile classifies the names of an already parsed file.
func AnalyzeFile(f *syntax.File) *Result {
	rf := newReferenceFinder()
	rf.stmts(f.Stmts)
	return rf.result()
}

// referenceFinder accumulates name sets while walking a syntax tree.
type referenceFinder struct {
	locals  map[string]bool
	inputs  map[string]bool
	imports map[string]bool
}

func newReferenceFinder() *referenceFinder {
	return &referenceFinder{
		locals:  make(map[string]bool),
		inputs:  make(map[string]bool),
		imports: make(map[string]bool),
	}
}

func (rf *referenceFinder) result() *Result {
	return &Result{
		Locals:  sortedKeys(rf.locals),
		Inputs:  sortedKeys(rf.inputs),
		Imports: sortedKeys(rf.imports),
	}
}

func (rf *referenceFinder) bind(name string) {
	rf.locals[name] = true
}

func (rf *referenceFinder) read(name string) {
	if !rf.locals[name] {
		rf.inputs[name] = true
	}
}

func (rf *referenceFinder) stmts(stmts []syntax.Stmt) {
	for _, s := range stmts {
		rf.stmt(s)
	}
}

func (rf *referenceFinder) stmt(s syntax.Stmt) {
	switch s := s.(type) {
	case *syntax.AssignStmt:
		if s.Op != syntax.EQ {
			rf.augmented(s)
			return
		}
		// value before targets
		rf.expr(s.RHS)
		rf.target(s.LHS)

	case *syntax.ExprStmt:
		rf.expr(s.X)

	case *syntax.DefStmt:
		rf.bind(s.Name.Name)
		rf.params(s.Params)
		rf.stmts(s.Body)

	case *syntax.ForStmt:
		rf.expr(s.X)
		rf.target(s.Vars)
		rf.stmts(s.Body)

	case *syntax.WhileStmt:
		rf.expr(s.Cond)
		rf.stmts(s.Body)

	case *syntax.IfStmt:
		rf.expr(s.Cond)
		rf.stmts(s.True)
		rf.stmts(s.False)

	case *syntax.ReturnStmt:
		if s.Result != nil {
			rf.expr(s.Result)
		}

	case *syntax.LoadStmt:
		rf.imports[s.ModuleName()] = true
		for _, to := range s.To {
			rf.bind(to.Name)
		}

	case *syntax.BranchStmt:
		// break, continue, pass
	}
}

// augmented handles x op= y. The target's base name is read before it is
// rewritten, so it is an input unless already local, and a local afterwards.
func (rf *referenceFinder) augmented(s *syntax.AssignStmt) {
	if base := baseIdent(s.LHS); base != nil {
		rf.read(base.Name)
		rf.bind(base.Name)
	}
	// subscripts of the target are ordinary reads
	for e := s.LHS; ; {
		switch x := e.(type) {
		case *syntax.IndexExpr:
			rf.expr(x.Y)
			e = x.X
			continue
		case *syntax.DotExpr:
			e = x.X
			continue
		case *syntax.ParenExpr:
			e = x.X
			continue
		}
		break
	}
	rf.expr(s.RHS)
}

// target visits an expression in binding context.
func (rf *referenceFinder) target(e syntax.Expr) {
	switch e := e.(type) {
	case *syntax.Ident:
		rf.bind(e.Name)
	case *syntax.ParenExpr:
		rf.target(e.X)
	case *syntax.TupleExpr:
		for _, x := range e.List {
			rf.target(x)
		}
	case *syntax.ListExpr:
		for _, x := range e.List {
			rf.target(x)
		}
	case *syntax.IndexExpr:
		// x[i] = v mutates x, it does not bind it
		rf.expr(e.X)
		rf.expr(e.Y)
	case *syntax.DotExpr:
		rf.expr(e.X)
	default:
		rf.expr(e)
	}
}

// params binds def/lambda parameters. Default values are evaluated in the
// enclosing scope, so they are read before any parameter binds.
func (rf *referenceFinder) params(params []syntax.Expr) {
	for _, p := range params {
		if bin, ok := p.(*syntax.BinaryExpr); ok && bin.Op == syntax.EQ {
			rf.expr(bin.Y)
		}
	}
	for _, p := range params {
		switch p := p.(type) {
		case *syntax.Ident:
			rf.bind(p.Name)
		case *syntax.BinaryExpr:
			if id, ok := p.X.(*syntax.Ident); ok {
				rf.bind(id.Name)
			}
		case *syntax.UnaryExpr:
			// *args, **kwargs, or a bare * separator (X == nil)
			if id, ok := p.X.(*syntax.Ident); ok {
				rf.bind(id.Name)
			}
		}
	}
}

func (rf *referenceFinder) exprs(list []syntax.Expr) {
	for _, e := range list {
		rf.expr(e)
	}
}

func (rf *referenceFinder) expr(e syntax.Expr) {
	switch e := e.(type) {
	case nil:
	case *syntax.Ident:
		rf.read(e.Name)
	case *syntax.Literal:
	case *syntax.ParenExpr:
		rf.expr(e.X)
	case *syntax.UnaryExpr:
		rf.expr(e.X)
	case *syntax.BinaryExpr:
		rf.expr(e.X)
		rf.expr(e.Y)
	case *syntax.CondExpr:
		rf.expr(e.Cond)
		rf.expr(e.True)
		rf.expr(e.False)
	case *syntax.CallExpr:
		rf.expr(e.Fn)
		for _, arg := range e.Args {
			// keyword argument names are not variable reads
			if bin, ok := arg.(*syntax.BinaryExpr); ok && bin.Op == syntax.EQ {
				rf.expr(bin.Y)
				continue
			}
			rf.expr(arg)
		}
	case *syntax.DotExpr:
		rf.expr(e.X)
	case *syntax.IndexExpr:
		rf.expr(e.X)
		rf.expr(e.Y)
	case *syntax.SliceExpr:
		rf.expr(e.X)
		rf.expr(e.Lo)
		rf.expr(e.Hi)
		rf.expr(e.Step)
	case *syntax.ListExpr:
		rf.exprs(e.List)
	case *syntax.TupleExpr:
		rf.exprs(e.List)
	case *syntax.DictExpr:
		rf.exprs(e.List)
	case *syntax.DictEntry:
		rf.expr(e.Key)
		rf.expr(e.Value)
	case *syntax.LambdaExpr:
		rf.params(e.Params)
		rf.expr(e.Body)
	case *syntax.Comprehension:
		rf.comprehension(e)
	}
}

// comprehension visits the for/if clauses before the body, matching the
// order in which the iterable is evaluated before the element.
func (rf *referenceFinder) comprehension(c *syntax.Comprehension) {
	for _, clause := range c.Clauses {
		switch clause := clause.(type) {
		case *syntax.ForClause:
			rf.expr(clause.X)
			rf.target(clause.Vars)
		case *syntax.IfClause:
			rf.expr(clause.Cond)
		}
	}
	if entry, ok := c.Body.(*syntax.DictEntry); ok {
		rf.expr(entry.Value)
		rf.expr(entry.Key)
		return
	}
	rf.expr(c.Body)
}

// baseIdent strips index and attribute selectors: x[0].y -> x.
func baseIdent(e syntax.Expr) *syntax.Ident {
	for {
		switch x := e.(type) {
		case *syntax.Ident:
			return x
		case *syntax.IndexExpr:
			e = x.X
		case *syntax.DotExpr:
			e = x.X
		case *syntax.ParenExpr:
			e = x.X
		default:
			return nil
		}
	}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
