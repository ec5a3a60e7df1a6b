// Package runtime hosts cell execution.
//
// A Runtime owns everything a cell needs while it runs: the dialect
// options, the predeclared builtins (table and struct on top of the
// Starlark universe), the modules reachable through load, the print sink,
// and a registry of every source text it has executed. The registry lets
// the codec recover the definition of a function value long after the cell
// that created it has finished.
//
// Exec runs one cell against a global environment. A trailing bare
// expression is removed from the block and evaluated afterwards in the same
// environment; its value is the display result and never becomes a binding.
package runtime
