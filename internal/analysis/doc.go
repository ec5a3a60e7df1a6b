// Package analysis classifies the names referenced by one cell of source.
//
// Analyze parses a Starlark fragment and sorts every name it touches into
// three sets: locals (bound by the fragment), inputs (read before the
// fragment binds them, i.e. free variables that must come from an ancestor
// cell) and imports (module paths named by load statements).
//
// The walk follows evaluation order rather than source order where the two
// differ: the right-hand side of an assignment is visited before its
// targets, and comprehension clauses before the element expression.
//
// KNOWN PRECISION LIMIT: nested function scopes are not modelled. A name read
// inside a def body is classified exactly as if it were read at the top level
// of the fragment, and parameters are fragment locals.
package analysis
