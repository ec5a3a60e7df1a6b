// Package notebook implements the incremental re-execution engine: an
// ordered chain of cells whose inputs are derived statically and whose
// outputs are content hashes in a refcounted store.
//
// Chain owns every Node in an id-indexed arena. Nodes refer to their
// neighbours by id, so the chain is a doubly-linked list without pointer
// cycles. All operations are synchronous and single-writer; a Chain is not
// safe for concurrent use.
//
// Running a node:
//  1. Each static input is resolved by walking upward from the node's
//     predecessor to the nearest node whose outputs bind the name.
//  2. If that node is invalid it is re-run first (auto-heal). Healing uses an
//     explicit stack rather than recursion, so depth is bounded by memory,
//     not by the goroutine stack.
//  3. The cell executes with the resolved values. Every resulting binding is
//     hashed; only changed or new bindings become outputs.
//  4. The commit increfs new (name, hash) pairs, decrefs superseded ones and
//     invalidates the descendants that consumed a changed name with no node
//     in between rebinding it, or any binding of a newly introduced name.
//
// Moving a node re-runs nothing but invalidates the consumers whose
// nearest binding the move changed.
//
// A failed run commits nothing: no refcount, binding or validity change.
package notebook
