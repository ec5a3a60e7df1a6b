// Package ir provides the canonical value tree used for content addressing.
//
// Every value a cell produces is lowered (by package codec) into this small,
// sealed tree before it is serialized. The tree has no floats and no nulls,
// so MarshalCanonical is a pure function of structure: two structurally equal
// trees always produce identical bytes, and therefore identical hashes.
//
// This package imports nothing internal. All other internal packages may
// import ir.
//
// Key design constraints:
//   - NO float types (floats are carried as strings by the codec)
//   - Object keys ordered by UTF-16 code units (RFC 8785)
//   - Hashes are SHA-256 with domain separation
package ir
