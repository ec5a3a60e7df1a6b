// Package codec converts Starlark values to and from canonical payloads.
//
// Every value is first lowered to an ir.IRValue tree tagged with a "kind"
// and then written with ir.MarshalCanonical. Scalars that JSON cannot carry
// exactly (big ints, floats, invalid UTF-8) are written as strings or
// base64.
//
// Dicts and sets keep their insertion order in the payload, so iteration
// order survives a round trip. The content hash is taken over a copy with
// set items and dict entries sorted by canonical bytes, so two structurally
// equal values always share a hash.
//
// Functions defined at the top level of a cell are encoded as their source
// text together with the encoded values of the globals they read. Decoding
// re-executes that source in a fresh module bound to the decoded captures.
// Functions defined inside other functions, bound methods, cyclic values
// and values of unknown types cannot be encoded and fail with
// *SerializationError.
package codec
