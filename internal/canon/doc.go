// Package canon produces canonical JSON for content hashing.
//
// Canonical form follows RFC 8785 where it matters for identity:
//   - Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//   - No HTML escaping
//   - Strings NFC normalized
//
// Pipeline expressions arrive as plain Go values or bson documents. Both
// shapes serialize to the same bytes, so an expression written as bson.D in
// one place and map[string]any in another hashes identically.
package canon
