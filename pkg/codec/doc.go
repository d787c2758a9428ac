// Package codec is the on-disk encoding of queued entries: deterministic
// CBOR via fxamacker/cbor. Callers import this package rather than the
// CBOR library directly.
package codec
