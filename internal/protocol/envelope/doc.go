// Package envelope owns the reduced protobuf-style wire format used on the
// radio link.
//
// Ownership boundary:
// - tag layout: (field_number << 3) | wire_type
// - varint (0), fixed32 (5), and length-delimited (2) fields
// - tag-based decoding that tolerates any field order and skips unknown fields
//
// The package is schema-agnostic; concrete field numbers for outer messages
// come from internal/protocol/layout.
package envelope
