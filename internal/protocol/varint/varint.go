// Package varint is the base-128 unsigned integer codec shared by the
// envelope encoder and decoder.
package varint

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxLen is the longest valid encoding of a 64-bit value.
const MaxLen = 10

var ErrMalformedVarint = errors.New("varint: malformed varint")

// Encode returns the varint encoding of v.
func Encode(v uint64) []byte {
	return protowire.AppendVarint(make([]byte, 0, Size(v)), v)
}

// Append appends the varint encoding of v to b.
func Append(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

// Size returns len(Encode(v)) without allocating.
func Size(v uint64) int {
	return protowire.SizeVarint(v)
}

// Decode reads one varint from b starting at offset and returns the value
// and the number of bytes consumed.
func Decode(b []byte, offset int) (uint64, int, error) {
	if offset < 0 || offset >= len(b) {
		return 0, 0, fmt.Errorf("%w: no bytes at offset %d", ErrMalformedVarint, offset)
	}
	v, n := protowire.ConsumeVarint(b[offset:])
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: offset %d: %v", ErrMalformedVarint, offset, protowire.ParseError(n))
	}
	return v, n, nil
}
