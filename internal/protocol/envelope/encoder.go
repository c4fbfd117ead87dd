package envelope

import (
	"errors"
	"fmt"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/varint"
	"google.golang.org/protobuf/encoding/protowire"
)

// WireType is the low three bits of a field tag.
type WireType uint8

const (
	WireVarint  WireType = 0
	WireBytes   WireType = 2
	WireFixed32 WireType = 5
)

// MaxFieldNumber is the largest field number a tag can carry.
const MaxFieldNumber = uint32(protowire.MaxValidNumber)

var (
	ErrInvalidFieldNumber = errors.New("envelope: invalid field number")
	ErrMalformedEnvelope  = errors.New("envelope: malformed envelope")
)

func (t WireType) String() string {
	switch t {
	case WireVarint:
		return "varint"
	case WireBytes:
		return "length_delimited"
	case WireFixed32:
		return "fixed32"
	default:
		return fmt.Sprintf("wire_type(%d)", uint8(t))
	}
}

// ParseWireType maps a configuration name to a wire type.
func ParseWireType(name string) (WireType, error) {
	switch name {
	case "varint":
		return WireVarint, nil
	case "fixed32":
		return WireFixed32, nil
	case "bytes", "length_delimited":
		return WireBytes, nil
	default:
		return 0, fmt.Errorf("envelope: unknown wire type %q", name)
	}
}

// Tag returns the varint-encoded tag for a field.
func Tag(fieldNumber uint32, wt WireType) []byte {
	return varint.Encode(uint64(fieldNumber)<<3 | uint64(wt))
}

// Encoder builds one message append-only. The first invalid field number
// is remembered and reported by Finish; later writes are ignored.
type Encoder struct {
	buf []byte
	err error
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Begin discards anything written so far and starts a new message.
func (e *Encoder) Begin() *Encoder {
	e.buf = e.buf[:0]
	e.err = nil
	return e
}

func (e *Encoder) WriteVarintField(fieldNumber uint32, v uint64) *Encoder {
	if !e.tag(fieldNumber, WireVarint) {
		return e
	}
	e.buf = varint.Append(e.buf, v)
	return e
}

// WriteFixed32Field writes v as four little-endian bytes.
func (e *Encoder) WriteFixed32Field(fieldNumber uint32, v uint32) *Encoder {
	if !e.tag(fieldNumber, WireFixed32) {
		return e
	}
	e.buf = protowire.AppendFixed32(e.buf, v)
	return e
}

func (e *Encoder) WriteBytesField(fieldNumber uint32, b []byte) *Encoder {
	if !e.tag(fieldNumber, WireBytes) {
		return e
	}
	e.buf = varint.Append(e.buf, uint64(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

// WriteNestedMessage embeds the finished contents of inner as a
// length-delimited field. An error in inner is carried into e.
func (e *Encoder) WriteNestedMessage(fieldNumber uint32, inner *Encoder) *Encoder {
	if inner == nil {
		return e.WriteBytesField(fieldNumber, nil)
	}
	if inner.err != nil && e.err == nil {
		e.err = inner.err
		return e
	}
	return e.WriteBytesField(fieldNumber, inner.buf)
}

// Len reports the encoded size so far.
func (e *Encoder) Len() int { return len(e.buf) }

// Finish returns a copy of the encoded message.
func (e *Encoder) Finish() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out, nil
}

func (e *Encoder) tag(fieldNumber uint32, wt WireType) bool {
	if e.err != nil {
		return false
	}
	if fieldNumber < 1 || fieldNumber > MaxFieldNumber {
		e.err = fmt.Errorf("%w: %d", ErrInvalidFieldNumber, fieldNumber)
		return false
	}
	e.buf = varint.Append(e.buf, uint64(fieldNumber)<<3|uint64(wt))
	return true
}
