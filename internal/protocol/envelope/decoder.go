package envelope

import (
	"fmt"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/varint"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field is one decoded field. Only the value member matching Type is set.
type Field struct {
	Number  uint32
	Type    WireType
	Varint  uint64
	Fixed32 uint32
	Bytes   []byte
}

// DecodeFields parses one message into its fields in wire order. Fields of
// wire types other than varint, fixed32, and length-delimited are skipped.
func DecodeFields(b []byte) ([]Field, error) {
	fields := make([]Field, 0, 4)
	for off := 0; off < len(b); {
		tag, n, err := varint.Decode(b, off)
		if err != nil {
			return nil, fmt.Errorf("%w: tag: %w", ErrMalformedEnvelope, err)
		}
		off += n
		num := tag >> 3
		wt := WireType(tag & 0x7)
		if num < 1 || num > uint64(MaxFieldNumber) {
			return nil, fmt.Errorf("%w: field number %d at offset %d", ErrMalformedEnvelope, num, off-n)
		}
		f := Field{Number: uint32(num), Type: wt}

		switch wt {
		case WireVarint:
			v, n, err := varint.Decode(b, off)
			if err != nil {
				return nil, fmt.Errorf("%w: field %d: %w", ErrMalformedEnvelope, num, err)
			}
			f.Varint = v
			off += n
		case WireFixed32:
			v, n := protowire.ConsumeFixed32(b[off:])
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: short fixed32", ErrMalformedEnvelope, num)
			}
			f.Fixed32 = v
			off += n
		case WireBytes:
			l, n, err := varint.Decode(b, off)
			if err != nil {
				return nil, fmt.Errorf("%w: field %d length: %w", ErrMalformedEnvelope, num, err)
			}
			off += n
			if l > uint64(len(b)-off) {
				return nil, fmt.Errorf("%w: field %d length %d exceeds %d remaining", ErrMalformedEnvelope, num, l, len(b)-off)
			}
			f.Bytes = make([]byte, l)
			copy(f.Bytes, b[off:off+int(l)])
			off += int(l)
		default:
			n := protowire.ConsumeFieldValue(protowire.Number(num), protowire.Type(wt), b[off:])
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformedEnvelope, num, protowire.ParseError(n))
			}
			off += n
			continue
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// GetField returns the last field with the given number.
func GetField(fields []Field, fieldNumber uint32) (Field, bool) {
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i].Number == fieldNumber {
			return fields[i], true
		}
	}
	return Field{}, false
}

// MustType fails when f was not encoded with the expected wire type.
func MustType(f Field, expected WireType) error {
	if f.Type != expected {
		return fmt.Errorf("envelope: field %d wire type mismatch: got %s want %s", f.Number, f.Type, expected)
	}
	return nil
}

// Uint returns the numeric value of a varint or fixed32 field.
func (f Field) Uint() (uint64, error) {
	switch f.Type {
	case WireVarint:
		return f.Varint, nil
	case WireFixed32:
		return uint64(f.Fixed32), nil
	default:
		return 0, fmt.Errorf("envelope: field %d is %s, not numeric", f.Number, f.Type)
	}
}

// Message decodes a length-delimited field as a nested message.
func (f Field) Message() ([]Field, error) {
	if err := MustType(f, WireBytes); err != nil {
		return nil, err
	}
	return DecodeFields(f.Bytes)
}
