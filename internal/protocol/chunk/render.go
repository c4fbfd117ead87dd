package chunk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/envelope"
)

// DefaultTextPrefix marks transaction chunks on the text sub-protocol.
const DefaultTextPrefix = "BTX"

// Binary sub-message field numbers.
const (
	FieldIndex uint32 = 1
	FieldTotal uint32 = 2
	FieldData  uint32 = 3
)

// Renderer turns a chunk into the bytes of one link write.
type Renderer interface {
	Render(c Chunk) ([]byte, error)
}

// TextRenderer produces "<prefix>:<index>/<total>:<data>".
type TextRenderer struct {
	Prefix  string
	Newline bool
}

func (r TextRenderer) Render(c Chunk) ([]byte, error) {
	prefix := r.Prefix
	if prefix == "" {
		prefix = DefaultTextPrefix
	}
	b := make([]byte, 0, len(prefix)+len(c.Data)+16)
	b = append(b, prefix...)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(c.Index), 10)
	b = append(b, '/')
	b = strconv.AppendInt(b, int64(c.Total), 10)
	b = append(b, ':')
	b = append(b, c.Data...)
	if r.Newline {
		b = append(b, '\n')
	}
	return b, nil
}

// ParseText parses one text chunk line. A trailing newline is tolerated.
func ParseText(prefix string, line []byte) (Chunk, error) {
	if prefix == "" {
		prefix = DefaultTextPrefix
	}
	line = bytes.TrimRight(line, "\r\n")
	rest, ok := bytes.CutPrefix(line, []byte(prefix+":"))
	if !ok {
		return Chunk{}, fmt.Errorf("%w: missing %q prefix", ErrMalformedChunk, prefix)
	}
	counts, data, ok := bytes.Cut(rest, []byte(":"))
	if !ok {
		return Chunk{}, fmt.Errorf("%w: missing data separator", ErrMalformedChunk)
	}
	idx, tot, ok := bytes.Cut(counts, []byte("/"))
	if !ok {
		return Chunk{}, fmt.Errorf("%w: missing index/total separator", ErrMalformedChunk)
	}
	index, err := parseCount(idx)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: index: %v", ErrMalformedChunk, err)
	}
	total, err := parseCount(tot)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: total: %v", ErrMalformedChunk, err)
	}
	c := Chunk{Index: index, Total: total, Data: append([]byte(nil), data...)}
	return c, c.Validate()
}

func parseCount(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, errors.New("empty")
	}
	for _, ch := range b {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("non-digit %q", ch)
		}
	}
	return strconv.Atoi(string(b))
}

// BinaryRenderer produces {1: index, 2: total, 3: data}.
type BinaryRenderer struct{}

func (BinaryRenderer) Render(c Chunk) ([]byte, error) {
	return envelope.NewEncoder().
		WriteVarintField(FieldIndex, uint64(c.Index)).
		WriteVarintField(FieldTotal, uint64(c.Total)).
		WriteBytesField(FieldData, c.Data).
		Finish()
}

// ParseBinary decodes a binary chunk by tag; unknown fields are ignored.
func ParseBinary(b []byte) (Chunk, error) {
	fields, err := envelope.DecodeFields(b)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %w", ErrMalformedChunk, err)
	}
	var c Chunk
	for _, want := range []struct {
		num uint32
		dst *int
	}{
		{FieldIndex, &c.Index},
		{FieldTotal, &c.Total},
	} {
		f, ok := envelope.GetField(fields, want.num)
		if !ok {
			return Chunk{}, fmt.Errorf("%w: missing field %d", ErrMalformedChunk, want.num)
		}
		if err := envelope.MustType(f, envelope.WireVarint); err != nil {
			return Chunk{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
		}
		if f.Varint > MaxTotal {
			return Chunk{}, fmt.Errorf("%w: field %d value %d too large", ErrMalformedChunk, want.num, f.Varint)
		}
		*want.dst = int(f.Varint)
	}
	f, ok := envelope.GetField(fields, FieldData)
	if !ok {
		return Chunk{}, fmt.Errorf("%w: missing field %d", ErrMalformedChunk, FieldData)
	}
	if err := envelope.MustType(f, envelope.WireBytes); err != nil {
		return Chunk{}, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	c.Data = f.Bytes
	return c, c.Validate()
}

// Message is the JSON chunk contract of the HTTP and websocket bindings.
type Message struct {
	TxID  string `json:"tx_id"`
	Index int    `json:"index"`
	Total int    `json:"total"`
	Data  string `json:"data"`
}

// Chunk converts m back into a validated chunk.
func (m Message) Chunk() (Chunk, error) {
	c := Chunk{Index: m.Index, Total: m.Total, Data: []byte(m.Data)}
	if m.TxID == "" {
		return Chunk{}, fmt.Errorf("%w: missing tx_id", ErrMalformedChunk)
	}
	return c, c.Validate()
}

// JSONRenderer produces one Message per chunk.
type JSONRenderer struct {
	TxID string
}

func (r JSONRenderer) Render(c Chunk) ([]byte, error) {
	return json.Marshal(Message{TxID: r.TxID, Index: c.Index, Total: c.Total, Data: string(c.Data)})
}
