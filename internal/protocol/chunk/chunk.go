// Package chunk splits payloads into self-describing pieces and puts them
// back together on the receiving side.
package chunk

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

var (
	ErrInvalidChunkSize = errors.New("chunk: max chunk size must be at least 1")
	ErrMalformedChunk   = errors.New("chunk: malformed chunk")
	ErrTotalMismatch    = errors.New("chunk: total does not match earlier chunks")
)

// MaxTotal is the largest chunk count any parser or assembler accepts.
const MaxTotal = 1 << 20

// Chunk is one piece of a payload. Index is 1-based.
type Chunk struct {
	Index int
	Total int
	Data  []byte
}

// Validate checks the index/total invariant and that Data is present.
func (c Chunk) Validate() error {
	if c.Total < 1 || c.Index < 1 || c.Index > c.Total {
		return fmt.Errorf("%w: index %d total %d", ErrMalformedChunk, c.Index, c.Total)
	}
	if c.Total > MaxTotal {
		return fmt.Errorf("%w: total %d above %d", ErrMalformedChunk, c.Total, MaxTotal)
	}
	if len(c.Data) == 0 {
		return fmt.Errorf("%w: empty data for %d/%d", ErrMalformedChunk, c.Index, c.Total)
	}
	return nil
}

// Count returns how many chunks Split produces for n bytes.
func Count(n, maxChunkSize int) int {
	if n <= 0 || maxChunkSize < 1 {
		return 0
	}
	return (n + maxChunkSize - 1) / maxChunkSize
}

// Split windows payload into ceil(len/max) chunks, all but the last of
// exactly maxChunkSize bytes. An empty payload yields no chunks. Chunk data
// aliases payload.
func Split(payload []byte, maxChunkSize int) ([]Chunk, error) {
	if maxChunkSize < 1 {
		return nil, ErrInvalidChunkSize
	}
	total := Count(len(payload), maxChunkSize)
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxChunkSize
		end := min(start+maxChunkSize, len(payload))
		chunks = append(chunks, Chunk{
			Index: i + 1,
			Total: total,
			Data:  payload[start:end:end],
		})
	}
	return chunks, nil
}

// Join concatenates chunk data in slice order.
func Join(chunks []Chunk) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c.Data)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out
}

var digestKey = func() []byte {
	sum := blake3.Sum256([]byte("btxmesh.payload.v1"))
	return sum[:]
}()

// Digest is the keyed BLAKE3 hash identifying a payload.
func Digest(payload []byte) [32]byte {
	h, err := blake3.NewKeyed(digestKey)
	if err != nil {
		panic(fmt.Sprintf("chunk: blake3 key: %v", err))
	}
	_, _ = h.Write(payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// TxID derives the transmission id used by the HTTP and websocket bindings.
func TxID(payload []byte) string {
	d := Digest(payload)
	return "tx_" + hex.EncodeToString(d[:8])
}
