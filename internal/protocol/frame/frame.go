package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen = 4
	// MaxBodyLen is the largest body the 16-bit length field can describe.
	MaxBodyLen = 0xFFFF
)

// DefaultMagic is the stream start marker used by the radio serial/TCP API.
var DefaultMagic = [2]byte{0x94, 0xC3}

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrInvalidMagic    = errors.New("frame: invalid magic")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrTruncated       = errors.New("frame: truncated body")
)

// Header is the fixed four byte stream header.
type Header struct {
	Magic  [2]byte
	Length uint16
}

// Limits constrains frame encode/decode memory use.
type Limits struct {
	Magic        [2]byte
	MaxBodyBytes int
}

func DefaultLimits() Limits {
	return Limits{
		Magic:        DefaultMagic,
		MaxBodyBytes: MaxBodyLen,
	}
}

// BodyLimit is the effective maximum body size.
func (l Limits) BodyLimit() int {
	if l.MaxBodyBytes <= 0 || l.MaxBodyBytes > MaxBodyLen {
		return MaxBodyLen
	}
	return l.MaxBodyBytes
}

// Encode returns magic, little-endian length, then body.
func Encode(body []byte, limits Limits) ([]byte, error) {
	if len(body) > limits.BodyLimit() {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(body), limits.BodyLimit())
	}
	out := make([]byte, HeaderLen, HeaderLen+len(body))
	copy(out, EncodeHeader(Header{Magic: limits.Magic, Length: uint16(len(body))}))
	return append(out, body...), nil
}

func WriteFrame(w io.Writer, body []byte, limits Limits) error {
	b, err := Encode(body, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.Magic[0]
	buf[1] = h.Magic[1]
	binary.LittleEndian.PutUint16(buf[2:4], h.Length)
	return buf
}

func DecodeHeader(b []byte, magic [2]byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	if b[0] != magic[0] || b[1] != magic[1] {
		return Header{}, fmt.Errorf("%w: %#02x %#02x", ErrInvalidMagic, b[0], b[1])
	}
	return Header{
		Magic:  [2]byte{b[0], b[1]},
		Length: binary.LittleEndian.Uint16(b[2:4]),
	}, nil
}

// Parse decodes exactly one frame from b.
func Parse(b []byte, limits Limits) ([]byte, error) {
	if len(b) < HeaderLen {
		return nil, ErrShortHeader
	}
	h, err := DecodeHeader(b[:HeaderLen], limits.Magic)
	if err != nil {
		return nil, err
	}
	if int(h.Length) > limits.BodyLimit() {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.Length, limits.BodyLimit())
	}
	if len(b)-HeaderLen < int(h.Length) {
		return nil, ErrTruncated
	}
	body := make([]byte, h.Length)
	copy(body, b[HeaderLen:HeaderLen+int(h.Length)])
	return body, nil
}

// Reader extracts frames from a byte stream. Bytes that do not start a
// frame (device console output, line noise) are skipped until the next
// magic pair.
type Reader struct {
	r       *bufio.Reader
	limits  Limits
	skipped uint64
}

func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{r: bufio.NewReader(r), limits: limits}
}

// Skipped reports how many non-frame bytes were discarded.
func (fr *Reader) Skipped() uint64 { return fr.skipped }

// ReadFrame returns the next frame body. A declared length above the
// limit is treated as a false magic match and scanning resumes.
func (fr *Reader) ReadFrame() ([]byte, error) {
	for {
		if err := fr.syncMagic(); err != nil {
			return nil, err
		}
		var lenBuf [2]byte
		if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
			return nil, shortRead(err, ErrShortHeader)
		}
		n := int(binary.LittleEndian.Uint16(lenBuf[:]))
		if n > fr.limits.BodyLimit() {
			fr.skipped += HeaderLen
			continue
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(fr.r, body); err != nil {
			return nil, shortRead(err, ErrTruncated)
		}
		return body, nil
	}
}

func (fr *Reader) syncMagic() error {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return err
		}
		if b != fr.limits.Magic[0] {
			fr.skipped++
			continue
		}
		next, err := fr.r.Peek(1)
		if err != nil {
			return shortRead(err, ErrShortHeader)
		}
		if next[0] != fr.limits.Magic[1] {
			fr.skipped++
			continue
		}
		_, _ = fr.r.ReadByte()
		return nil
	}
}

func shortRead(err, short error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return short
	}
	return err
}
