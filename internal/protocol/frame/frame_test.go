package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 190, 512, MaxBodyLen} {
		body := bytes.Repeat([]byte{0x5a}, size)
		b, err := Encode(body, DefaultLimits())
		if err != nil {
			t.Fatalf("encode %d: %v", size, err)
		}
		if len(b) != HeaderLen+size {
			t.Fatalf("unexpected frame size %d for body %d", len(b), size)
		}
		h, err := DecodeHeader(b[:HeaderLen], DefaultMagic)
		if err != nil {
			t.Fatalf("decode header: %v", err)
		}
		if int(h.Length) != size {
			t.Fatalf("length field %d != body %d", h.Length, size)
		}
		out, err := Parse(b, DefaultLimits())
		if err != nil {
			t.Fatalf("parse %d: %v", size, err)
		}
		if !bytes.Equal(out, body) {
			t.Fatalf("body mismatch for size %d", size)
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	b, err := Encode(make([]byte, 0x0102), DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.Equal(b[:HeaderLen], []byte{0x94, 0xC3, 0x02, 0x01}) {
		t.Fatalf("unexpected header: %x", b[:HeaderLen])
	}
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	_, err := Encode(make([]byte, MaxBodyLen+1), DefaultLimits())
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	limits := DefaultLimits()
	limits.MaxBodyBytes = 512
	if err := WriteFrame(io.Discard, make([]byte, 513), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge for custom limit, got %v", err)
	}
}

func TestParseMalformedIsDeterministic(t *testing.T) {
	if _, err := Parse([]byte{0x94, 0xC3}, DefaultLimits()); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
	if _, err := Parse([]byte{0x00, 0xC3, 0x00, 0x00}, DefaultLimits()); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
	if _, err := Parse([]byte{0x94, 0xC3, 0x05, 0x00, 'a'}, DefaultLimits()); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestReaderResyncsPastNoise(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxBodyBytes = 512
	first, _ := Encode([]byte("one"), limits)
	second, _ := Encode([]byte("two"), limits)

	var stream bytes.Buffer
	stream.WriteString("boot log line\n")
	stream.Write(first)
	stream.Write([]byte{0x94, 0x00, 0x94})
	// false header claiming a body above the limit
	stream.Write([]byte{0x94, 0xC3, 0xff, 0xff})
	stream.Write(second)

	r := NewReader(&stream, limits)
	got, err := r.ReadFrame()
	if err != nil || string(got) != "one" {
		t.Fatalf("first frame: %q %v", got, err)
	}
	got, err = r.ReadFrame()
	if err != nil || string(got) != "two" {
		t.Fatalf("second frame: %q %v", got, err)
	}
	if r.Skipped() == 0 {
		t.Fatalf("expected skipped noise bytes to be counted")
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReaderTruncatedBody(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x94, 0xC3, 0x04, 0x00, 'a'}), DefaultLimits())
	if _, err := r.ReadFrame(); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}
