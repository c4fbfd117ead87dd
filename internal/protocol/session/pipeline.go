package session

import (
	"fmt"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/frame"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/layout"
)

// Format selects the chunk sub-protocol.
type Format string

const (
	FormatText   Format = "text"
	FormatBinary Format = "binary"
	FormatJSON   Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatBinary, FormatJSON:
		return Format(s), nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("session: unknown chunk format %q", s)
	}
}

// Pipeline turns a chunk into link bytes: render, wrap in the configured
// layout, then frame for streaming links.
type Pipeline struct {
	Format     Format
	TextPrefix string
	Newline    bool
	Layout     layout.Layout
	Framed     bool
	Frame      frame.Limits
}

func (p Pipeline) Validate() error {
	if _, err := ParseFormat(string(p.Format)); err != nil {
		return err
	}
	if p.Format == FormatJSON && (!p.Layout.Raw() || p.Framed) {
		return fmt.Errorf("session: json chunks are written unwrapped and unframed")
	}
	return p.Layout.Validate()
}

// Renderer returns the chunk renderer for one payload.
func (p Pipeline) Renderer(payload []byte) chunk.Renderer {
	switch p.Format {
	case FormatBinary:
		return chunk.BinaryRenderer{}
	case FormatJSON:
		return chunk.JSONRenderer{TxID: chunk.TxID(payload)}
	default:
		return chunk.TextRenderer{Prefix: p.TextPrefix, Newline: p.Newline}
	}
}

// Encode returns the bytes of one write and the length of the body before
// framing.
func (p Pipeline) Encode(r chunk.Renderer, c chunk.Chunk, packetID uint32) ([]byte, int, error) {
	rendered, err := r.Render(c)
	if err != nil {
		return nil, 0, fmt.Errorf("session: render chunk %d/%d: %w", c.Index, c.Total, err)
	}
	body, err := p.Layout.Wrap(rendered, packetID)
	if err != nil {
		return nil, 0, err
	}
	if !p.Framed {
		return body, len(body), nil
	}
	out, err := frame.Encode(body, p.frameLimits())
	if err != nil {
		return nil, len(body), err
	}
	return out, len(body), nil
}

func (p Pipeline) frameLimits() frame.Limits {
	if p.Frame == (frame.Limits{}) {
		return frame.DefaultLimits()
	}
	if p.Frame.Magic == ([2]byte{}) {
		p.Frame.Magic = frame.DefaultMagic
	}
	return p.Frame
}

// overhead reports how many bytes framing adds to a body.
func (p Pipeline) overhead() int {
	if p.Framed {
		return frame.HeaderLen
	}
	return 0
}
