// Package gateway receives chunked transactions from the mesh and from
// phone apps, reassembles them, and hands complete transactions to a Sink.
//
// Chunks arrive three ways:
// - radio frames, unwrapped with a layout profile and keyed by sender node
// - text lines from an unframed radio stream, keyed by source
// - JSON chunk messages over HTTP or websocket, keyed by tx id
package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/smplog"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/clock"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/observability"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/layout"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
)

const (
	DefaultMaxTxBytes = 100_000

	SourceHTTP  = "http"
	SourceWS    = "ws"
	SourceRadio = "radio"
)

var (
	ErrEmptyTx    = errors.New("gateway: missing tx_hex")
	ErrInvalidHex = errors.New("gateway: transaction is not valid hex")
	ErrTxTooLarge = errors.New("gateway: transaction too large")
	ErrNotChunk   = errors.New("gateway: not a chunk")
	ErrWrongPort  = errors.New("gateway: packet for another port")
)

type Config struct {
	TextPrefix string
	// MaxTxBytes bounds a decoded transaction.
	MaxTxBytes int
	PendingTTL time.Duration
	// Layout unwraps radio frames.
	Layout layout.Layout
}

func (c Config) withDefaults() Config {
	if c.TextPrefix == "" {
		c.TextPrefix = chunk.DefaultTextPrefix
	}
	if c.MaxTxBytes <= 0 {
		c.MaxTxBytes = DefaultMaxTxBytes
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = chunk.DefaultPendingTTL
	}
	return c
}

// Outcome describes what one chunk did.
type Outcome struct {
	Key      string
	Index    int
	Total    int
	Complete bool
	Tx       *Tx
}

type Option func(*Gateway)

func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

type Gateway struct {
	cfg   Config
	sink  Sink
	clock clock.Clock
	asm   *chunk.Assembler

	meshConnected atomic.Bool
	delivered     atomic.Uint64
}

func New(cfg Config, sink Sink, opts ...Option) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = LogSink{}
	}
	g := &Gateway{
		cfg:   cfg,
		sink:  sink,
		clock: clock.Real(),
		asm:   chunk.NewAssembler(cfg.PendingTTL, 2*cfg.MaxTxBytes),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// HandleChunk files c under key and delivers the transaction once every
// chunk is present.
func (g *Gateway) HandleChunk(ctx context.Context, source, key string, c chunk.Chunk) (Outcome, error) {
	out := Outcome{Key: key, Index: c.Index, Total: c.Total}
	now := g.clock.Now()
	payload, done, err := g.asm.Add(key, c, now)
	if errors.Is(err, chunk.ErrTotalMismatch) && c.Index == 1 {
		// a new transmission from the same key replaces the stale set
		logs.Infof("gateway.Gateway.HandleChunk restart key=%s total=%d", key, c.Total)
		g.asm.Reset(key)
		payload, done, err = g.asm.Add(key, c, now)
	}
	if errors.Is(err, chunk.ErrSetTooLarge) {
		err = fmt.Errorf("%w: %w", ErrTxTooLarge, err)
	}
	if err != nil {
		observability.RecordGatewayChunk(source, "rejected")
		logs.Warnf("gateway.Gateway.HandleChunk rejected source=%s key=%s chunk=%d/%d err=%v", source, key, c.Index, c.Total, err)
		return out, err
	}
	observability.RecordGatewayChunk(source, "accepted")
	logs.Debugf("gateway.Gateway.HandleChunk source=%s key=%s chunk=%d/%d", source, key, c.Index, c.Total)
	if !done {
		return out, nil
	}
	out.Complete = true
	tx, err := g.deliver(ctx, source, key, string(payload), c.Total)
	if err != nil {
		return out, err
	}
	out.Tx = &tx
	return out, nil
}

// HandleMessage accepts one JSON chunk message, keyed by its tx id.
func (g *Gateway) HandleMessage(ctx context.Context, source string, m chunk.Message) (Outcome, error) {
	c, err := m.Chunk()
	if err != nil {
		observability.RecordGatewayChunk(source, "malformed")
		return Outcome{Key: m.TxID, Index: m.Index, Total: m.Total}, err
	}
	return g.HandleChunk(ctx, source, m.TxID, c)
}

// HandleText accepts one text chunk line. Lines from one source share a
// reassembly set.
func (g *Gateway) HandleText(ctx context.Context, source string, line []byte) (Outcome, error) {
	return g.handleText(ctx, source, source, line)
}

func (g *Gateway) handleText(ctx context.Context, source, key string, line []byte) (Outcome, error) {
	c, err := chunk.ParseText(g.cfg.TextPrefix, line)
	if err != nil {
		observability.RecordGatewayChunk(source, "malformed")
		return Outcome{Key: key}, err
	}
	return g.HandleChunk(ctx, source, key, c)
}

// HandleFrame unwraps one radio frame body with the configured layout.
// Packets that carry no payload, or carry one for another port, return
// ErrNotChunk or ErrWrongPort and are safe to ignore.
func (g *Gateway) HandleFrame(ctx context.Context, body []byte) (Outcome, error) {
	in, ok, err := g.cfg.Layout.Unwrap(body)
	if err != nil {
		observability.RecordGatewayChunk(SourceRadio, "malformed")
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, ErrNotChunk
	}
	l := g.cfg.Layout
	if l.Data.Portnum != 0 && l.Values.Portnum != 0 && in.Portnum != l.Values.Portnum {
		return Outcome{}, fmt.Errorf("%w: %d", ErrWrongPort, in.Portnum)
	}
	key := SourceRadio
	if in.From != 0 {
		key = NodeName(in.From)
	}
	if strings.HasPrefix(string(in.Payload), g.cfg.TextPrefix+":") {
		return g.handleText(ctx, SourceRadio, key, in.Payload)
	}
	c, err := chunk.ParseBinary(in.Payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrNotChunk, err)
	}
	return g.HandleChunk(ctx, SourceRadio, key, c)
}

// SubmitTx validates a complete hex transaction and delivers it.
func (g *Gateway) SubmitTx(ctx context.Context, source, txHex string) (Tx, error) {
	return g.deliver(ctx, source, "", txHex, 1)
}

func (g *Gateway) deliver(ctx context.Context, source, key, txHex string, chunks int) (Tx, error) {
	raw, err := g.validate(txHex)
	if err != nil {
		observability.RecordAssembled(source, "invalid")
		logs.Warnf("gateway.Gateway.deliver invalid source=%s err=%v", source, err)
		return Tx{}, err
	}
	tx := Tx{
		TxID:       chunk.TxID([]byte(txHex)),
		Source:     source,
		Key:        key,
		Hex:        strings.TrimSpace(txHex),
		Raw:        raw,
		Chunks:     chunks,
		ReceivedAt: g.clock.Now().UTC(),
	}
	if err := g.sink.Deliver(ctx, tx); err != nil {
		observability.RecordAssembled(source, "sink_error")
		return tx, fmt.Errorf("gateway: deliver %s: %w", tx.TxID, err)
	}
	g.delivered.Add(1)
	observability.RecordAssembled(source, "delivered")
	logs.Infof("gateway.Gateway.deliver tx_id=%s source=%s bytes=%d chunks=%d", tx.TxID, source, len(raw), chunks)
	return tx, nil
}

func (g *Gateway) validate(txHex string) ([]byte, error) {
	s := strings.TrimSpace(txHex)
	if s == "" {
		return nil, ErrEmptyTx
	}
	if len(s)/2 > g.cfg.MaxTxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTxTooLarge, len(s)/2, g.cfg.MaxTxBytes)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return raw, nil
}

// Sweep drops partial sets that made no progress within the pending TTL.
func (g *Gateway) Sweep() []string {
	expired := g.asm.Expire(g.clock.Now())
	for _, key := range expired {
		logs.Infof("gateway.Gateway.Sweep expired key=%s", key)
	}
	return expired
}

// Run sweeps every interval until ctx is done.
func (g *Gateway) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		t := g.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			g.Sweep()
		}
	}
}

func (g *Gateway) SetMeshConnected(v bool) { g.meshConnected.Store(v) }

func (g *Gateway) Status() transport.Status {
	return transport.Status{
		Status:        "running",
		MeshConnected: g.meshConnected.Load(),
		PendingTxs:    g.asm.Pending(),
	}
}

// Pending lists partial sets.
func (g *Gateway) Pending() []chunk.PendingInfo { return g.asm.Snapshot() }

// Delivered counts transactions handed to the sink.
func (g *Gateway) Delivered() uint64 { return g.delivered.Load() }

// NodeName renders a radio node number the way mesh clients display it.
func NodeName(num uint32) string { return fmt.Sprintf("!%08x", num) }
