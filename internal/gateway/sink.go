package gateway

import (
	"context"
	"time"

	logs "github.com/danmuck/smplog"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/store"
)

// Tx is one complete transaction.
type Tx struct {
	TxID   string
	Source string
	// Key is the reassembly key: tx id or radio node.
	Key        string
	Hex        string
	Raw        []byte
	Chunks     int
	ReceivedAt time.Time
}

// Sink receives complete transactions. Broadcasting to the Bitcoin network
// is a Sink concern.
type Sink interface {
	Deliver(ctx context.Context, tx Tx) error
}

type SinkFunc func(ctx context.Context, tx Tx) error

func (f SinkFunc) Deliver(ctx context.Context, tx Tx) error { return f(ctx, tx) }

// LogSink only logs.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, tx Tx) error {
	logs.Infof("gateway.LogSink tx_id=%s source=%s hex=%s", tx.TxID, tx.Source, preview(tx.Hex))
	return nil
}

// JournalSink appends every transaction to a CBOR journal.
type JournalSink struct {
	Journal *store.Journal
}

func (s JournalSink) Deliver(_ context.Context, tx Tx) error {
	return s.Journal.Append(store.Record{
		TxID:       tx.TxID,
		Source:     tx.Source,
		Payload:    tx.Raw,
		ReceivedAt: tx.ReceivedAt,
		Chunks:     tx.Chunks,
	})
}

// Sinks delivers to each sink in order and stops at the first error.
type Sinks []Sink

func (ss Sinks) Deliver(ctx context.Context, tx Tx) error {
	for _, s := range ss {
		if err := s.Deliver(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func preview(s string) string {
	if len(s) <= 32 {
		return s
	}
	return s[:32] + "..."
}
