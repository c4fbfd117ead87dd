package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/testutil/testlog"
)

func TestCheckpointSaveLoadClear(t *testing.T) {
	testlog.Start(t)
	s, err := OpenCheckpoints(filepath.Join(t.TempDir(), "ckpt"))
	if err != nil {
		t.Fatalf("open checkpoints: %v", err)
	}
	payload := []byte("0200000001abcdef")
	digest := chunk.Digest(payload)

	if _, ok, err := s.Load(digest); ok || err != nil {
		t.Fatalf("expected no checkpoint, got ok=%v err=%v", ok, err)
	}
	want := Checkpoint{
		Digest:    digest,
		TxID:      chunk.TxID(payload),
		Total:     3,
		Acked:     2,
		ChunkSize: 190,
		UpdatedAt: time.Unix(1700000000, 0),
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	want.Acked = 3
	if err := s.Save(want); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, ok, err := s.Load(digest)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Acked != 3 || got.Total != 3 || got.ChunkSize != 190 || got.TxID != want.TxID || !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Fatalf("unexpected checkpoint: %+v", got)
	}
	if err := s.Clear(digest); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Clear(digest); err != nil {
		t.Fatalf("clear missing: %v", err)
	}
	if _, ok, _ := s.Load(digest); ok {
		t.Fatalf("checkpoint should be cleared")
	}
}

func TestCheckpointEncodingIsDeterministic(t *testing.T) {
	testlog.Start(t)
	c := Checkpoint{TxID: "tx_01", Total: 2, Acked: 1, ChunkSize: 10, UpdatedAt: time.Unix(5, 0)}
	a, err := encMode.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, _ := encMode.Marshal(c)
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical encodings")
	}
}

func TestJournalAppendReadAll(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "journal.cbor")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	for i, src := range []string{"!a1b2c3d4", "http"} {
		r := Record{
			TxID:       "tx_" + src,
			Source:     src,
			Payload:    []byte{byte(i), 0xff},
			ReceivedAt: time.Unix(int64(1700000000+i), 0),
			Chunks:     i + 1,
		}
		if err := j.Append(r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	records, err := j.ReadAll()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(records) != 2 || records[1].Source != "http" || !bytes.Equal(records[1].Payload, []byte{1, 0xff}) {
		t.Fatalf("unexpected records: %+v", records)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := j.Append(Record{TxID: "late"}); err == nil {
		t.Fatalf("expected append after close to fail")
	}
}

func TestJournalTornTail(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "journal.cbor")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if err := j.Append(Record{TxID: "tx_1", Payload: []byte("ok")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = j.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	// map header promising more entries than follow
	_, _ = f.Write([]byte{0xa5, 0x01})
	_ = f.Close()

	records, err := ReadJournal(path)
	if !errors.Is(err, ErrCorruptJournal) {
		t.Fatalf("expected ErrCorruptJournal, got %v", err)
	}
	if len(records) != 1 || records[0].TxID != "tx_1" {
		t.Fatalf("expected intact prefix, got %+v", records)
	}
}

func TestReadJournalMissingFile(t *testing.T) {
	testlog.Start(t)
	records, err := ReadJournal(filepath.Join(t.TempDir(), "none.cbor"))
	if err != nil || len(records) != 0 {
		t.Fatalf("expected empty journal, got %v %v", records, err)
	}
}
