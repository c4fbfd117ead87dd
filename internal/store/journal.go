package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
)

var ErrCorruptJournal = errors.New("store: corrupt journal")

// Record is one reassembled transaction received by the gateway.
type Record struct {
	TxID       string    `cbor:"1,keyasint"`
	Source     string    `cbor:"2,keyasint"`
	Payload    []byte    `cbor:"3,keyasint"`
	ReceivedAt time.Time `cbor:"4,keyasint"`
	Chunks     int       `cbor:"5,keyasint,omitempty"`
}

// Journal is an append-only CBOR sequence file.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open journal: %w", err)
	}
	return &Journal{path: path, f: f}, nil
}

// Append writes r as one CBOR item and syncs the file.
func (j *Journal) Append(r Record) error {
	b, err := encMode.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("store: journal closed")
	}
	if _, err := j.f.Write(b); err != nil {
		return fmt.Errorf("store: append record: %w", err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("store: sync journal: %w", err)
	}
	logs.Debugf("store.Journal.Append tx_id=%s source=%s bytes=%d", r.TxID, r.Source, len(r.Payload))
	return nil
}

// ReadAll decodes every record in the journal. A torn trailing record
// returns the records before it with ErrCorruptJournal.
func (j *Journal) ReadAll() ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ReadJournal(j.path)
}

func ReadJournal(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open journal: %w", err)
	}
	defer f.Close()

	dec := decMode.NewDecoder(bufio.NewReader(f))
	var out []Record
	for {
		var r Record
		err := dec.Decode(&r)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("%w: record %d: %v", ErrCorruptJournal, len(out)+1, err)
		}
		out = append(out, r)
	}
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
