package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logs "github.com/danmuck/smplog"
)

// Checkpoint records how far a transmission got so it can be resumed.
type Checkpoint struct {
	Digest    [32]byte  `cbor:"1,keyasint"`
	TxID      string    `cbor:"2,keyasint"`
	Total     int       `cbor:"3,keyasint"`
	Acked     int       `cbor:"4,keyasint"`
	ChunkSize int       `cbor:"5,keyasint"`
	UpdatedAt time.Time `cbor:"6,keyasint"`
}

// CheckpointStore keeps one checkpoint file per payload digest.
type CheckpointStore struct {
	dir string
}

func OpenCheckpoints(dir string) (*CheckpointStore, error) {
	if dir == "" {
		return nil, errors.New("store: checkpoint dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (s *CheckpointStore) path(digest [32]byte) string {
	return filepath.Join(s.dir, hex.EncodeToString(digest[:])+".ckpt")
}

// Save replaces the checkpoint for c.Digest atomically.
func (s *CheckpointStore) Save(c Checkpoint) error {
	b, err := encMode.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: encode checkpoint: %w", err)
	}
	final := s.path(c.Digest)
	tmp, err := os.CreateTemp(s.dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("store: create checkpoint: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: commit checkpoint: %w", err)
	}
	logs.Debugf("store.CheckpointStore.Save tx_id=%s acked=%d/%d", c.TxID, c.Acked, c.Total)
	return nil
}

// Load returns the checkpoint for digest; ok is false when none exists.
func (s *CheckpointStore) Load(digest [32]byte) (Checkpoint, bool, error) {
	b, err := os.ReadFile(s.path(digest))
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("store: read checkpoint: %w", err)
	}
	var c Checkpoint
	if err := decMode.Unmarshal(b, &c); err != nil {
		return Checkpoint{}, false, fmt.Errorf("store: decode checkpoint: %w", err)
	}
	if c.Digest != digest {
		return Checkpoint{}, false, fmt.Errorf("store: checkpoint digest mismatch in %s", s.path(digest))
	}
	return c, true, nil
}

// Clear removes the checkpoint for digest. Missing files are not an error.
func (s *CheckpointStore) Clear(digest [32]byte) error {
	err := os.Remove(s.path(digest))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store: clear checkpoint: %w", err)
	}
	return nil
}
