package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
)

var (
	ErrChunkConflict = errors.New("chunk: duplicate index with different data")
	ErrSetTooLarge   = errors.New("chunk: set exceeds size limit")
)

// DefaultPendingTTL bounds how long a partial set is kept without progress.
const DefaultPendingTTL = 10 * time.Minute

// Assembler collects chunks per key (tx id or radio sender) in any order.
type Assembler struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxBytes int
	pending  map[string]*pendingSet
}

type pendingSet struct {
	total     int
	size      int
	parts     map[int][]byte
	firstSeen time.Time
	lastSeen  time.Time
}

// PendingInfo describes one partial set.
type PendingInfo struct {
	Key       string
	Received  int
	Total     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// NewAssembler keeps partial sets for ttl. A positive maxBytes bounds the
// data one set may hold; a set whose total could not fit is refused outright
// since every chunk carries at least one byte.
func NewAssembler(ttl time.Duration, maxBytes int) *Assembler {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Assembler{ttl: ttl, maxBytes: maxBytes, pending: make(map[string]*pendingSet)}
}

// Add records c under key. When the set becomes complete the joined
// payload is returned with done set, and the set is dropped.
func (a *Assembler) Add(key string, c Chunk, now time.Time) ([]byte, bool, error) {
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	if a.maxBytes > 0 && c.Total > a.maxBytes {
		return nil, false, fmt.Errorf("%w: key %s total %d above %d bytes", ErrSetTooLarge, key, c.Total, a.maxBytes)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	set, ok := a.pending[key]
	if !ok {
		set = &pendingSet{total: c.Total, parts: make(map[int][]byte), firstSeen: now}
		a.pending[key] = set
	}
	if set.total != c.Total {
		return nil, false, fmt.Errorf("%w: key %s has %d, chunk %d/%d", ErrTotalMismatch, key, set.total, c.Index, c.Total)
	}
	if prev, dup := set.parts[c.Index]; dup {
		if !bytes.Equal(prev, c.Data) {
			return nil, false, fmt.Errorf("%w: key %s index %d", ErrChunkConflict, key, c.Index)
		}
		logs.Debugf("chunk.Assembler.Add duplicate key=%s chunk=%d/%d", key, c.Index, c.Total)
		set.lastSeen = now
		return nil, false, nil
	}
	if a.maxBytes > 0 && set.size+len(c.Data) > a.maxBytes {
		delete(a.pending, key)
		logs.Warnf("chunk.Assembler.Add dropped key=%s size=%d limit=%d", key, set.size+len(c.Data), a.maxBytes)
		return nil, false, fmt.Errorf("%w: key %s holds %d bytes, limit %d", ErrSetTooLarge, key, set.size+len(c.Data), a.maxBytes)
	}
	set.parts[c.Index] = append([]byte(nil), c.Data...)
	set.size += len(c.Data)
	set.lastSeen = now
	logs.Debugf("chunk.Assembler.Add key=%s chunk=%d/%d received=%d", key, c.Index, c.Total, len(set.parts))

	if len(set.parts) < set.total {
		return nil, false, nil
	}
	delete(a.pending, key)
	out := make([]byte, 0, set.size)
	for i := 1; i <= set.total; i++ {
		out = append(out, set.parts[i]...)
	}
	logs.Infof("chunk.Assembler.Add complete key=%s chunks=%d bytes=%d", key, set.total, len(out))
	return out, true, nil
}

// Reset drops any partial set for key.
func (a *Assembler) Reset(key string) {
	a.mu.Lock()
	delete(a.pending, key)
	a.mu.Unlock()
}

// Expire drops sets with no progress within the TTL and returns their keys.
func (a *Assembler) Expire(now time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var expired []string
	for key, set := range a.pending {
		if now.Sub(set.lastSeen) >= a.ttl {
			expired = append(expired, key)
			delete(a.pending, key)
			logs.Warnf("chunk.Assembler.Expire key=%s received=%d/%d", key, len(set.parts), set.total)
		}
	}
	sort.Strings(expired)
	return expired
}

func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Snapshot lists partial sets ordered by key.
func (a *Assembler) Snapshot() []PendingInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PendingInfo, 0, len(a.pending))
	for key, set := range a.pending {
		out = append(out, PendingInfo{
			Key:       key,
			Received:  len(set.parts),
			Total:     set.total,
			FirstSeen: set.firstSeen,
			LastSeen:  set.lastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
