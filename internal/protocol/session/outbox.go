package session

import (
	"strings"
	"sync"
	"time"
)

// PendingChunk tracks the chunk currently awaiting its write completion.
type PendingChunk struct {
	WriteID       uint64
	Index         int
	Total         int
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	AckDeadlineAt time.Time
	LastError     string
}

// inflight holds at most one PendingChunk.
type inflight struct {
	mu   sync.RWMutex
	item PendingChunk
	set  bool
}

func (o *inflight) Upsert(item PendingChunk) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.item = item
	o.set = true
}

func (o *inflight) MarkAttempt(writeID uint64, at, deadline time.Time) (PendingChunk, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.set {
		return PendingChunk{}, false
	}
	o.item.WriteID = writeID
	o.item.Attempts++
	o.item.LastAttemptAt = at
	o.item.AckDeadlineAt = deadline
	return o.item, true
}

func (o *inflight) MarkError(lastErr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set {
		o.item.LastError = strings.TrimSpace(lastErr)
	}
}

func (o *inflight) Remove() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.item = PendingChunk{}
	o.set = false
}

func (o *inflight) Get() (PendingChunk, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.item, o.set
}
