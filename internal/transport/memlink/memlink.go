// Package memlink is an in-process session.Transport.
package memlink

import (
	"sync"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
)

// Handler receives the bytes of each write. Its error fails the write.
type Handler func(payload []byte) error

// Link hands each write to a Handler and completes it immediately.
type Link struct {
	mu      sync.Mutex
	handler Handler
	events  chan session.LinkEvent
	closed  bool
}

func New(h Handler) *Link {
	if h == nil {
		h = func([]byte) error { return nil }
	}
	return &Link{handler: h, events: make(chan session.LinkEvent, 16)}
}

func (l *Link) Submit(w session.Write) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return transport.ErrClosed
	}
	payload := append([]byte(nil), w.Payload...)
	l.events <- session.WriteResult(w.ID, l.handler(payload))
	return nil
}

func (l *Link) Events() <-chan session.LinkEvent { return l.events }

// SetCapacity announces a negotiated write size.
func (l *Link) SetCapacity(maxPacketBytes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.events <- session.Capacity(maxPacketBytes)
	}
}

// Close reports a disconnect; later writes fail synchronously.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.events <- session.Disconnected(transport.ErrClosed)
	return nil
}
