package session

import "fmt"

// Write is one link write. ID correlates the completion event.
type Write struct {
	ID      uint64
	Index   int
	Attempt int
	Payload []byte
}

type EventKind uint8

const (
	// EventWriteResult completes the write named by WriteID.
	EventWriteResult EventKind = iota + 1
	// EventDisconnected reports that the link is gone.
	EventDisconnected
	// EventCapacity reports a negotiated maximum write size.
	EventCapacity
)

func (k EventKind) String() string {
	switch k {
	case EventWriteResult:
		return "write_result"
	case EventDisconnected:
		return "disconnected"
	case EventCapacity:
		return "capacity"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// LinkEvent is an asynchronous notification from the link.
type LinkEvent struct {
	Kind           EventKind
	WriteID        uint64
	OK             bool
	Err            error
	MaxPacketBytes int
}

// Transport is the link a Sender writes through. Submit hands over one
// write and returns without waiting for completion; a non-nil error means
// the link refused the write synchronously. Completion and link state
// events arrive on Events. A closed Events channel counts as a disconnect.
type Transport interface {
	Submit(w Write) error
	Events() <-chan LinkEvent
}

// WriteResult builds a completion event.
func WriteResult(id uint64, err error) LinkEvent {
	return LinkEvent{Kind: EventWriteResult, WriteID: id, OK: err == nil, Err: err}
}

func Disconnected(err error) LinkEvent {
	return LinkEvent{Kind: EventDisconnected, Err: err}
}

func Capacity(maxPacketBytes int) LinkEvent {
	return LinkEvent{Kind: EventCapacity, MaxPacketBytes: maxPacketBytes}
}
