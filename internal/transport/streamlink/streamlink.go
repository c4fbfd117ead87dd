// Package streamlink binds a session to a byte stream: the radio TCP API,
// a serial adapter, or any io.ReadWriteCloser.
package streamlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/smplog"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/frame"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
)

const (
	DefaultDialTimeout = 5 * time.Second
	inboundBuffer      = 32
	eventBuffer        = 16
)

type Options struct {
	// Framed reads inbound traffic as frames. Unframed links read lines.
	Framed bool
	Frame  frame.Limits
	// WriteTimeout bounds one write on conns that support deadlines.
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	// DiscardInbound drops everything read from the stream. Set it when
	// nothing consumes Inbound, so the reader keeps watching for EOF.
	DiscardInbound bool
}

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Link writes session payloads to a stream as-is. Payloads produced by a
// framed pipeline already carry their header. A write completes once the
// stream accepted every byte.
type Link struct {
	conn   io.ReadWriteCloser
	opts   Options
	writes chan session.Write
	events chan session.LinkEvent
	frames chan []byte
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	discarded atomic.Uint64
}

// Dial opens a TCP stream to addr.
func Dial(ctx context.Context, addr string, opts Options) (*Link, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	logs.Infof("streamlink.Dial connected addr=%s framed=%t", addr, opts.Framed)
	return New(conn, opts), nil
}

// New takes ownership of conn and starts its reader and writer.
func New(conn io.ReadWriteCloser, opts Options) *Link {
	if opts.Frame.Magic == ([2]byte{}) {
		opts.Frame = frame.DefaultLimits()
	}
	l := &Link{
		conn:   conn,
		opts:   opts,
		writes: make(chan session.Write, 1),
		events: make(chan session.LinkEvent, eventBuffer),
		frames: make(chan []byte, inboundBuffer),
		done:   make(chan struct{}),
	}
	go l.writeLoop()
	go l.readLoop()
	return l
}

// Submit queues one write. Only one write may be queued at a time.
func (l *Link) Submit(w session.Write) error {
	select {
	case <-l.done:
		return l.closedErr()
	default:
	}
	select {
	case l.writes <- w:
		return nil
	default:
		return transport.ErrBusy
	}
}

func (l *Link) Events() <-chan session.LinkEvent { return l.events }

// Inbound yields frame bodies (framed) or lines (unframed) read from the
// stream. It is closed when the link shuts down.
func (l *Link) Inbound() <-chan []byte { return l.frames }

// Discarded reports how many inbound frames or lines were dropped.
func (l *Link) Discarded() uint64 { return l.discarded.Load() }

// Done is closed once the link has shut down.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err reports why the link shut down.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Link) Close() error {
	l.shutdown(transport.ErrClosed)
	return nil
}

func (l *Link) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case w := <-l.writes:
			err := l.write(w.Payload)
			l.emit(session.WriteResult(w.ID, err))
			if err != nil {
				logs.Warnf("streamlink.Link.write failed write_id=%d err=%v", w.ID, err)
				l.shutdown(err)
				return
			}
		}
	}
}

func (l *Link) write(payload []byte) error {
	if dl, ok := l.conn.(deadliner); ok && l.opts.WriteTimeout > 0 {
		if err := dl.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout)); err != nil {
			return err
		}
	}
	_, err := l.conn.Write(payload)
	return err
}

func (l *Link) readLoop() {
	defer close(l.frames)
	var err error
	if l.opts.Framed {
		err = l.readFrames()
	} else {
		err = l.readLines()
	}
	l.shutdown(err)
}

func (l *Link) readFrames() error {
	fr := frame.NewReader(l.conn, l.opts.Frame)
	for {
		body, err := fr.ReadFrame()
		if err != nil {
			if fr.Skipped() > 0 {
				logs.Debugf("streamlink.Link.readFrames skipped=%d", fr.Skipped())
			}
			return err
		}
		if !l.deliver(body) {
			return nil
		}
	}
}

func (l *Link) readLines() error {
	sc := bufio.NewScanner(l.conn)
	sc.Buffer(make([]byte, 0, 4096), frame.MaxBodyLen)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if !l.deliver(line) {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (l *Link) deliver(b []byte) bool {
	if l.opts.DiscardInbound {
		l.discarded.Add(1)
		return true
	}
	select {
	case l.frames <- b:
		return true
	case <-l.done:
		return false
	}
}

func (l *Link) emit(ev session.LinkEvent) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *Link) shutdown(cause error) {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.err = cause
		l.mu.Unlock()
		// at most one write result can be queued ahead of this
		select {
		case l.events <- session.Disconnected(cause):
		default:
		}
		close(l.done)
		_ = l.conn.Close()
		logs.Debugf("streamlink.Link.shutdown cause=%v discarded=%d", cause, l.discarded.Load())
	})
}

func (l *Link) closedErr() error {
	if err := l.Err(); err != nil && !errors.Is(err, transport.ErrClosed) {
		return fmt.Errorf("%w: %v", transport.ErrClosed, err)
	}
	return transport.ErrClosed
}
