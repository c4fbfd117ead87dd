// Package wslink streams chunks to a gateway over one websocket.
package wslink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/gorilla/websocket"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
)

const DefaultWriteTimeout = 10 * time.Second

var ErrRejected = errors.New("wslink: gateway rejected chunk")

// Link writes each chunk message as one text frame. The gateway answers
// with a transport.Reply naming the chunk index; that reply completes the
// write for the index.
type Link struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	events       chan session.LinkEvent

	mu      sync.Mutex
	writeMu sync.Mutex
	pending map[int]uint64
	closed  bool
	done    chan struct{}
}

// Dial connects to a gateway base URL (http, https, ws or wss).
func Dial(ctx context.Context, baseURL string, header http.Header) (*Link, error) {
	u := wsURL(baseURL)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	logs.Infof("wslink.Dial connected url=%s", u)
	return New(conn), nil
}

func New(conn *websocket.Conn) *Link {
	l := &Link{
		conn:         conn,
		writeTimeout: DefaultWriteTimeout,
		events:       make(chan session.LinkEvent, 8),
		pending:      make(map[int]uint64),
		done:         make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *Link) Submit(w session.Write) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return transport.ErrClosed
	}
	l.pending[w.Index] = w.ID
	l.mu.Unlock()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, w.Payload); err != nil {
		l.mu.Lock()
		delete(l.pending, w.Index)
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *Link) Events() <-chan session.LinkEvent { return l.events }

// Close sends a close frame and tears the connection down.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	l.writeMu.Unlock()
	err := l.conn.Close()
	<-l.done
	return err
}

func (l *Link) readLoop() {
	defer close(l.done)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logs.Warnf("wslink.Link.readLoop closed err=%v", err)
			}
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			l.emit(session.Disconnected(err))
			return
		}
		var reply transport.Reply
		if err := json.Unmarshal(data, &reply); err != nil {
			logs.Debugf("wslink.Link.readLoop ignoring message err=%v", err)
			continue
		}
		l.complete(reply)
	}
}

func (l *Link) complete(reply transport.Reply) {
	l.mu.Lock()
	id, ok := l.pending[reply.Chunk]
	if ok {
		delete(l.pending, reply.Chunk)
	}
	l.mu.Unlock()
	if !ok {
		logs.Debugf("wslink.Link.complete unmatched chunk=%d status=%s", reply.Chunk, reply.Status)
		return
	}
	var err error
	if reply.Status != transport.ReplyOK {
		err = fmt.Errorf("%w: chunk %d: %s", ErrRejected, reply.Chunk, reply.Message)
	}
	l.emit(session.WriteResult(id, err))
}

func (l *Link) emit(ev session.LinkEvent) {
	select {
	case l.events <- ev:
	default:
		logs.Warnf("wslink.Link.emit dropped kind=%s", ev.Kind)
	}
}

func wsURL(base string) string {
	u := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://"):
		u = "ws://" + u
	}
	if !strings.HasSuffix(u, transport.WSPath) {
		u += transport.WSPath
	}
	return u
}
