// Package httplink posts chunks to a gateway HTTP API.
package httplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/smplog"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 512
)

// StatusError reports a non-200 gateway answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway status %d", e.Code)
	}
	return fmt.Sprintf("gateway status %d: %s", e.Code, e.Body)
}

// Link submits each write as one POST of a JSON chunk message. The
// response completes the write: 200 is success, anything else fails it.
type Link struct {
	base   string
	client *http.Client
	events chan session.LinkEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(baseURL string, client *http.Client) *Link {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		events: make(chan session.LinkEvent, 4),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (l *Link) Submit(w session.Write) error {
	if l.ctx.Err() != nil {
		return transport.ErrClosed
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		err := l.post(l.ctx, transport.ChunkPath, w.Payload, nil)
		if err != nil {
			logs.Debugf("httplink.Link.Submit write_id=%d chunk=%d err=%v", w.ID, w.Index, err)
		}
		select {
		case l.events <- session.WriteResult(w.ID, err):
		case <-l.ctx.Done():
		}
	}()
	return nil
}

func (l *Link) Events() <-chan session.LinkEvent { return l.events }

// Close aborts in-flight requests.
func (l *Link) Close() error {
	l.cancel()
	l.wg.Wait()
	return nil
}

// Status fetches the gateway status document.
func (l *Link) Status(ctx context.Context) (transport.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+transport.StatusPath, nil)
	if err != nil {
		return transport.Status{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return transport.Status{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return transport.Status{}, statusError(resp)
	}
	var st transport.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return transport.Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// SubmitTx hands a whole hex transaction to the gateway in one request.
func (l *Link) SubmitTx(ctx context.Context, txHex string) (transport.Reply, error) {
	body, err := json.Marshal(transport.TxRequest{TxHex: txHex})
	if err != nil {
		return transport.Reply{}, err
	}
	var reply transport.Reply
	if err := l.post(ctx, transport.TxPath, body, &reply); err != nil {
		return transport.Reply{}, err
	}
	return reply, nil
}

func (l *Link) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
