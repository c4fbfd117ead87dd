package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/testutil/testlog"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/httplink"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/wslink"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Gateway, *captureSink) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g, sink, _ := newTestGateway(t, Config{})
	return NewRouter(g, RouterConfig{Node: "test"}), g, sink
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, transport.Reply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var reply transport.Reply
	_ = json.Unmarshal(w.Body.Bytes(), &reply)
	return w, reply
}

func TestPostChunkFlow(t *testing.T) {
	testlog.Start(t)
	r, _, sink := newTestRouter(t)

	w, reply := doJSON(t, r, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "tx_1", Index: 2, Total: 2, Data: "ff"})
	if w.Code != http.StatusOK || reply.Status != transport.ReplyOK || reply.Chunk != 2 || reply.TxID != "" {
		t.Fatalf("first chunk: %d %+v", w.Code, reply)
	}
	w, reply = doJSON(t, r, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "tx_1", Index: 1, Total: 2, Data: "00"})
	if w.Code != http.StatusOK || reply.TxID != chunk.TxID([]byte("00ff")) {
		t.Fatalf("second chunk: %d %+v", w.Code, reply)
	}
	if got := sink.all(); len(got) != 1 || got[0].Hex != "00ff" {
		t.Fatalf("txs = %+v", got)
	}
}

func TestPostChunkErrors(t *testing.T) {
	testlog.Start(t)
	r, _, _ := newTestRouter(t)

	w, reply := doJSON(t, r, http.MethodPost, transport.ChunkPath, "{not json")
	if w.Code != http.StatusBadRequest || reply.Status != transport.ReplyError {
		t.Fatalf("bad json: %d %+v", w.Code, reply)
	}
	w, _ = doJSON(t, r, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "x", Index: 3, Total: 2, Data: "00"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("index past total: %d", w.Code)
	}
	doJSON(t, r, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "x", Index: 1, Total: 2, Data: "00"})
	w, _ = doJSON(t, r, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "x", Index: 1, Total: 2, Data: "11"})
	if w.Code != http.StatusConflict {
		t.Fatalf("conflict: %d", w.Code)
	}
	w, _ = doJSON(t, r, http.MethodPost, transport.ChunkPath, chunk.Message{Index: 1, Total: 1, Data: "zz"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid hex on completion: %d", w.Code)
	}
}

func TestPostChunkBoundsTotalAndSize(t *testing.T) {
	testlog.Start(t)
	r, g, _ := newTestRouter(t)

	w, reply := doJSON(t, r, http.MethodPost, transport.ChunkPath, `{"tx_id":"x","index":1,"total":3000000000,"data":"ab"}`)
	if w.Code != http.StatusBadRequest || reply.Status != transport.ReplyError {
		t.Fatalf("huge total: %d %+v", w.Code, reply)
	}
	w, _ = doJSON(t, r, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "x", Index: 1, Total: 2*DefaultMaxTxBytes + 1, Data: "ab"})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("total above max tx size: %d", w.Code)
	}
	if p := g.Pending(); len(p) != 0 {
		t.Fatalf("expected no pending sets, got %+v", p)
	}

	gin.SetMode(gin.TestMode)
	small, _, _ := newTestGateway(t, Config{MaxTxBytes: 4})
	sr := NewRouter(small, RouterConfig{Node: "test"})
	w, _ = doJSON(t, sr, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "y", Index: 1, Total: 3, Data: "00112233"})
	if w.Code != http.StatusOK {
		t.Fatalf("first chunk: %d", w.Code)
	}
	w, _ = doJSON(t, sr, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "y", Index: 2, Total: 3, Data: "44"})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("accumulated size: %d", w.Code)
	}
	if len(small.Pending()) != 0 {
		t.Fatalf("expected oversized set to be dropped")
	}
}

func TestPostTxAndStatus(t *testing.T) {
	testlog.Start(t)
	r, g, sink := newTestRouter(t)

	w, reply := doJSON(t, r, http.MethodPost, transport.TxPath, transport.TxRequest{})
	if w.Code != http.StatusBadRequest || reply.Status != transport.ReplyError {
		t.Fatalf("missing tx: %d %+v", w.Code, reply)
	}
	w, reply = doJSON(t, r, http.MethodPost, transport.TxPath, transport.TxRequest{TxHex: "cafe"})
	if w.Code != http.StatusOK || reply.Message != "Transaction queued" {
		t.Fatalf("tx: %d %+v", w.Code, reply)
	}
	if len(sink.all()) != 1 {
		t.Fatalf("delivered %d", len(sink.all()))
	}

	doJSON(t, r, http.MethodPost, transport.ChunkPath, chunk.Message{TxID: "p", Index: 1, Total: 3, Data: "00"})
	g.SetMeshConnected(true)
	req := httptest.NewRequest(http.MethodGet, transport.StatusPath, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var st transport.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status != "running" || !st.MeshConnected || st.PendingTxs != 1 {
		t.Fatalf("status = %+v", st)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
}

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.InterChunkDelay = 0
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.MaxChunkSize = 6
	return cfg
}

func TestSenderToGatewayOverHTTP(t *testing.T) {
	testlog.Start(t)
	r, _, sink := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	link := httplink.New(srv.URL, srv.Client())
	defer link.Close()
	s, err := session.NewSender(link, testSessionConfig(), session.WithPipeline(session.Pipeline{Format: session.FormatJSON}))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	res, err := s.Send(context.Background(), []byte(txHex))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.State != session.StateCompleted {
		t.Fatalf("result = %+v", res)
	}
	got := sink.all()
	if len(got) != 1 || got[0].Hex != txHex || got[0].TxID != res.TxID {
		t.Fatalf("txs = %+v result tx=%s", got, res.TxID)
	}
}

func TestSenderToGatewayOverWebsocket(t *testing.T) {
	testlog.Start(t)
	r, _, sink := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	link, err := wslink.Dial(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer link.Close()
	s, err := session.NewSender(link, testSessionConfig(), session.WithPipeline(session.Pipeline{Format: session.FormatJSON}))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	res, err := s.Send(context.Background(), []byte(txHex))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.State != session.StateCompleted || res.Writes != res.Total {
		t.Fatalf("result = %+v", res)
	}
	if got := sink.all(); len(got) != 1 || got[0].Source != SourceWS {
		t.Fatalf("txs = %+v", got)
	}
}
