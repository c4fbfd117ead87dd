package memlink

import (
	"context"
	"errors"
	"testing"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/testutil/testlog"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
)

func TestSubmitCompletesWithHandlerResult(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	calls := 0
	l := New(func(b []byte) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})

	for id := uint64(1); id <= 2; id++ {
		if err := l.Submit(session.Write{ID: id, Payload: []byte("x")}); err != nil {
			t.Fatalf("submit %d: %v", id, err)
		}
	}
	ev := <-l.Events()
	if ev.Kind != session.EventWriteResult || ev.WriteID != 1 || !ev.OK {
		t.Fatalf("first event = %+v", ev)
	}
	ev = <-l.Events()
	if ev.WriteID != 2 || ev.OK || !errors.Is(ev.Err, boom) {
		t.Fatalf("second event = %+v", ev)
	}
}

func TestCloseReportsDisconnect(t *testing.T) {
	testlog.Start(t)
	l := New(nil)
	l.SetCapacity(120)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ev := <-l.Events(); ev.Kind != session.EventCapacity || ev.MaxPacketBytes != 120 {
		t.Fatalf("capacity event = %+v", ev)
	}
	if ev := <-l.Events(); ev.Kind != session.EventDisconnected {
		t.Fatalf("disconnect event = %+v", ev)
	}
	if err := l.Submit(session.Write{ID: 1}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("submit after close = %v", err)
	}
}

func TestSenderOverLoopback(t *testing.T) {
	testlog.Start(t)
	var got [][]byte
	l := New(func(b []byte) error {
		got = append(got, b)
		return nil
	})
	cfg := session.DefaultConfig()
	cfg.InterChunkDelay = 0
	s, err := session.NewSender(l, cfg)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	payload := make([]byte, 400)
	for i := range payload {
		payload[i] = 'a' + byte(i%26)
	}
	res, err := s.Send(context.Background(), payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.State != session.StateCompleted || res.Sent != 3 {
		t.Fatalf("result = %+v", res)
	}
	if len(got) != 3 {
		t.Fatalf("writes = %d", len(got))
	}
	parts := make([]chunk.Chunk, 0, len(got))
	for _, b := range got {
		c, err := chunk.ParseText(chunk.DefaultTextPrefix, b)
		if err != nil {
			t.Fatalf("parse %q: %v", b, err)
		}
		parts = append(parts, c)
	}
	if string(chunk.Join(parts)) != string(payload) {
		t.Fatalf("joined payload differs")
	}
}
