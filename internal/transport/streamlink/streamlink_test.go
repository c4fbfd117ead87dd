package streamlink

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/frame"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/testutil/testlog"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
)

func recvEvent(t *testing.T, l *Link) session.LinkEvent {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for link event")
		return session.LinkEvent{}
	}
}

func TestFramedSenderOverPipe(t *testing.T) {
	testlog.Start(t)
	local, peer := net.Pipe()
	l := New(local, Options{Framed: true, WriteTimeout: time.Second})
	defer l.Close()

	bodies := make(chan []byte, 8)
	go func() {
		fr := frame.NewReader(peer, frame.DefaultLimits())
		for {
			body, err := fr.ReadFrame()
			if err != nil {
				close(bodies)
				return
			}
			bodies <- body
		}
	}()

	cfg := session.DefaultConfig()
	cfg.InterChunkDelay = 0
	s, err := session.NewSender(l, cfg, session.WithPipeline(session.Pipeline{Format: session.FormatText, Framed: true}))
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	payload := []byte("0200000001abcdef")
	res, err := s.Send(context.Background(), payload)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.State != session.StateCompleted || res.Sent != 1 {
		t.Fatalf("result = %+v", res)
	}
	body := <-bodies
	c, err := chunk.ParseText(chunk.DefaultTextPrefix, body)
	if err != nil {
		t.Fatalf("parse body %q: %v", body, err)
	}
	if c.Index != 1 || c.Total != 1 || string(c.Data) != string(payload) {
		t.Fatalf("chunk = %+v", c)
	}
	_ = peer.Close()
}

func TestInboundFramesAndDisconnect(t *testing.T) {
	testlog.Start(t)
	local, peer := net.Pipe()
	l := New(local, Options{Framed: true})

	go func() {
		_, _ = peer.Write([]byte("boot log\r\n"))
		b, _ := frame.Encode([]byte("hello"), frame.DefaultLimits())
		_, _ = peer.Write(b)
		_ = peer.Close()
	}()

	select {
	case body := <-l.Inbound():
		if string(body) != "hello" {
			t.Fatalf("inbound = %q", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for inbound frame")
	}
	ev := recvEvent(t, l)
	if ev.Kind != session.EventDisconnected {
		t.Fatalf("event = %+v", ev)
	}
	<-l.Done()
	if _, ok := <-l.Inbound(); ok {
		t.Fatalf("inbound channel still open")
	}
	if err := l.Submit(session.Write{ID: 9}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("submit after disconnect = %v", err)
	}
}

func TestUnframedLines(t *testing.T) {
	testlog.Start(t)
	local, peer := net.Pipe()
	l := New(local, Options{})
	defer l.Close()

	go func() {
		_, _ = peer.Write([]byte("BTX:1/2:ab\nBTX:2/2:cd\n"))
	}()
	for _, want := range []string{"BTX:1/2:ab", "BTX:2/2:cd"} {
		select {
		case line := <-l.Inbound():
			if string(line) != want {
				t.Fatalf("line = %q, want %q", line, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	_ = peer.Close()
}

func TestDiscardInboundStillSeesDisconnect(t *testing.T) {
	testlog.Start(t)
	local, peer := net.Pipe()
	l := New(local, Options{DiscardInbound: true})
	defer l.Close()

	go func() {
		for i := 0; i < 40; i++ {
			if _, err := peer.Write([]byte("console line\n")); err != nil {
				return
			}
		}
		_ = peer.Close()
	}()
	ev := recvEvent(t, l)
	if ev.Kind != session.EventDisconnected {
		t.Fatalf("expected disconnect, got %+v", ev)
	}
	if got := l.Discarded(); got != 40 {
		t.Fatalf("discarded = %d, want 40", got)
	}
	if _, open := <-l.Inbound(); open {
		t.Fatalf("expected inbound to be closed")
	}
}

func TestWriteFailureCompletesAndDisconnects(t *testing.T) {
	testlog.Start(t)
	local, peer := net.Pipe()
	_ = peer.Close()
	l := New(local, Options{Framed: true, WriteTimeout: 100 * time.Millisecond})

	// the reader may observe the closed pipe first
	if err := l.Submit(session.Write{ID: 3, Payload: []byte("x")}); err != nil {
		if !errors.Is(err, transport.ErrClosed) {
			t.Fatalf("submit = %v", err)
		}
	}
	sawDisconnect := false
	for !sawDisconnect {
		ev := recvEvent(t, l)
		switch ev.Kind {
		case session.EventWriteResult:
			if ev.OK {
				t.Fatalf("write to closed pipe succeeded")
			}
		case session.EventDisconnected:
			sawDisconnect = true
		}
	}
}

func TestDialRefused(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	if _, err := Dial(context.Background(), addr, Options{DialTimeout: time.Second}); err == nil {
		t.Fatalf("dial closed port succeeded")
	}
}

func TestDialTCP(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()
	l, err := Dial(context.Background(), ln.Addr().String(), Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer l.Close()
	conn := <-accepted
	defer conn.Close()

	if err := l.Submit(session.Write{ID: 1, Payload: []byte("BTX:1/1:aa\n")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ev := recvEvent(t, l)
	if ev.Kind != session.EventWriteResult || ev.WriteID != 1 || !ev.OK {
		t.Fatalf("event = %+v", ev)
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "BTX:1/1:aa\n" {
		t.Fatalf("peer read %q", buf[:n])
	}
}
