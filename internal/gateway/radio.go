package gateway

import (
	"context"
	"errors"
	"time"

	logs "github.com/danmuck/smplog"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
)

// RadioLink is the receive side of a radio stream.
type RadioLink interface {
	Inbound() <-chan []byte
	Err() error
	Close() error
}

// RadioDialer opens a radio stream.
type RadioDialer func(ctx context.Context) (RadioLink, error)

// ServeRadio feeds every inbound frame (framed) or line to the gateway
// until the link closes or ctx is done.
func (g *Gateway) ServeRadio(ctx context.Context, link RadioLink, framed bool) error {
	g.SetMeshConnected(true)
	defer g.SetMeshConnected(false)
	for {
		select {
		case <-ctx.Done():
			_ = link.Close()
			return ctx.Err()
		case b, ok := <-link.Inbound():
			if !ok {
				return link.Err()
			}
			var err error
			if framed {
				_, err = g.HandleFrame(ctx, b)
			} else {
				_, err = g.HandleText(ctx, SourceRadio, b)
			}
			switch {
			case err == nil:
			case errors.Is(err, ErrNotChunk), errors.Is(err, ErrWrongPort):
				logs.Debugf("gateway.Gateway.ServeRadio ignored bytes=%d err=%v", len(b), err)
			default:
				logs.Warnf("gateway.Gateway.ServeRadio chunk failed err=%v", err)
			}
		}
	}
}

// RunRadio keeps a radio stream open, redialing with backoff after each
// disconnect, until ctx is done.
func (g *Gateway) RunRadio(ctx context.Context, dial RadioDialer, framed bool, retry session.BackoffConfig) {
	attempt := 0
	for ctx.Err() == nil {
		link, err := dial(ctx)
		if err == nil {
			attempt = 0
			err = g.ServeRadio(ctx, link, framed)
			if ctx.Err() != nil {
				return
			}
		}
		attempt++
		delay := retry.Delay(attempt, nil)
		logs.Warnf("gateway.Gateway.RunRadio link down attempt=%d retry_in=%s err=%v", attempt, delay, err)
		t := g.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// DefaultRadioRetry redials after 1s, backing off to 30s.
var DefaultRadioRetry = session.BackoffConfig{
	InitialDelay: time.Second,
	Multiplier:   2,
	MaxDelay:     30 * time.Second,
}
