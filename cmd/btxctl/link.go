package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/httplink"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/memlink"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/streamlink"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/wslink"
)

type link interface {
	session.Transport
	Close() error
}

// openLink connects the configured link. The mem link prints every write
// to out instead of sending it.
func openLink(ctx context.Context, cfg sendSettings, out io.Writer) (link, error) {
	switch cfg.LinkKind {
	case linkMem:
		return memlink.New(func(b []byte) error {
			if cfg.Pipeline.Format == session.FormatBinary || cfg.Pipeline.Framed || !cfg.Pipeline.Layout.Raw() {
				_, err := fmt.Fprintln(out, hex.EncodeToString(b))
				return err
			}
			_, err := fmt.Fprintln(out, string(b))
			return err
		}), nil
	case linkTCP:
		l, err := streamlink.Dial(ctx, cfg.Address, streamlink.Options{
			Framed:       cfg.Pipeline.Framed,
			Frame:        cfg.Pipeline.Frame,
			WriteTimeout: cfg.WriteTimeout,
			DialTimeout:  cfg.DialTimeout,
			// radio console and packet echoes are not read on the sending side
			DiscardInbound: true,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	case linkHTTP:
		return httplink.New(cfg.Address, nil), nil
	case linkWS:
		dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
		l, err := wslink.Dial(dialCtx, cfg.Address, nil)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown link kind: %s", cfg.LinkKind)
	}
}
