package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/config"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport/streamlink"
)

const (
	linkMem  = "mem"
	linkTCP  = "tcp"
	linkHTTP = "http"
	linkWS   = "ws"

	defaultCheckpointDir = ".btxmesh/checkpoints"
)

type sendSettings struct {
	LinkKind      string
	Address       string
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	Session       session.Config
	Pipeline      session.Pipeline
	CheckpointDir string
}

func defaultSendSettings() sendSettings {
	return sendSettings{
		LinkKind:      linkMem,
		DialTimeout:   streamlink.DefaultDialTimeout,
		WriteTimeout:  5 * time.Second,
		Session:       session.DefaultConfig(),
		Pipeline:      session.Pipeline{Format: session.FormatText},
		CheckpointDir: defaultCheckpointDir,
	}
}

// loadSendSettings overlays the keys defined in path onto the defaults.
func loadSendSettings(path string) (sendSettings, error) {
	cfg := defaultSendSettings()
	if path == "" {
		return cfg, nil
	}
	raw, meta, err := config.DecodeSender(path)
	if err != nil {
		return sendSettings{}, err
	}

	if meta.IsDefined("link", "kind") {
		cfg.LinkKind = strings.ToLower(strings.TrimSpace(raw.Link.Kind))
	}
	if meta.IsDefined("link", "address") {
		cfg.Address = strings.TrimSpace(raw.Link.Address)
	}
	if meta.IsDefined("link", "dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Link.DialTimeout))
		if err != nil {
			return sendSettings{}, fmt.Errorf("parse link.dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}
	if meta.IsDefined("link", "write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Link.WriteTimeout))
		if err != nil {
			return sendSettings{}, fmt.Errorf("parse link.write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if meta.IsDefined("checkpoint_dir") {
		cfg.CheckpointDir = strings.TrimSpace(raw.CheckpointDir)
	}

	if err := config.ApplySession(meta, raw.Session, &cfg.Session, "session"); err != nil {
		return sendSettings{}, err
	}
	if meta.IsDefined("pipeline") {
		p, err := config.BuildPipeline(raw.Pipeline, raw.LayoutDirs...)
		if err != nil {
			return sendSettings{}, err
		}
		cfg.Pipeline = p
	}
	return cfg, validateLink(cfg)
}

func validateLink(cfg sendSettings) error {
	switch cfg.LinkKind {
	case linkMem:
		return nil
	case linkTCP:
		if cfg.Address == "" {
			return fmt.Errorf("link kind %s requires an address", cfg.LinkKind)
		}
		return nil
	case linkHTTP, linkWS:
		if cfg.Address == "" {
			return fmt.Errorf("link kind %s requires an address", cfg.LinkKind)
		}
		if cfg.Pipeline.Format != session.FormatJSON {
			return fmt.Errorf("link kind %s carries json chunks, pipeline format is %s", cfg.LinkKind, cfg.Pipeline.Format)
		}
		return nil
	default:
		return fmt.Errorf("unknown link kind: %s", cfg.LinkKind)
	}
}
