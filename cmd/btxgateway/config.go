package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/config"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/gateway"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/frame"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/layout"
)

type serviceConfig struct {
	Addr         string
	CorsOrigins  []string
	JournalPath  string
	Gateway      gateway.Config
	RadioAddress string
	// RadioFramed is set when the radio layout wraps chunks; the radio
	// then speaks the framed stream API, otherwise plain lines.
	RadioFramed bool
	RadioFrame  frame.Limits
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Addr: ":5000",
		Gateway: gateway.Config{
			TextPrefix: chunk.DefaultTextPrefix,
			MaxTxBytes: gateway.DefaultMaxTxBytes,
			PendingTTL: chunk.DefaultPendingTTL,
		},
		RadioFrame: frame.DefaultLimits(),
	}
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()
	if path == "" {
		return cfg, nil
	}
	raw, meta, err := config.DecodeGateway(path)
	if err != nil {
		return serviceConfig{}, err
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("journal") {
		cfg.JournalPath = strings.TrimSpace(raw.Journal)
	}
	if meta.IsDefined("pending_ttl") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PendingTTL))
		if err != nil {
			return serviceConfig{}, fmt.Errorf("parse pending_ttl: %w", err)
		}
		cfg.Gateway.PendingTTL = d
	}
	if meta.IsDefined("text_prefix") {
		cfg.Gateway.TextPrefix = strings.TrimSpace(raw.TextPrefix)
	}
	if meta.IsDefined("max_tx_bytes") {
		cfg.Gateway.MaxTxBytes = raw.MaxTxBytes
	}
	if meta.IsDefined("radio", "address") {
		cfg.RadioAddress = strings.TrimSpace(raw.Radio.Address)
	}
	if meta.IsDefined("radio", "layout") {
		l, err := config.ResolveLayout(raw.Radio.Layout, raw.LayoutDirs...)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Gateway.Layout = l
	}
	if meta.IsDefined("radio", "magic") {
		m, err := config.ParseMagic(raw.Radio.Magic)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.RadioFrame.Magic = m
	}
	cfg.RadioFramed = !cfg.Gateway.Layout.Raw()
	return cfg, cfg.validate()
}

func (c serviceConfig) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("gateway config missing addr")
	}
	if c.Gateway.MaxTxBytes < 0 {
		return fmt.Errorf("max_tx_bytes must not be negative")
	}
	return c.Gateway.Layout.Validate()
}

// radioLayout names the layout in logs.
func radioLayout(l layout.Layout) string {
	if l.Raw() {
		return config.RawLayout
	}
	return l.Name
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
