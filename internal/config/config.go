package config

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/frame"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
)

// SenderFile is the btxctl config document.
type SenderFile struct {
	Link          LinkFile     `toml:"link"`
	Session       SessionFile  `toml:"session"`
	Pipeline      PipelineFile `toml:"pipeline"`
	CheckpointDir string       `toml:"checkpoint_dir"`
	LayoutDirs    []string     `toml:"layout_dirs"`
}

type LinkFile struct {
	Kind         string `toml:"kind"`
	Address      string `toml:"address"`
	DialTimeout  string `toml:"dial_timeout"`
	WriteTimeout string `toml:"write_timeout"`
}

// GatewayFile is the btxgateway config document.
type GatewayFile struct {
	Addr        string    `toml:"addr"`
	CorsOrigins []string  `toml:"cors_origins"`
	Journal     string    `toml:"journal"`
	PendingTTL  string    `toml:"pending_ttl"`
	TextPrefix  string    `toml:"text_prefix"`
	MaxTxBytes  int       `toml:"max_tx_bytes"`
	LayoutDirs  []string  `toml:"layout_dirs"`
	Radio       RadioFile `toml:"radio"`
}

// RadioFile points the gateway at a radio's streaming API.
type RadioFile struct {
	Address string `toml:"address"`
	Layout  string `toml:"layout"`
	Magic   string `toml:"magic"`
}

type SessionFile struct {
	AckTimeout      string `toml:"ack_timeout"`
	InterChunkDelay string `toml:"inter_chunk_delay"`
	RetryDelay      string `toml:"retry_delay"`
	MaxAttempts     int    `toml:"max_attempts"`
	MaxChunkSize    int    `toml:"max_chunk_size"`
	MaxPacketBytes  int    `toml:"max_packet_bytes"`
}

type PipelineFile struct {
	Format     string `toml:"format"`
	TextPrefix string `toml:"text_prefix"`
	Newline    bool   `toml:"newline"`
	Layout     string `toml:"layout"`
	Framed     bool   `toml:"framed"`
	Magic      string `toml:"magic"`
}

// DecodeSender reads a sender config. Unknown keys are an error.
func DecodeSender(path string) (SenderFile, toml.MetaData, error) {
	var raw SenderFile
	meta, err := decodeStrict(path, &raw)
	return raw, meta, err
}

// DecodeGateway reads a gateway config. Unknown keys are an error.
func DecodeGateway(path string) (GatewayFile, toml.MetaData, error) {
	var raw GatewayFile
	meta, err := decodeStrict(path, &raw)
	return raw, meta, err
}

func decodeStrict(path string, out any) (toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, out)
	if err != nil {
		return toml.MetaData{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return toml.MetaData{}, fmt.Errorf("config %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return meta, nil
}

// ApplySession overrides cfg with the keys defined under prefix.
func ApplySession(meta toml.MetaData, raw SessionFile, cfg *session.Config, prefix ...string) error {
	defined := func(key string) bool {
		return meta.IsDefined(append(append([]string(nil), prefix...), key)...)
	}
	durations := []struct {
		key string
		src string
		dst *time.Duration
	}{
		{"ack_timeout", raw.AckTimeout, &cfg.AckTimeout},
		{"inter_chunk_delay", raw.InterChunkDelay, &cfg.InterChunkDelay},
		{"retry_delay", raw.RetryDelay, &cfg.Retry.InitialDelay},
	}
	for _, d := range durations {
		if !defined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.src))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if defined("retry_delay") {
		cfg.Retry = session.FixedBackoff(cfg.Retry.InitialDelay)
	}
	if defined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if defined("max_chunk_size") {
		cfg.MaxChunkSize = raw.MaxChunkSize
	}
	if defined("max_packet_bytes") {
		cfg.MaxPacketBytes = raw.MaxPacketBytes
	}
	return cfg.Validate()
}

// BuildPipeline resolves the layout profile and frame magic of raw.
func BuildPipeline(raw PipelineFile, layoutDirs ...string) (session.Pipeline, error) {
	format, err := session.ParseFormat(strings.TrimSpace(raw.Format))
	if err != nil {
		return session.Pipeline{}, err
	}
	l, err := ResolveLayout(raw.Layout, layoutDirs...)
	if err != nil {
		return session.Pipeline{}, err
	}
	p := session.Pipeline{
		Format:     format,
		TextPrefix: strings.TrimSpace(raw.TextPrefix),
		Newline:    raw.Newline,
		Layout:     l,
		Framed:     raw.Framed,
	}
	if raw.Framed {
		limits := frame.DefaultLimits()
		if raw.Magic != "" {
			m, err := ParseMagic(raw.Magic)
			if err != nil {
				return session.Pipeline{}, err
			}
			limits.Magic = m
		}
		p.Frame = limits
	}
	if err := p.Validate(); err != nil {
		return session.Pipeline{}, err
	}
	return p, nil
}

// ParseMagic parses a two byte frame marker written as hex ("94c3").
func ParseMagic(s string) ([2]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(s)), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 2 {
		return [2]byte{}, fmt.Errorf("frame magic %q must be two hex bytes", s)
	}
	return [2]byte{b[0], b[1]}, nil
}

// ParseDurationOr returns def when s is empty.
func ParseDurationOr(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
