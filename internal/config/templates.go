package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sender":
		return senderTemplate, nil
	case "gateway":
		return gatewayTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate decodes path as the given kind and resolves everything it names.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "sender":
		raw, meta, err := DecodeSender(path)
		if err != nil {
			return err
		}
		cfg := session.DefaultConfig()
		if err := ApplySession(meta, raw.Session, &cfg, "session"); err != nil {
			return err
		}
		_, err = BuildPipeline(raw.Pipeline, raw.LayoutDirs...)
		return err
	case "gateway":
		raw, _, err := DecodeGateway(path)
		if err != nil {
			return err
		}
		if strings.TrimSpace(raw.Addr) == "" {
			return fmt.Errorf("gateway config missing addr")
		}
		if _, err := ParseDurationOr(raw.PendingTTL, 0); err != nil {
			return fmt.Errorf("parse pending_ttl: %w", err)
		}
		_, err = ResolveLayout(raw.Radio.Layout, raw.LayoutDirs...)
		return err
	case "layout":
		_, err := LoadLayout(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const senderTemplate = `checkpoint_dir = ".btxmesh/checkpoints"
layout_dirs = ["configs/profiles"]

[link]
# mem | tcp | http | ws
kind = "tcp"
address = "meshtastic.local:4403"
dial_timeout = "5s"
write_timeout = "5s"

[session]
ack_timeout = "8s"
inter_chunk_delay = "2500ms"
retry_delay = "1s"
max_attempts = 2
max_chunk_size = 190

[pipeline]
# text | binary | json
format = "text"
text_prefix = "BTX"
layout = "meshtastic"
framed = true
magic = "94c3"
`

const gatewayTemplate = `addr = ":5000"
cors_origins = ["http://localhost:3000"]
journal = ".btxmesh/journal.cbor"
pending_ttl = "10m"
text_prefix = "BTX"
max_tx_bytes = 100000
layout_dirs = ["configs/profiles"]

[radio]
address = ""
layout = "meshtastic"
magic = "94c3"
`
