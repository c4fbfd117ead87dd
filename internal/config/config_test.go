package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/testutil/testlog"
)

func profilesDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("..", "..", "configs", "profiles"))
	if err != nil {
		t.Fatalf("resolve profiles dir: %v", err)
	}
	return dir
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadShippedProfiles(t *testing.T) {
	testlog.Start(t)
	dir := profilesDir(t)

	mesh, err := LoadLayout(filepath.Join(dir, "meshtastic.toml"))
	if err != nil {
		t.Fatalf("load meshtastic: %v", err)
	}
	if mesh.Packet.Decoded != 4 || mesh.Packet.ToWireType != "fixed32" || mesh.InboundPacketField != 2 {
		t.Fatalf("unexpected meshtastic layout: %+v", mesh)
	}

	legacy, err := LoadLayout(filepath.Join(dir, "legacy-android.yaml"))
	if err != nil {
		t.Fatalf("load legacy: %v", err)
	}
	if legacy.Packet.Decoded != 5 || legacy.Packet.ToWireType != "varint" || legacy.Values.HopLimit != 3 {
		t.Fatalf("unexpected legacy layout: %+v", legacy)
	}

	direct, err := ResolveLayout("binary-direct", dir)
	if err != nil {
		t.Fatalf("resolve binary-direct: %v", err)
	}
	if !direct.Raw() || direct.Name != "binary-direct" {
		t.Fatalf("expected raw binary-direct layout: %+v", direct)
	}
}

func TestResolveLayout(t *testing.T) {
	testlog.Start(t)
	for _, ref := range []string{"", "raw", "  raw  "} {
		l, err := ResolveLayout(ref)
		if err != nil || !l.Raw() {
			t.Fatalf("resolve %q: %+v %v", ref, l, err)
		}
	}
	if _, err := ResolveLayout("meshtastic", profilesDir(t)); err != nil {
		t.Fatalf("resolve by name: %v", err)
	}
	if _, err := ResolveLayout("missing", profilesDir(t)); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadLayoutRejectsBadDocuments(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown.toml":   "packet_field = 1\nbogus = 2\n[packet]\ndecoded = 4\n[data]\npayload = 2\n",
		"unknown.yaml":   "packet_field: 1\npacket:\n  decoded: 4\n  extra: 1\ndata:\n  payload: 2\n",
		"invalid.toml":   "packet_field = 1\n[packet]\ndecoded = 2\nto = 2\n[data]\npayload = 2\n",
		"layout.json":    "{}",
		"no-decoded.yml": "packet_field: 1\ndata:\n  payload: 2\n",
	}
	for name, body := range cases {
		if _, err := LoadLayout(writeFile(t, name, body)); err == nil {
			t.Fatalf("%s: expected load error", name)
		}
	}
}

func TestApplySessionOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "sender.toml", `
[link]
kind = "mem"

[session]
ack_timeout = "3s"
retry_delay = "250ms"
max_chunk_size = 120
`)
	raw, meta, err := DecodeSender(path)
	if err != nil {
		t.Fatalf("decode sender: %v", err)
	}
	cfg := session.DefaultConfig()
	if err := ApplySession(meta, raw.Session, &cfg, "session"); err != nil {
		t.Fatalf("apply session: %v", err)
	}
	if cfg.AckTimeout != 3*time.Second || cfg.MaxChunkSize != 120 {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Retry.InitialDelay != 250*time.Millisecond || cfg.Retry.Multiplier != 1.0 || cfg.Retry.Jitter {
		t.Fatalf("unexpected retry config: %+v", cfg.Retry)
	}
	if cfg.InterChunkDelay != 2500*time.Millisecond || cfg.MaxAttempts != 2 {
		t.Fatalf("defaults should survive: %+v", cfg)
	}
}

func TestApplySessionRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	for name, body := range map[string]string{
		"duration": "[session]\nack_timeout = \"soon\"\n",
		"attempts": "[session]\nmax_attempts = 0\n",
	} {
		raw, meta, err := DecodeSender(writeFile(t, name+".toml", body))
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		cfg := session.DefaultConfig()
		if err := ApplySession(meta, raw.Session, &cfg, "session"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	if _, _, err := DecodeGateway(writeFile(t, "gw.toml", "addr = \":5000\"\nport = 1\n")); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestBuildPipeline(t *testing.T) {
	testlog.Start(t)
	p, err := BuildPipeline(PipelineFile{Format: "text", Layout: "legacy-android", Framed: true, Magic: "0x94c3"}, profilesDir(t))
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	if p.Format != session.FormatText || p.Layout.Packet.Decoded != 5 || !p.Framed || p.Frame.Magic != [2]byte{0x94, 0xc3} {
		t.Fatalf("unexpected pipeline: %+v", p)
	}
	if _, err := BuildPipeline(PipelineFile{Format: "json", Framed: true}); err == nil {
		t.Fatalf("expected framed json to be rejected")
	}
	if _, err := BuildPipeline(PipelineFile{Framed: true, Magic: "94"}); err == nil {
		t.Fatalf("expected short magic to be rejected")
	}
}

func TestTemplatesDecode(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"sender", "gateway"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected existing %s config to be kept", kind)
		}
		var err error
		if kind == "sender" {
			_, _, err = DecodeSender(path)
		} else {
			_, _, err = DecodeGateway(path)
		}
		if err != nil {
			t.Fatalf("decode %s template: %v", kind, err)
		}
	}
	if _, err := Template("mirage"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestValidateResolvesProfiles(t *testing.T) {
	testlog.Start(t)
	dir := strings.ReplaceAll(profilesDir(t), `\`, `\\`)
	path := writeFile(t, "sender.toml", "layout_dirs = [\""+dir+"\"]\n[pipeline]\nlayout = \"meshtastic\"\nframed = true\n")
	if err := Validate(path, "sender"); err != nil {
		t.Fatalf("validate sender: %v", err)
	}
	bad := writeFile(t, "sender-bad.toml", "layout_dirs = [\""+dir+"\"]\n[pipeline]\nlayout = \"nope\"\n")
	if err := Validate(bad, "sender"); err == nil {
		t.Fatalf("expected missing profile error")
	}
}
