package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/testutil/testlog"
)

func TestWriteThenValidateGateway(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "gateway.toml")
	if err := run([]string{"--kind", "gateway", "-o", path}); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := run([]string{"--kind", "gateway", "-o", path}); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("second write = %v", err)
	}
	if err := run([]string{"--kind", "gateway", "-o", path, "--force"}); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if !strings.Contains(string(b), `addr = ":5000"`) {
		t.Fatalf("template = %s", b)
	}
}

func TestValidateLayoutProfile(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join("..", "..", "configs", "profiles", "meshtastic.toml")
	if err := run([]string{"--validate", "--kind", "layout", "--input", path}); err != nil {
		t.Fatalf("validate layout: %v", err)
	}
	if err := run([]string{"--validate", "--kind", "layout"}); err == nil {
		t.Fatalf("layout without input accepted")
	}
	if err := run([]string{"--kind", "bogus", "-o", filepath.Join(t.TempDir(), "x")}); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}
