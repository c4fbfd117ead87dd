package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/testutil/testlog"
)

func TestBackoffDelayGrowsToCap(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
	uncapped := BackoffConfig{InitialDelay: time.Second, Multiplier: 10}
	if got := uncapped.Delay(400, nil); got != maxBackoff {
		t.Fatalf("uncapped attempt400 got=%v", got)
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
}

func TestDefaultRetryDelayIsFixed(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if cfg.Retry != FixedBackoff(time.Second) {
		t.Fatalf("unexpected retry config: %+v", cfg.Retry)
	}
	for attempt := 1; attempt <= 4; attempt++ {
		if got := cfg.Retry.Delay(attempt, nil); got != time.Second {
			t.Fatalf("attempt%d got=%v", attempt, got)
		}
	}
	if cfg.MaxAttempts != 2 || cfg.MaxChunkSize != 190 || cfg.InterChunkDelay != 2500*time.Millisecond {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestBackoffJitterStaysUnderCap(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     3 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		got := cfg.Delay(3, rng)
		if got < 1500*time.Millisecond || got >= 3*time.Second {
			t.Fatalf("jitter delay out of range: %v", got)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	cases := map[string]func(*Config){
		"zero ack timeout":    func(c *Config) { c.AckTimeout = 0 },
		"negative delay":      func(c *Config) { c.InterChunkDelay = -time.Second },
		"zero attempts":       func(c *Config) { c.MaxAttempts = 0 },
		"zero chunk size":     func(c *Config) { c.MaxChunkSize = 0 },
		"negative packet cap": func(c *Config) { c.MaxPacketBytes = -1 },
		"shrinking backoff":   func(c *Config) { c.Retry.Multiplier = 0.5 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestInflightLifecycle(t *testing.T) {
	testlog.Start(t)
	var o inflight
	now := time.Unix(1700000000, 0)
	if _, ok := o.MarkAttempt(1, now, now); ok {
		t.Fatalf("mark attempt on empty slot should fail")
	}
	o.Upsert(PendingChunk{Index: 2, Total: 3, QueuedAt: now})
	item, ok := o.MarkAttempt(7, now.Add(time.Second), now.Add(9*time.Second))
	if !ok {
		t.Fatalf("missing pending chunk")
	}
	if item.Attempts != 1 || item.WriteID != 7 {
		t.Fatalf("unexpected pending chunk: %+v", item)
	}
	o.MarkError(" ack timeout ")
	if got, _ := o.Get(); got.LastError != "ack timeout" {
		t.Fatalf("unexpected last error=%q", got.LastError)
	}
	o.Remove()
	if _, ok := o.Get(); ok {
		t.Fatalf("chunk should be removed")
	}
}

func TestParseFormat(t *testing.T) {
	testlog.Start(t)
	for in, want := range map[string]Format{"": FormatText, "text": FormatText, "binary": FormatBinary, "json": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %q err=%v", in, got, err)
		}
	}
	if _, err := ParseFormat("base64"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestPipelineRejectsWrappedJSON(t *testing.T) {
	testlog.Start(t)
	p := Pipeline{Format: FormatJSON, Framed: true}
	if err := p.Validate(); err == nil {
		t.Fatalf("expected framed json pipeline to be rejected")
	}
	if err := (Pipeline{Format: FormatJSON}).Validate(); err != nil {
		t.Fatalf("plain json pipeline: %v", err)
	}
}
