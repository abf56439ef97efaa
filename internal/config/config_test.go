package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const validYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
  target_chat: -100123
  poll_timeout: 10s
logging:
  level: info
  console: true
indexer:
  source: history
  account: "0:deadbeef"
  list_limit: 5
  backoff:
    mode: exponential
    base: 2s
watcher:
  collection_name: Unstoppable Tribe from ZarGates
  poll_interval: 1s
  sent_ttl: 10m
scoring:
  power_table: ./power.json
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", validYAML)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.TargetChat != -100123 {
		t.Fatalf("target_chat = %d", cfg.Telegram.TargetChat)
	}
	if cfg.Watcher.CollectionName != "Unstoppable Tribe from ZarGates" {
		t.Fatalf("collection_name = %q", cfg.Watcher.CollectionName)
	}
	if m.Get() != cfg {
		t.Fatalf("Get() did not return committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", validYAML+"bogus: 1\n")
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":"x"}} {}`)
	_, err := NewConfigManager(p).Parse()
	if err == nil || !strings.Contains(err.Error(), "trailing data") {
		t.Fatalf("err = %v, want trailing data", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Indexer: IndexerConfig{Source: "collection", ListLimit: 42, Backoff: BackoffConfig{Mode: "fibonacci", Base: "soon"}},
		Ledger:  &LedgerConfig{Backend: "redis", CompactInterval: "whenever"},
		Storage: &StorageConfig{Driver: "mongo"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{
		"telegram.token",
		"telegram.target_chat",
		"indexer.collection is required",
		"indexer.backoff.mode",
		"indexer.backoff.base",
		"indexer.list_limit",
		"watcher.collection_name",
		"ledger.redis_addr",
		"ledger.compact_interval",
		"storage.driver",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestValidateAcceptsCompactSchedules(t *testing.T) {
	for _, raw := range []string{"", "5m", "@every 10m", "0 */10 * * * *", "02:00"} {
		cfg := &Config{Ledger: &LedgerConfig{CompactInterval: raw}}
		if err := Validate(cfg); err != nil && strings.Contains(err.Error(), "compact_interval") {
			t.Errorf("compact_interval %q rejected: %v", raw, err)
		}
	}
}

func TestDurationHelpers(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "750ms", time.Second)
	if err != nil || d != 750*time.Millisecond {
		t.Fatalf("parsed = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	a := &Config{Indexer: IndexerConfig{APIKey: "secret-1"}}
	b := &Config{Indexer: IndexerConfig{APIKey: "secret-2"}, Watcher: WatcherConfig{SendPacing: "2s"}}
	changed, attrs := SummarizeConfigChange(a, b)
	if !slices.Equal(changed, []string{"indexer", "watcher"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
}

func TestWatchPublishesOnChange(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", validYAML)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "config.yaml", strings.Replace(validYAML, "level: info", "level: debug", 1))

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
}
