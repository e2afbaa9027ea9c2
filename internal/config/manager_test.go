package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/janekbaraniewski/apiusage/internal/core"
)

func TestManagerApply_RejectsAndKeepsPrior(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManagerWith(path, DefaultConfig())

	var notified int
	m.Subscribe(func(_, _ Config) { notified++ })

	bad := DefaultConfig()
	bad.WarningThreshold = 75
	bad.CriticalThreshold = 60
	if _, err := m.Apply(bad); !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := m.Current().CriticalThreshold; got != 90 {
		t.Errorf("critical = %v, prior config should stay active", got)
	}
	if notified != 0 {
		t.Errorf("subscribers notified %d times for rejected push", notified)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("rejected push should not be persisted")
	}
}

func TestManagerApply_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManagerWith(path, DefaultConfig())

	cfg := DefaultConfig()
	cfg.RefreshIntervalMinutes = 2
	cfg.Services[core.ServiceSerpAPI] = ServiceConfig{Enabled: true, APIKey: "serp-key"}

	var seen []Config
	m.Subscribe(func(_, next Config) { seen = append(seen, next) })

	for range 2 {
		if _, err := m.Apply(cfg); err != nil {
			t.Fatalf("Apply() error: %v", err)
		}
	}
	first, _ := os.ReadFile(path)

	if _, err := m.Apply(cfg); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)
	if string(first) != string(second) {
		t.Error("repeated apply should write identical content")
	}
	if len(seen) != 3 {
		t.Fatalf("notified %d times, want 3", len(seen))
	}
	if seen[2].Services[core.ServiceSerpAPI].APIKey != "serp-key" {
		t.Error("runtime api key should stay in the active config")
	}
}

func TestManagerReload_KeepsRuntimeKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManagerWith(path, DefaultConfig())

	cfg := DefaultConfig()
	cfg.Services[core.ServiceFirecrawl] = ServiceConfig{Enabled: true, APIKey: "fc-key"}
	if _, err := m.Apply(cfg); err != nil {
		t.Fatal(err)
	}

	changed, err := m.Reload()
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if changed {
		t.Error("reload of our own write should be a no-op")
	}

	edited := `{"refresh_interval_minutes": 7, "warning_threshold": 80, "critical_threshold": 95,
"services": {"firecrawl": {"enabled": true}}}`
	if err := os.WriteFile(path, []byte(edited), 0o600); err != nil {
		t.Fatal(err)
	}
	changed, err = m.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload() = %v, %v", changed, err)
	}
	cur := m.Current()
	if cur.RefreshIntervalMinutes != 7 {
		t.Errorf("refresh = %d, want 7", cur.RefreshIntervalMinutes)
	}
	if cur.Services[core.ServiceFirecrawl].APIKey != "fc-key" {
		t.Error("hand edit should not drop the runtime api key")
	}
}

func TestWatcher_PicksUpHandEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m := NewManagerWith(path, DefaultConfig())

	reloaded := make(chan Config, 1)
	m.Subscribe(func(_, next Config) {
		select {
		case reloaded <- next:
		default:
		}
	})

	w := NewWatcher(m, nil)
	w.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"refresh_interval_minutes": 9}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.RefreshIntervalMinutes != 9 {
			t.Errorf("refresh = %d, want 9", cfg.RefreshIntervalMinutes)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload the config")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
}
