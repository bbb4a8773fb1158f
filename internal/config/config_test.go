package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Recall.DefaultMode != "keyword" || cfg.Recall.TopK != 5 {
		t.Errorf("recall defaults = %+v", cfg.Recall)
	}
	if cfg.Lock.StaleAfterMS != 30000 || cfg.Lock.RetryDelayMS != 100 || cfg.Lock.MaxRetries != 50 {
		t.Errorf("lock defaults = %+v", cfg.Lock)
	}
	if cfg.Embedding.TimeoutMS != 10000 || cfg.Embedding.CacheSize != 512 {
		t.Errorf("embedding defaults = %+v", cfg.Embedding)
	}
	if cfg.Home == "" {
		t.Error("home default is empty")
	}
}

func TestLoadOverlaysJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	raw := `{
	// semantic-first setup
	recall: { default_mode: "hybrid", top_k: 8, },
	embedding: { provider: "mock" },
}`
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Recall.DefaultMode != "hybrid" || cfg.Recall.TopK != 8 {
		t.Errorf("recall = %+v", cfg.Recall)
	}
	if cfg.Embedding.Provider != "mock" {
		t.Errorf("provider = %q", cfg.Embedding.Provider)
	}
	// Untouched sections keep their defaults.
	if cfg.Lock.StaleAfterMS != 30000 {
		t.Errorf("lock = %+v", cfg.Lock)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte("{recall:"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed config accepted")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{recall:{default_mode:"keyword"}}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	got := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case got <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte(`{recall:{default_mode:"hybrid"}}`), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case cfg := <-got:
		if cfg.Recall.DefaultMode != "hybrid" {
			t.Errorf("reloaded mode = %q", cfg.Recall.DefaultMode)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}
}
