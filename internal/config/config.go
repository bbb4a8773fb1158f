// Package config loads the memkit configuration file. The file is JSON5
// (comments and trailing commas allowed), lives in the data directory by
// default, and every field has a working default so a missing file is not
// an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Config is the full memkit configuration.
type Config struct {
	// Home is the data directory holding the index, artifacts, locks and
	// vectors.
	Home string `json:"home"`

	Recall    RecallConfig    `json:"recall"`
	Embedding EmbeddingConfig `json:"embedding"`
	Lock      LockConfig      `json:"lock"`
}

// RecallConfig tunes the recall engine.
type RecallConfig struct {
	// DefaultMode is used when a recall request does not name a mode:
	// keyword, semantic or hybrid.
	DefaultMode string `json:"default_mode"`
	// TopK is the vector neighbor count per semantic search.
	TopK int `json:"top_k"`
	// MinScore drops results scoring below it. Zero keeps everything with
	// a positive score.
	MinScore int `json:"min_score"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	// Provider is "mock" for the offline bag-of-words provider, or empty /
	// "none" to disable semantic recall entirely.
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	TimeoutMS int     `json:"timeout_ms"`
	RPS       float64 `json:"rps"`
	CacheSize int     `json:"cache_size"`
}

// LockConfig tunes the file lock manager.
type LockConfig struct {
	StaleAfterMS int `json:"stale_after_ms"`
	RetryDelayMS int `json:"retry_delay_ms"`
	MaxRetries   int `json:"max_retries"`
}

// Default returns a config with every field set to its working default.
func Default() *Config {
	return &Config{
		Home: DefaultHome(),
		Recall: RecallConfig{
			DefaultMode: "keyword",
			TopK:        5,
		},
		Embedding: EmbeddingConfig{
			Provider:  "",
			TimeoutMS: 10000,
			RPS:       5,
			CacheSize: 512,
		},
		Lock: LockConfig{
			StaleAfterMS: 30000,
			RetryDelayMS: 100,
			MaxRetries:   50,
		},
	}
}

// DefaultHome resolves the data directory: $MEMKIT_HOME if set, otherwise
// ~/.memkit.
func DefaultHome() string {
	if home := os.Getenv("MEMKIT_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".memkit"
	}
	return filepath.Join(dir, ".memkit")
}

// DefaultPath resolves the config file location: $MEMKIT_CONFIG if set,
// otherwise config.json5 inside the data directory.
func DefaultPath() string {
	if p := os.Getenv("MEMKIT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultHome(), "config.json5")
}

// Load reads the config file at path, overlaying it on the defaults. An
// empty path means DefaultPath(); a missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json5.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Home == "" {
		cfg.Home = DefaultHome()
	}
	return cfg, nil
}
