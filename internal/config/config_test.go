package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.CDN.Workers != 32 {
		t.Errorf("default workers = %d, want 32", cfg.CDN.Workers)
	}
	if cfg.Cache.FlushSize != 32<<20 {
		t.Errorf("default flush size = %d, want %d", cfg.Cache.FlushSize, 32<<20)
	}
	if cfg.Chunking.ChunkMin > cfg.Chunking.ChunkMax {
		t.Errorf("default chunk_min %d exceeds chunk_max %d", cfg.Chunking.ChunkMin, cfg.Chunking.ChunkMax)
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig(\"\") failed: %v", err)
	}
	if cfg.CDN.Retry != 3 {
		t.Errorf("retry = %d, want default 3", cfg.CDN.Retry)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rman.yaml")
	body := `
cdn:
  base_url: https://cdn.example.test/channels/live
  workers: 8
cache:
  path: /var/cache/rman/base.bundle
  max_size: 1073741824
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.CDN.BaseURL != "https://cdn.example.test/channels/live" {
		t.Errorf("base_url = %q", cfg.CDN.BaseURL)
	}
	if cfg.CDN.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.CDN.Workers)
	}
	if cfg.Cache.MaxSize != 1<<30 {
		t.Errorf("max_size = %d, want %d", cfg.Cache.MaxSize, 1<<30)
	}
	// Fields the file doesn't mention keep their defaults.
	if cfg.CDN.Retry != 3 {
		t.Errorf("retry = %d, want default 3", cfg.CDN.Retry)
	}
	if cfg.Cache.FlushSize != 32<<20 {
		t.Errorf("flush_size = %d, want default %d", cfg.Cache.FlushSize, 32<<20)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative workers", "cdn:\n  workers: -1\n"},
		{"negative retry", "cdn:\n  retry: -2\n"},
		{"inverted chunk bounds", "chunking:\n  chunk_min: 65536\n  chunk_max: 4096\n"},
		{"malformed yaml", "cdn: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rman.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("LoadConfig accepted invalid config")
			}
		})
	}
}
