package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds rmanctl configuration.
type Config struct {
	CDN struct {
		BaseURL        string  `yaml:"base_url"`
		Workers        int     `yaml:"workers"`
		Retry          int     `yaml:"retry"`
		RequestsPerSec float64 `yaml:"requests_per_sec"` // 0 disables throttling
	} `yaml:"cdn"`

	Cache struct {
		Path      string `yaml:"path"`
		ReadOnly  bool   `yaml:"read_only"`
		FlushSize int64  `yaml:"flush_size"`
		MaxSize   int64  `yaml:"max_size"`
	} `yaml:"cache"`

	Resume struct {
		StorePath string `yaml:"store_path"`
		LogPath   string `yaml:"log_path"`
		IndexPath string `yaml:"index_path"`
	} `yaml:"resume"`

	Chunking struct {
		ChunkMin  uint64 `yaml:"chunk_min"`
		ChunkMax  uint64 `yaml:"chunk_max"`
		ZstdLevel int    `yaml:"zstd_level"`
	} `yaml:"chunking"`

	ObservAddress string `yaml:"observ_address"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "rman")

	cfg := &Config{}
	cfg.CDN.Workers = 32
	cfg.CDN.Retry = 3
	cfg.Cache.Path = filepath.Join(dataDir, "cache", "base.bundle")
	cfg.Cache.FlushSize = 32 << 20
	cfg.Cache.MaxSize = 4 << 30
	cfg.Resume.StorePath = filepath.Join(dataDir, "resume.db")
	cfg.Resume.LogPath = filepath.Join(dataDir, "resume.log")
	cfg.Resume.IndexPath = filepath.Join(dataDir, "resume.idx")
	cfg.Chunking.ChunkMin = 4 << 10
	cfg.Chunking.ChunkMax = 64 << 10
	cfg.Chunking.ZstdLevel = 3
	cfg.ObservAddress = "127.0.0.1:8081"
	return cfg
}

// LoadConfig loads configuration from a YAML file, layered over the
// defaults. An empty path returns the defaults unchanged.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", configPath, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CDN.Workers < 0 {
		return fmt.Errorf("cdn.workers must not be negative, got %d", c.CDN.Workers)
	}
	if c.CDN.Retry < 0 {
		return fmt.Errorf("cdn.retry must not be negative, got %d", c.CDN.Retry)
	}
	if c.Chunking.ChunkMin > c.Chunking.ChunkMax {
		return fmt.Errorf("chunking.chunk_min %d exceeds chunk_max %d", c.Chunking.ChunkMin, c.Chunking.ChunkMax)
	}
	return nil
}
