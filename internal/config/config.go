package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults for every tunable. Applied to any field left zero in the file.
const (
	DefaultEndpoint           = "ws://127.0.0.1:9001"
	DefaultUser               = "you"
	DefaultFetchLimit         = 50
	DefaultThumbCacheCap      = 64
	DefaultThumbErrorCacheCap = 16
	DefaultThumbMaxDim        = 512
	DefaultAckTimeoutMS       = 10_000
	DefaultTypingTTLMS        = 3_000
	DefaultMaxAttachmentBytes = 25 << 20
	DefaultMaxRetries         = 6
)

// Config represents ~/.ralph/config.toml.
type Config struct {
	Endpoint           string `toml:"endpoint"`
	User               string `toml:"user"`
	Token              string `toml:"token"`
	DataDir            string `toml:"data_dir"`
	AutoConnect        bool   `toml:"auto_connect"`
	FetchLimit         int    `toml:"fetch_limit"`
	ThumbCacheCap      int    `toml:"thumb_cache_cap"`
	ThumbErrorCacheCap int    `toml:"thumb_error_cache_cap"`
	ThumbMaxDim        int    `toml:"thumb_max_dim"`
	AckTimeoutMS       int    `toml:"ack_timeout_ms"`
	TypingTTLMS        int    `toml:"typing_ttl_ms"`
	MaxAttachmentBytes int64  `toml:"max_attachment_bytes"`
	MaxRetries         int    `toml:"max_retries"`
}

// Default returns a config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills zero-valued fields with defaults.
func (c *Config) Normalize() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = DefaultFetchLimit
	}
	if c.ThumbCacheCap <= 0 {
		c.ThumbCacheCap = DefaultThumbCacheCap
	}
	if c.ThumbErrorCacheCap <= 0 {
		c.ThumbErrorCacheCap = DefaultThumbErrorCacheCap
	}
	if c.ThumbMaxDim <= 0 {
		c.ThumbMaxDim = DefaultThumbMaxDim
	}
	if c.AckTimeoutMS <= 0 {
		c.AckTimeoutMS = DefaultAckTimeoutMS
	}
	if c.TypingTTLMS <= 0 {
		c.TypingTTLMS = DefaultTypingTTLMS
	}
	if c.MaxAttachmentBytes <= 0 {
		c.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// Load reads config from the given path. A missing file is not an error:
// the client must start with defaults on a fresh machine.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
