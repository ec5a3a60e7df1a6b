// Package config loads session configuration from an optional YAML file
// and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode selects where stored values live.
type Mode string

const (
	// ModeMemory keeps values in process memory; nothing survives the session.
	ModeMemory Mode = "memory"

	// ModeDisk writes values and the chain record under the cache directory.
	ModeDisk Mode = "disk"
)

// AllowedModes lists the valid modes.
var AllowedModes = []Mode{ModeMemory, ModeDisk}

// Defaults.
const (
	DefaultName             = "default"
	DefaultCacheDir         = "nodebook_cache"
	DefaultPayloadCacheSize = 256
)

// Environment variables read by ApplyEnv.
const (
	EnvMode             = "NODEBOOK_MODE"
	EnvName             = "NODEBOOK_NAME"
	EnvCacheDir         = "NODEBOOK_CACHE_DIR"
	EnvPayloadCacheSize = "NODEBOOK_PAYLOAD_CACHE_SIZE"
)

// Config describes one notebook session.
type Config struct {
	// Mode is memory or disk.
	Mode Mode `yaml:"mode"`

	// Name identifies the notebook; disk sessions live in CacheDir/Name.
	Name string `yaml:"name"`

	// CacheDir is the root of all disk sessions.
	CacheDir string `yaml:"cache_dir"`

	// PayloadCacheSize is the number of payloads kept in memory by the disk
	// backend.
	PayloadCacheSize int `yaml:"payload_cache_size"`

	// Print sends the output of print() in cells to stdout.
	Print bool `yaml:"print"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Mode:             ModeMemory,
		Name:             DefaultName,
		CacheDir:         DefaultCacheDir,
		PayloadCacheSize: DefaultPayloadCacheSize,
		Print:            true,
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	err := cfg.LoadFile(path)
	return cfg, err
}

// LoadFile reads a YAML config file over c. Keys absent from the file keep
// their current values. An empty path is a no-op.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "cachedir:")
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found by lookup.
// Pass os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMode); ok && v != "" {
		c.Mode = Mode(v)
	}
	if v, ok := lookup(EnvName); ok && v != "" {
		c.Name = v
	}
	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		c.CacheDir = v
	}
	if v, ok := lookup(EnvPayloadCacheSize); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPayloadCacheSize, err)
		}
		c.PayloadCacheSize = n
	}
	return nil
}

// DotEnvLookup layers the KEY=value pairs of a dotenv file under base:
// variables already set in base win, as with godotenv.Load. An empty path
// returns base unchanged.
func DotEnvLookup(path string, base func(string) (string, bool)) (func(string) (string, bool), error) {
	if path == "" {
		return base, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return func(key string) (string, bool) {
		if v, ok := base(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// Validate checks the mode and fills empty fields with defaults.
func (c *Config) Validate() error {
	valid := false
	for _, m := range AllowedModes {
		if c.Mode == m {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("invalid mode %q: must be one of %v", c.Mode, AllowedModes)
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.PayloadCacheSize < 0 {
		return fmt.Errorf("payload_cache_size must not be negative, got %d", c.PayloadCacheSize)
	}
	if c.PayloadCacheSize == 0 {
		c.PayloadCacheSize = DefaultPayloadCacheSize
	}
	if filepath.Base(c.Name) != c.Name || c.Name == "." || c.Name == ".." {
		return fmt.Errorf("invalid name %q: must be a single path element", c.Name)
	}
	return nil
}

// SessionDir returns the directory of a disk session.
func (c Config) SessionDir() string {
	return filepath.Join(c.CacheDir, c.Name)
}
