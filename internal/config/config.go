// Package config loads settings for the tarbgz command.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// variables from .env files, then the process environment. Command-line flags
// are applied last by the command itself.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TARBGZ_"

// EnvConfigFile names the variable holding the config file path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// Config holds command settings.
type Config struct {
	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`

	// IndexSuffix is appended to the archive path to find its index.
	IndexSuffix string `yaml:"index_suffix"`
	// CompressIndex wraps saved indexes in zstd.
	CompressIndex bool `yaml:"compress_index"`
	// Digest records the archive digest when indexing.
	Digest bool `yaml:"digest"`
	// MaxIndexSize caps the size of index files read, e.g. "256MiB".
	MaxIndexSize string `yaml:"max_index_size"`

	// Workers bounds concurrent extraction; 0 uses GOMAXPROCS.
	Workers int `yaml:"workers"`

	// CompressionLevel is the deflate level used by compress, -1 to 9.
	CompressionLevel int `yaml:"compression_level"`
	// BlockSize is the uncompressed bytes per BGZF block written by compress.
	BlockSize int `yaml:"block_size"`

	// CacheDir enables a disk block cache for remote archives.
	CacheDir string `yaml:"cache_dir"`
	// CacheSize is the size the cache is pruned to after each command.
	CacheSize string `yaml:"cache_size"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LogLevel:         "warn",
		LogFormat:        "text",
		IndexSuffix:      ".index",
		MaxIndexSize:     "256MiB",
		CompressionLevel: -1,
		BlockSize:        0xff00,
		CacheSize:        "1GiB",
	}
}

// Option configures Load.
type Option func(*loader)

type loader struct {
	path     string
	dotenv   []string
	lookup   func(string) (string, bool)
	explicit bool
}

// WithFile reads settings from the YAML file at path. A missing file is an
// error. Without this option the file named by TARBGZ_CONFIG is read, if set.
func WithFile(path string) Option {
	return func(l *loader) {
		l.path = path
		l.explicit = path != ""
	}
}

// WithDotenv reads variables from the given .env files. Missing files are
// skipped. Without this option ".env" in the working directory is tried.
func WithDotenv(files ...string) Option {
	return func(l *loader) {
		l.dotenv = files
	}
}

// WithLookupEnv replaces os.LookupEnv, for tests.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(l *loader) {
		l.lookup = lookup
	}
}

// Load returns the layered configuration.
func Load(opts ...Option) (Config, error) {
	l := loader{dotenv: []string{".env"}, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&l)
	}

	env, err := l.environment()
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	path := l.path
	if !l.explicit {
		path = env[EnvConfigFile]
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(env); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// environment merges .env files under the process environment; variables
// already set in the process win, as with godotenv.Load.
func (l *loader) environment() (map[string]string, error) {
	env := make(map[string]string)
	for _, file := range l.dotenv {
		vars, err := godotenv.Read(file)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		for k, v := range vars {
			if _, seen := env[k]; !seen {
				env[k] = v
			}
		}
	}
	for _, key := range envKeys() {
		if v, ok := l.lookup(key); ok {
			env[key] = v
		}
	}
	return env, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // the path is chosen by the user
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// envSetters maps variable suffixes to the field they set.
func envSetters(c *Config) map[string]func(string) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			*dst = b
			return err
		}
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			*dst = n
			return err
		}
	}
	return map[string]func(string) error{
		"LOG_LEVEL":         str(&c.LogLevel),
		"LOG_FORMAT":        str(&c.LogFormat),
		"INDEX_SUFFIX":      str(&c.IndexSuffix),
		"COMPRESS_INDEX":    boolean(&c.CompressIndex),
		"DIGEST":            boolean(&c.Digest),
		"MAX_INDEX_SIZE":    str(&c.MaxIndexSize),
		"WORKERS":           integer(&c.Workers),
		"COMPRESSION_LEVEL": integer(&c.CompressionLevel),
		"BLOCK_SIZE":        integer(&c.BlockSize),
		"CACHE_DIR":         str(&c.CacheDir),
		"CACHE_SIZE":        str(&c.CacheSize),
	}
}

func envKeys() []string {
	keys := []string{EnvConfigFile}
	for suffix := range envSetters(&Config{}) {
		keys = append(keys, EnvPrefix+suffix)
	}
	return keys
}

func (c *Config) applyEnv(env map[string]string) error {
	for suffix, set := range envSetters(c) {
		v, ok := env[EnvPrefix+suffix]
		if !ok {
			continue
		}
		if err := set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("config: %s%s=%q: %w", EnvPrefix, suffix, v, err)
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want text or json", c.LogFormat))
	}
	if c.IndexSuffix == "" {
		errs = append(errs, errors.New("index_suffix is empty"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d: must not be negative", c.Workers))
	}
	if c.CompressionLevel < -1 || c.CompressionLevel > 9 {
		errs = append(errs, fmt.Errorf("compression_level %d: want -1 to 9", c.CompressionLevel))
	}
	if c.BlockSize < 1 || c.BlockSize > 0xff00 {
		errs = append(errs, fmt.Errorf("block_size %d: want 1 to 65280", c.BlockSize))
	}
	if _, err := c.MaxIndexBytes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.CacheBytes(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// MaxIndexBytes parses MaxIndexSize. "0" means unlimited.
func (c *Config) MaxIndexBytes() (uint64, error) {
	n, err := humanize.ParseBytes(c.MaxIndexSize)
	if err != nil {
		return 0, fmt.Errorf("max_index_size %q: %w", c.MaxIndexSize, err)
	}
	return n, nil
}

// CacheBytes parses CacheSize.
func (c *Config) CacheBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.CacheSize)
	if err != nil {
		return 0, fmt.Errorf("cache_size %q: %w", c.CacheSize, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("cache_size %q: too large", c.CacheSize)
	}
	return int64(n), nil //nolint:gosec // bounded above
}

// Logger builds a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
