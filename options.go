package tarbgz

import "log/slog"

// DefaultMaxIndexSize bounds the size of an index accepted by Unmarshal and
// LoadFile, before and after zstd decompression.
const DefaultMaxIndexSize = 256 << 20

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	logger     *slog.Logger
	progress   ProgressFunc
	digest     bool
	maxEntries int
}

// BuildWithLogger sets the logger for indexing.
// If not set, logging is disabled.
func BuildWithLogger(logger *slog.Logger) BuildOption {
	return func(c *buildConfig) {
		c.logger = logger
	}
}

// BuildWithProgress sets a callback invoked once per indexed member.
func BuildWithProgress(fn ProgressFunc) BuildOption {
	return func(c *buildConfig) {
		c.progress = fn
	}
}

// BuildWithDigest records the sha256 digest of the compressed archive in the
// index, so Verify can detect a replaced archive of the same size. Computing
// it reads the whole archive a second time.
func BuildWithDigest(enabled bool) BuildOption {
	return func(c *buildConfig) {
		c.digest = enabled
	}
}

// BuildWithMaxEntries limits the number of indexed members.
// Set limit to 0 to disable the limit.
func BuildWithMaxEntries(limit int) BuildOption {
	return func(c *buildConfig) {
		c.maxEntries = limit
	}
}

// Compression selects the envelope an index is saved in.
type Compression uint8

const (
	// CompressionNone stores the FlatBuffers encoding as is.
	CompressionNone Compression = iota

	// CompressionZstd wraps the encoding in a zstd frame.
	CompressionZstd
)

// SaveOption configures Save and Encode.
type SaveOption func(*saveConfig)

type saveConfig struct {
	compression Compression
}

// SaveWithCompression selects the index envelope (default: CompressionNone).
func SaveWithCompression(c Compression) SaveOption {
	return func(cfg *saveConfig) {
		cfg.compression = c
	}
}

// LoadOption configures Unmarshal and LoadFile.
type LoadOption func(*loadConfig)

type loadConfig struct {
	maxSize uint64
}

// LoadWithMaxSize limits the encoded and decoded index size
// (default: DefaultMaxIndexSize). Set limit to 0 to disable the limit.
func LoadWithMaxSize(limit uint64) LoadOption {
	return func(c *loadConfig) {
		c.maxSize = limit
	}
}

// ArchiveOption configures an Archive.
type ArchiveOption func(*Archive)

// ArchiveWithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func ArchiveWithLogger(logger *slog.Logger) ArchiveOption {
	return func(a *Archive) {
		a.logger = logger
	}
}

// ExtractOption configures Archive.ExtractTo.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	workers       int
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
	progress      ProgressFunc
}

// ExtractWithWorkers sets the number of members extracted concurrently.
// Values < 1 use GOMAXPROCS.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithOverwrite allows replacing existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = enabled
	}
}

// ExtractWithPreserveMode applies the permission bits recorded in the index.
func ExtractWithPreserveMode(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveMode = enabled
	}
}

// ExtractWithPreserveTimes applies the modification times recorded in the index.
func ExtractWithPreserveTimes(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.preserveTimes = enabled
	}
}

// ExtractWithProgress sets a callback invoked after each extracted file.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}
