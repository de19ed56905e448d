// Command profiler exercises tarbgz hot paths under pprof and trace.
package main

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand" //nolint:gosec // intentional use for reproducible benchmarks
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/meigma/tarbgz"
	"github.com/meigma/tarbgz/cache"
	"github.com/meigma/tarbgz/cache/disk"
	"github.com/meigma/tarbgz/internal/bgzf"
)

const cacheNone = "none"

type config struct {
	mode            string
	files           int
	fileSize        int
	dirCount        int
	blockSize       int
	flushPerMember  bool
	pattern         string
	dataURL         string
	dataHTTPLatency time.Duration
	dataHTTPBPS     uint64
	duration        time.Duration
	iterations      int
	pprofAddr       string
	cpuProfile      string
	memProfile      string
	traceFile       string
	cache           string
	cacheDir        string
	prefix          string
	workers         int
	readRandom      bool
	tempDir         string
	keepTemp        bool
	randomSeed      int64
}

//nolint:unused // sink variables prevent compiler optimizations in profiling
var (
	sinkBytes []byte
	sinkEntry tarbgz.Entry
	sinkCount int
)

func main() {
	cfg := parseFlags()

	if cfg.pprofAddr != "" {
		go func() {
			log.Printf("pprof listening on %s", cfg.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(cfg.pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	dir, cleanup, err := setupTempDir(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if cleanup != nil {
		defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
	}

	data, paths, err := makeArchive(cfg)
	if err != nil {
		log.Fatal(err) //nolint:gocritic // exitAfterDefer is intentional - cleanup is best-effort
	}
	log.Printf("archive: %d members, %s compressed", len(paths), humanize.IBytes(uint64(len(data))))

	src, cleanupSource, err := newSource(cfg, data)
	if err != nil {
		log.Fatal(err)
	}
	if cleanupSource != nil {
		defer cleanupSource()
	}

	idx, err := tarbgz.Build(context.Background(), src)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.cpuProfile != "" {
		cpuFile, cpuErr := os.Create(cfg.cpuProfile)
		if cpuErr != nil {
			log.Fatal(cpuErr)
		}
		if cpuErr = pprof.StartCPUProfile(cpuFile); cpuErr != nil {
			log.Fatal(cpuErr)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		}()
	}

	if cfg.traceFile != "" {
		traceFile, traceErr := os.Create(cfg.traceFile)
		if traceErr != nil {
			log.Fatal(traceErr)
		}
		if traceErr = trace.Start(traceFile); traceErr != nil {
			log.Fatal(traceErr)
		}
		defer func() {
			trace.Stop()
			_ = traceFile.Close()
		}()
	}

	stats, err := runProfile(cfg, idx, src, paths, dir)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.memProfile != "" {
		runtime.GC()
		f, err := os.Create(cfg.memProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal(err)
		}
		_ = f.Close()
	}

	fmt.Printf("mode=%s ops=%d bytes=%d elapsed=%s throughput=%s/s\n",
		cfg.mode,
		stats.ops,
		stats.bytes,
		stats.elapsed,
		humanize.IBytes(uint64(float64(stats.bytes)/stats.elapsed.Seconds())),
	)
}

type profileStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

// runProfile dispatches on cfg.mode and loops until the iteration count or
// duration is reached.
//
//nolint:gocognit,gocyclo,gocritic // complexity is inherent to multi-mode profiler dispatch; hugeParam acceptable for profiler
func runProfile(cfg config, idx *tarbgz.Index, src tarbgz.ByteSource, paths []string, rootDir string) (profileStats, error) {
	start := time.Now()
	ops := 0
	var byteCount int64

	shouldContinue := func() bool {
		if cfg.iterations > 0 {
			return ops < cfg.iterations
		}
		return time.Since(start) < cfg.duration
	}
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional for reproducible benchmarks

	switch cfg.mode {
	case "extract":
		for shouldContinue() {
			path := pickPath(paths, ops, rng, cfg.readRandom)
			n, err := extractOne(idx, src, path)
			if err != nil {
				return profileStats{}, err
			}
			byteCount += n
			ops++
		}

	case "readfile", "cached-readfile":
		readSrc := src
		if cfg.mode == "cached-readfile" {
			if cfg.cache == cacheNone {
				return profileStats{}, errors.New("cached-readfile requires a cache")
			}
			cached, cleanup, err := newCachedSource(cfg, src, rootDir)
			if err != nil {
				return profileStats{}, err
			}
			defer cleanup() //nolint:errcheck // cleanup errors are non-fatal in profiler
			readSrc = cached
		}
		archive := tarbgz.NewArchive(idx, readSrc)
		for shouldContinue() {
			path := pickPath(paths, ops, rng, cfg.readRandom)
			content, err := archive.ReadFile(path)
			if err != nil {
				return profileStats{}, err
			}
			sinkBytes = content
			byteCount += int64(len(content))
			ops++
		}

	case "index-lookup":
		for shouldContinue() {
			path := pickPath(paths, ops, rng, cfg.readRandom)
			entry, ok := idx.Get(path)
			if !ok {
				return profileStats{}, fmt.Errorf("missing entry for %q", path)
			}
			sinkEntry = entry
			ops++
		}

	case "list-directory":
		for shouldContinue() {
			children, err := idx.ListDirectory(cfg.prefix)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = len(children)
			ops++
		}

	case "entries-with-prefix":
		for shouldContinue() {
			count := 0
			for _, entry := range idx.EntriesWithPrefix(cfg.prefix) {
				sinkEntry = entry
				count++
			}
			if count == 0 {
				return profileStats{}, fmt.Errorf("expected at least one entry for prefix %q", cfg.prefix)
			}
			sinkCount = count
			ops++
		}

	case "extract-to":
		archive := tarbgz.NewArchive(idx, src)
		opts := []tarbgz.ExtractOption{tarbgz.ExtractWithWorkers(cfg.workers)}
		for shouldContinue() {
			destDir := filepath.Join(rootDir, "extract", fmt.Sprintf("iter-%d", ops))
			stats, err := archive.ExtractTo(context.Background(), destDir, cfg.prefix, opts...)
			if err != nil {
				return profileStats{}, err
			}
			if err := os.RemoveAll(destDir); err != nil {
				return profileStats{}, err
			}
			byteCount += int64(stats.Bytes) //nolint:gosec // profiler byte counts stay small
			ops++
		}

	case "build":
		for shouldContinue() {
			built, err := tarbgz.Build(context.Background(), src)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = built.Len()
			byteCount += src.Size()
			ops++
		}

	case "marshal":
		for shouldContinue() {
			data, err := idx.Encode(tarbgz.SaveWithCompression(tarbgz.CompressionZstd))
			if err != nil {
				return profileStats{}, err
			}
			decoded, err := tarbgz.Unmarshal(data)
			if err != nil {
				return profileStats{}, err
			}
			sinkCount = decoded.Len()
			byteCount += int64(len(data))
			ops++
		}

	default:
		return profileStats{}, fmt.Errorf("unknown mode: %s", cfg.mode)
	}

	return profileStats{
		ops:     ops,
		bytes:   byteCount,
		elapsed: time.Since(start),
	}, nil
}

func extractOne(idx *tarbgz.Index, src tarbgz.ByteSource, path string) (int64, error) {
	f, err := tarbgz.Extract(idx, src, path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(io.Discard, f)
}

func parseFlags() config {
	var cfg config
	var dataHTTPBPS string
	flag.StringVar(&cfg.mode, "mode", "extract", "mode: extract, readfile, cached-readfile, index-lookup, list-directory, entries-with-prefix, extract-to, build, marshal")
	flag.IntVar(&cfg.files, "files", 512, "number of members")
	flag.IntVar(&cfg.fileSize, "file-size", 16<<10, "member size in bytes")
	flag.IntVar(&cfg.dirCount, "dir-count", 16, "number of directories")
	flag.IntVar(&cfg.blockSize, "block-size", bgzf.MaxDataSize, "uncompressed bytes per BGZF block")
	flag.BoolVar(&cfg.flushPerMember, "flush-per-member", false, "start a new BGZF block at every member")
	flag.StringVar(&cfg.pattern, "pattern", "compressible", "pattern: compressible or random")
	flag.StringVar(&cfg.dataURL, "data-url", "", "HTTP archive URL (use \"local\" to serve generated data)")
	flag.DurationVar(&cfg.dataHTTPLatency, "data-http-latency", 0, "per-request latency for HTTP data source")
	flag.StringVar(&dataHTTPBPS, "data-http-bps", "", "bytes/sec throttle for HTTP data source (e.g. 10MB)")
	flag.DurationVar(&cfg.duration, "duration", 10*time.Second, "duration to run (ignored if iterations > 0)")
	flag.IntVar(&cfg.iterations, "iterations", 0, "number of iterations to run")
	flag.StringVar(&cfg.pprofAddr, "pprof-addr", "", "pprof listen address (e.g. :6060)")
	flag.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flag.StringVar(&cfg.memProfile, "memprofile", "", "write heap profile to file")
	flag.StringVar(&cfg.traceFile, "trace", "", "write trace to file")
	flag.StringVar(&cfg.cache, "cache", "memory", "block cache for cached-readfile: memory, disk, none")
	flag.StringVar(&cfg.cacheDir, "cache-dir", "", "cache directory (disk cache only)")
	flag.StringVar(&cfg.prefix, "prefix", "dir00", "directory for list-directory, entries-with-prefix, and extract-to modes")
	flag.IntVar(&cfg.workers, "workers", 0, "extract-to workers: 0 uses GOMAXPROCS")
	flag.BoolVar(&cfg.readRandom, "read-random", true, "randomize member selection")
	flag.StringVar(&cfg.tempDir, "temp-dir", "", "directory for extraction output and disk cache")
	flag.BoolVar(&cfg.keepTemp, "keep-temp", false, "keep temp dir after run")
	flag.Int64Var(&cfg.randomSeed, "seed", 1, "random seed")
	flag.Parse()
	if dataHTTPBPS != "" {
		bps, err := humanize.ParseBytes(dataHTTPBPS)
		if err != nil || bps == 0 {
			log.Fatalf("data-http-bps: invalid rate %q", dataHTTPBPS)
		}
		cfg.dataHTTPBPS = bps
	}
	return cfg
}

func pickPath(paths []string, idx int, rng *rand.Rand, random bool) string {
	if random {
		return paths[rng.Intn(len(paths))]
	}
	return paths[idx%len(paths)]
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func setupTempDir(cfg config) (string, func() error, error) {
	if cfg.tempDir != "" {
		return cfg.tempDir, nil, os.MkdirAll(cfg.tempDir, 0o755) //nolint:gosec // 0o755 is intentional for profiler temp dirs
	}
	dir, err := os.MkdirTemp("", "tarbgz-profiler-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() error {
		if cfg.keepTemp {
			return nil
		}
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}

// makeArchive generates a BGZF-compressed tar archive in memory and returns
// it with the member paths.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func makeArchive(cfg config) ([]byte, []string, error) {
	dirCount := max(cfg.dirCount, 1)
	var out bytes.Buffer
	bw, err := bgzf.NewWriter(&out, bgzf.WithBlockDataSize(cfg.blockSize))
	if err != nil {
		return nil, nil, err
	}
	tw := tar.NewWriter(bw)

	paths := make([]string, 0, cfg.files)
	rng := rand.New(rand.NewSource(cfg.randomSeed)) //nolint:gosec // intentional use for reproducible benchmarks
	content := make([]byte, cfg.fileSize)
	modTime := time.Unix(1_700_000_000, 0)
	for i := range cfg.files {
		relPath := fmt.Sprintf("dir%02d/file%05d.dat", i%dirCount, i)
		switch cfg.pattern {
		case "random":
			_, _ = rng.Read(content)
		default:
			fillByte := byte('a' + (i % 26))
			for j := range content {
				content[j] = fillByte
			}
			if len(content) > 0 {
				content[0] = byte(i)
			}
		}

		hdr := &tar.Header{
			Name:     relPath,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
			ModTime:  modTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, nil, err
		}
		if cfg.flushPerMember {
			// Pad the member to its record boundary so the next header
			// starts the new block.
			if err := tw.Flush(); err != nil {
				return nil, nil, err
			}
			if err := bw.Flush(); err != nil {
				return nil, nil, err
			}
		}
		paths = append(paths, relPath)
	}
	if err := tw.Close(); err != nil {
		return nil, nil, err
	}
	if err := bw.Close(); err != nil {
		return nil, nil, err
	}
	return out.Bytes(), paths, nil
}

//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newSource(cfg config, data []byte) (tarbgz.ByteSource, func(), error) {
	if cfg.dataURL == "" {
		return bytes.NewReader(data), nil, nil
	}
	source, cleanup, err := newHTTPSource(cfg, data)
	if err != nil {
		return nil, nil, err
	}
	return source, cleanup, nil
}

// newCachedSource wraps src in a block cache backed by memory or disk.
//
//nolint:gocritic // hugeParam acceptable for config struct in CLI tool
func newCachedSource(cfg config, src tarbgz.ByteSource, rootDir string) (*cache.Source, func() error, error) {
	var store cache.Store
	cleanup := func() error { return nil }
	switch cfg.cache {
	case "memory":
		store = cache.NewMemory(0)
	case "disk":
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(rootDir, "cache")
			cleanup = func() error { return os.RemoveAll(cacheDir) }
		}
		d, err := disk.New(cacheDir)
		if err != nil {
			return nil, nil, err
		}
		store = d
	default:
		return nil, nil, fmt.Errorf("unknown cache: %s", cfg.cache)
	}

	cached, err := cache.Wrap(src, store, fmt.Sprintf("profiler:%d:%d", cfg.randomSeed, src.Size()))
	if err != nil {
		return nil, nil, err
	}
	return cached, cleanup, nil
}
