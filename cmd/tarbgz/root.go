package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meigma/tarbgz"
	"github.com/meigma/tarbgz/cache"
	"github.com/meigma/tarbgz/cache/disk"
	tarhttp "github.com/meigma/tarbgz/http"
	"github.com/meigma/tarbgz/internal/config"
)

// app holds state shared by all subcommands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Set by persistent flags.
	configPath string
	logLevel   string
	logFormat  string

	// Overridable for tests.
	lookupEnv func(string) (string, bool)
	dotenv    []string

	cfg    config.Config
	logger *slog.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		lookupEnv: os.LookupEnv,
		dotenv:    []string{".env"},
		logger:    slog.New(slog.DiscardHandler),
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tarbgz",
		Short: "Random access into BGZF-compressed tar archives",
		Long: `tarbgz builds a side index for a BGZF-compressed tar archive and uses it
to list and extract members without decompressing the whole archive.

Archives may be local paths or http(s) URLs served with range support.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	cmd.AddCommand(
		newCompressCmd(a),
		newIndexCmd(a),
		newLsCmd(a),
		newExtractCmd(a),
		newVerifyCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// setup loads the layered config, applies persistent flags, and builds the
// logger.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(
		config.WithFile(a.configPath),
		config.WithDotenv(a.dotenv...),
		config.WithLookupEnv(a.lookupEnv),
	)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := cfg.Logger(a.stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func isURL(archive string) bool {
	return strings.HasPrefix(archive, "http://") || strings.HasPrefix(archive, "https://")
}

// indexPath returns explicit if set, else the archive path plus the
// configured suffix. Remote archives keep their index in the working
// directory under the URL's base name.
func (a *app) indexPath(archive, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if !isURL(archive) {
		return archive + a.cfg.IndexSuffix, nil
	}
	u, err := url.Parse(archive)
	if err != nil {
		return "", err
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return "", fmt.Errorf("cannot derive an index name from %s; use --index", archive)
	}
	return base + a.cfg.IndexSuffix, nil
}

// source is an opened archive.
type source struct {
	tarbgz.ByteSource
	close func() error
}

func (s *source) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// openSource opens a local archive, or a remote one behind the optional
// disk block cache.
func (a *app) openSource(ctx context.Context, archive string) (*source, error) {
	if !isURL(archive) {
		f, err := tarbgz.OpenFile(archive)
		if err != nil {
			return nil, err
		}
		return &source{ByteSource: f, close: f.Close}, nil
	}

	remote, err := tarhttp.NewSource(ctx, archive, tarhttp.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if a.cfg.CacheDir == "" {
		return &source{ByteSource: remote}, nil
	}

	store, err := disk.New(a.cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	cached, err := cache.Wrap(remote, store, remote.ID(), cache.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return &source{ByteSource: cached, close: func() error {
		a.logger.Debug("block cache", "hits", cached.Hits(), "misses", cached.Misses(), "requests", remote.Requests())
		return a.pruneCache(store)
	}}, nil
}

func (a *app) pruneCache(store *disk.Store) error {
	limit, err := a.cfg.CacheBytes()
	if err != nil {
		return err
	}
	freed, err := store.Prune(limit)
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	if freed > 0 {
		a.logger.Info("pruned block cache", "dir", store.Dir(), "freed", freed)
	}
	return nil
}

// withSource opens archive, runs fn, and closes the source. A close error is
// returned when fn succeeded.
func (a *app) withSource(ctx context.Context, archive string, fn func(*source) error) (err error) {
	src, err := a.openSource(ctx, archive)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(src)
}

// loadIndex reads the index for archive.
func (a *app) loadIndex(archive, explicit string) (*tarbgz.Index, error) {
	p, err := a.indexPath(archive, explicit)
	if err != nil {
		return nil, err
	}
	limit, err := a.cfg.MaxIndexBytes()
	if err != nil {
		return nil, err
	}
	idx, err := tarbgz.LoadFile(p, tarbgz.LoadWithMaxSize(limit))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no index at %s; run tarbgz index first", p)
	}
	return idx, err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			version := "(devel)"
			if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
				version = info.Main.Version
			}
			cmd.Printf("tarbgz %s\n", version)
		},
	}
}
