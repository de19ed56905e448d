package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/tarbgz"
)

type indexArgs struct {
	index      string
	progress   bool
	maxEntries int
}

func newIndexCmd(a *app) *cobra.Command {
	var args indexArgs
	cmd := &cobra.Command{
		Use:   "index ARCHIVE",
		Short: "Build and save the index of an archive",
		Long: `Scan ARCHIVE once and save the coordinates of every member.

The index is written to ARCHIVE plus the configured suffix (".index") unless
--index names another path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			return a.buildAndSave(cmd, pos[0], args)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&args.index, "index", "", "index path")
	flags.Bool("digest", false, "record the archive digest for verify (default from config)")
	flags.Bool("compress-index", false, "zstd-compress the saved index (default from config)")
	flags.BoolVar(&args.progress, "progress", false, "report progress on stderr")
	flags.IntVar(&args.maxEntries, "max-entries", 0, "fail if the archive has more members (0 = no limit)")
	return cmd
}

func (a *app) buildAndSave(cmd *cobra.Command, archive string, args indexArgs) error {
	if f := cmd.Flags().Lookup("digest"); f != nil && f.Changed {
		a.cfg.Digest, _ = cmd.Flags().GetBool("digest")
	}
	if f := cmd.Flags().Lookup("compress-index"); f != nil && f.Changed {
		a.cfg.CompressIndex, _ = cmd.Flags().GetBool("compress-index")
	}

	out, err := a.indexPath(archive, args.index)
	if err != nil {
		return err
	}
	opts := []tarbgz.BuildOption{
		tarbgz.BuildWithLogger(a.logger),
		tarbgz.BuildWithDigest(a.cfg.Digest),
	}
	if args.maxEntries > 0 {
		opts = append(opts, tarbgz.BuildWithMaxEntries(args.maxEntries))
	}
	if args.progress {
		opts = append(opts, tarbgz.BuildWithProgress(a.progressPrinter()))
	}
	compression := tarbgz.CompressionNone
	if a.cfg.CompressIndex {
		compression = tarbgz.CompressionZstd
	}

	return a.withSource(cmd.Context(), archive, func(src *source) error {
		started := time.Now()
		idx, err := tarbgz.Build(cmd.Context(), src, opts...)
		if err != nil {
			return err
		}
		if err := idx.Save(out, tarbgz.SaveWithCompression(compression)); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s: %s members, %s archive, %s\n",
			out,
			humanize.Comma(int64(idx.Len())),
			humanize.IBytes(uint64(src.Size())), //nolint:gosec // sizes are never negative
			time.Since(started).Round(time.Millisecond))
		return nil
	})
}

// progressPrinter reports build and extraction progress on stderr, at most
// once per percent. Extraction reports from several workers.
func (a *app) progressPrinter() tarbgz.ProgressFunc {
	var mu sync.Mutex
	last := -1
	return func(e tarbgz.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Stage {
		case tarbgz.StageIndexing:
			if e.BytesTotal == 0 {
				return
			}
			pct := int(e.BytesDone * 100 / e.BytesTotal)
			if pct == last {
				return
			}
			last = pct
			fmt.Fprintf(a.stderr, "\r%s %3d%% %s/%s", e.Stage, pct,
				humanize.IBytes(e.BytesDone), humanize.IBytes(e.BytesTotal))
		case tarbgz.StageDigesting:
			fmt.Fprintf(a.stderr, "\n%s\n", e.Stage)
		case tarbgz.StageExtracting:
			fmt.Fprintf(a.stderr, "\r%s %d/%d %s", e.Stage, e.FilesDone, e.FilesTotal, e.Path)
		}
	}
}
