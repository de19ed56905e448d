package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/tarbgz"
)

type extractArgs struct {
	index     string
	output    string
	workers   int
	overwrite bool
	preserve  bool
	progress  bool
}

func newExtractCmd(a *app) *cobra.Command {
	var args extractArgs
	cmd := &cobra.Command{
		Use:   "extract ARCHIVE PATH",
		Short: "Extract one member or directory from an indexed archive",
		Long: `Extract PATH from ARCHIVE using its index.

A regular file is written to standard output, or to --output. When --output
is an existing directory the file is written into it under its base name.
A directory is extracted with everything below it into --output (default:
the working directory), keeping full archive paths. Other member types
produce no output.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, pos []string) error {
			return a.runExtract(cmd, pos[0], pos[1], args)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&args.index, "index", "", "index path (default ARCHIVE plus the index suffix)")
	flags.StringVarP(&args.output, "output", "o", "", "destination file or directory")
	flags.IntVar(&args.workers, "workers", 0, "concurrent extractions for directories (default from config)")
	flags.BoolVar(&args.overwrite, "overwrite", false, "replace existing files")
	flags.BoolVar(&args.preserve, "preserve", false, "keep member modes and modification times")
	flags.BoolVar(&args.progress, "progress", false, "report progress on stderr")
	return cmd
}

func (a *app) runExtract(cmd *cobra.Command, archive, member string, args extractArgs) error {
	idx, err := a.loadIndex(archive, args.index)
	if err != nil {
		return err
	}

	entry, ok := idx.Get(member)
	isDir := ok && entry.IsDir()
	if !ok {
		// Implied directories have children but no entry.
		if _, err := idx.Children(member); err != nil {
			return fmt.Errorf("%s not found in index", tarbgz.NormalizePath(member))
		}
		isDir = true
	}
	if ok && !isDir && !entry.IsRegular() {
		a.logger.Info("member has no content", "path", tarbgz.NormalizePath(member), "type", string(entry.Type))
		return nil
	}

	return a.withSource(cmd.Context(), archive, func(src *source) error {
		if isDir {
			return a.extractDir(cmd, idx, src, member, args)
		}
		return a.extractFile(idx, src, member, args)
	})
}

func (a *app) extractFile(idx *tarbgz.Index, src *source, member string, args extractArgs) error {
	f, err := tarbgz.Extract(idx, src, member)
	if err != nil {
		return err
	}
	defer f.Close()

	if args.output == "" {
		_, err := io.Copy(a.stdout, f)
		return err
	}

	dest := args.output
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		dest = filepath.Join(dest, path.Base(f.Name()))
	}
	if !args.overwrite {
		if _, err := os.Lstat(dest); err == nil {
			return fmt.Errorf("%s exists; use --overwrite", dest)
		}
	}

	out, err := os.CreateTemp(filepath.Dir(dest), ".tarbgz-*")
	if err != nil {
		return err
	}
	tmp := out.Name()
	defer os.Remove(tmp)

	n, err := io.Copy(out, f)
	if err != nil {
		out.Close()
		return err
	}
	mode := os.FileMode(0o644)
	if args.preserve {
		mode = f.Entry().Mode.Perm()
	}
	if err := out.Chmod(mode); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if args.preserve {
		mtime := f.Entry().ModTime
		if err := os.Chtimes(tmp, mtime, mtime); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return err
	}
	a.logger.Info("extracted", "path", f.Name(), "dest", dest, "bytes", n)
	return nil
}

func (a *app) extractDir(cmd *cobra.Command, idx *tarbgz.Index, src *source, member string, args extractArgs) error {
	workers := a.cfg.Workers
	if args.workers > 0 {
		workers = args.workers
	}
	dest := args.output
	if dest == "" {
		dest = "."
	}
	opts := []tarbgz.ExtractOption{
		tarbgz.ExtractWithWorkers(workers),
		tarbgz.ExtractWithOverwrite(args.overwrite),
		tarbgz.ExtractWithPreserveMode(args.preserve),
		tarbgz.ExtractWithPreserveTimes(args.preserve),
	}
	if args.progress {
		opts = append(opts, tarbgz.ExtractWithProgress(a.progressPrinter()))
	}

	ar := tarbgz.NewArchive(idx, src, tarbgz.ArchiveWithLogger(a.logger))
	stats, err := ar.ExtractTo(cmd.Context(), dest, member, opts...)
	if args.progress {
		fmt.Fprintln(a.stderr)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: %d files, %d dirs, %d skipped, %s\n",
		dest, stats.Files, stats.Dirs, stats.Skipped, humanize.IBytes(stats.Bytes))
	return nil
}
