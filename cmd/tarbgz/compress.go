package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/tarbgz/internal/bgzf"
)

type compressArgs struct {
	input  string
	output string
	index  bool
}

func newCompressCmd(a *app) *cobra.Command {
	var args compressArgs
	cmd := &cobra.Command{
		Use:   "compress INPUT",
		Short: "BGZF-compress a tar archive",
		Long: `Compress a tar archive into BGZF blocks. Use "-" to read standard input.

The output defaults to INPUT.gz. Pass --index to index the result as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			args.input = pos[0]
			return a.runCompress(cmd, &args)
		},
	}
	cmd.Flags().StringVarP(&args.output, "output", "o", "", "output path (default INPUT.gz)")
	cmd.Flags().BoolVar(&args.index, "index", false, "also build and save the index")
	cmd.Flags().Int("level", 0, "deflate level, -1 to 9 (default from config)")
	cmd.Flags().Int("block-size", 0, "uncompressed bytes per block (default from config)")
	return cmd
}

func (a *app) runCompress(cmd *cobra.Command, args *compressArgs) error {
	if cmd.Flags().Changed("level") {
		a.cfg.CompressionLevel, _ = cmd.Flags().GetInt("level")
	}
	if cmd.Flags().Changed("block-size") {
		a.cfg.BlockSize, _ = cmd.Flags().GetInt("block-size")
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	output := args.output
	if output == "" {
		if args.input == "-" {
			return fmt.Errorf("reading standard input requires --output")
		}
		output = args.input + ".gz"
	}

	var in io.Reader = a.stdin
	if args.input != "-" {
		f, err := os.Open(args.input)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	n, err := a.compressTo(output, in)
	if err != nil {
		return err
	}
	a.logger.Info("compressed", "input", args.input, "output", output, "bytes", n)
	fmt.Fprintf(a.stdout, "%s: %s\n", output, humanize.IBytes(uint64(n))) //nolint:gosec // n is a byte count

	if !args.index {
		return nil
	}
	return a.buildAndSave(cmd, output, indexArgs{})
}

// compressTo writes the BGZF stream of in to a temporary file next to output
// and renames it into place. It returns the uncompressed bytes read.
func (a *app) compressTo(output string, in io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(output), ".tarbgz-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}

	w, err := bgzf.NewWriter(tmp, bgzf.WithLevel(a.cfg.CompressionLevel), bgzf.WithBlockDataSize(a.cfg.BlockSize))
	if err != nil {
		return fail(err)
	}
	n, err := io.Copy(w, in)
	if err != nil {
		return fail(fmt.Errorf("compress: %w", err))
	}
	if err := w.Close(); err != nil {
		return fail(fmt.Errorf("compress: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil { //nolint:gosec // archives are world-readable like any tar
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := os.Rename(tmpPath, output); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return n, nil
}
