package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/meigma/tarbgz"
)

type lsArgs struct {
	index     string
	human     bool
	long      bool
	recursive bool
}

func newLsCmd(a *app) *cobra.Command {
	var args lsArgs
	cmd := &cobra.Command{
		Use:   "ls ARCHIVE [PATH]",
		Short: "List a directory of an indexed archive",
		Long: `List the children of PATH (default: the archive root) as
"path<TAB>size". Directories without a member of their own show "-".

Only the index is read; the archive itself is not opened.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, pos []string) error {
			dir := ""
			if len(pos) > 1 {
				dir = pos[1]
			}
			return a.runLs(pos[0], dir, args)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&args.index, "index", "", "index path (default ARCHIVE plus the index suffix)")
	flags.BoolVarP(&args.human, "human", "H", false, "print sizes like 1.2 MiB")
	flags.BoolVarP(&args.long, "long", "l", false, "also print mode and modification time")
	flags.BoolVarP(&args.recursive, "recursive", "R", false, "list every member below PATH in archive order")
	return cmd
}

func (a *app) runLs(archive, dir string, args lsArgs) error {
	idx, err := a.loadIndex(archive, args.index)
	if err != nil {
		return err
	}

	// The short form keeps literal tabs so the output stays easy to cut.
	w := tabwriter.NewWriter(a.stdout, 0, 4, 1, ' ', 0)
	var out io.Writer = w
	if !args.long {
		out = a.stdout
	}

	if args.recursive {
		for p, e := range idx.EntriesWithPrefix(dir) {
			printEntry(out, p, &e, args)
		}
		return w.Flush()
	}

	children, err := idx.ListDirectory(dir)
	if err != nil {
		return err
	}
	for _, c := range children {
		e, ok := c.Entry()
		if !ok {
			printEntry(out, c.Path, nil, args)
			continue
		}
		printEntry(out, c.Path, &e, args)
	}
	return w.Flush()
}

func printEntry(w io.Writer, p string, e *tarbgz.Entry, args lsArgs) {
	size := "-"
	if e != nil {
		size = strconv.FormatUint(e.Size, 10)
		if args.human {
			size = humanize.IBytes(e.Size)
		}
	}
	if !args.long {
		fmt.Fprintf(w, "%s\t%s\n", p, size)
		return
	}
	mode, mtime := "d---------", "-"
	if e != nil {
		mode = e.Mode.String()
		mtime = e.ModTime.UTC().Format("2006-01-02 15:04")
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mode, size, mtime, p)
}
