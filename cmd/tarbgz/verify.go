package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	var index string
	cmd := &cobra.Command{
		Use:   "verify ARCHIVE",
		Short: "Check an archive against its index",
		Long: `Check that ARCHIVE matches the size and digest recorded in its index.
Indexes built without --digest are checked by size only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, pos []string) error {
			idx, err := a.loadIndex(pos[0], index)
			if err != nil {
				return err
			}
			return a.withSource(cmd.Context(), pos[0], func(src *source) error {
				if err := idx.Verify(src); err != nil {
					return err
				}
				d, ok := idx.ArchiveDigest()
				if !ok {
					fmt.Fprintf(a.stdout, "%s: ok (size only)\n", pos[0])
					return nil
				}
				fmt.Fprintf(a.stdout, "%s: ok %s\n", pos[0], d)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&index, "index", "", "index path (default ARCHIVE plus the index suffix)")
	return cmd
}
