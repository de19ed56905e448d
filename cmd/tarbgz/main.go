// Command tarbgz indexes BGZF-compressed tar archives and extracts single
// members from them without decompressing the whole archive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(newApp(os.Stdin, os.Stdout, os.Stderr))
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tarbgz: %v\n", err)
		stop()
		os.Exit(1)
	}
}
