// Package main starts the bookshelf process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	bookshelfcmd "github.com/louisbranch/bookshelf/internal/cmd/bookshelf"
	"github.com/louisbranch/bookshelf/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bookshelfcmd.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		config.Exitf("%v", err)
	}
}
