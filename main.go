// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"reactor/cmd"
	"reactor/internal/log"
	"reactor/pkg/build"
)

func main() {
	// Missing build metadata only affects --version output.
	if err := build.Initialize(); err != nil {
		log.Debugf("Build info unavailable: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx, os.Args[1:], os.Stdout); err != nil {
		stop()
		log.Fatalf("%v", err)
	}
}
