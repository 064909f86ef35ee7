// SPDX-License-Identifier: Apache-2.0

// Command memstress puts the allocators and pools of go-memkit under
// concurrent load and reports their statistics.
//
// Usage: go run ./cmd/memstress [global flags] pool|stack|arena|async [flags]
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	if err := newApp(logger).RunContext(ctx, os.Args); err != nil {
		logger.WithField("action", "memstress_exit").WithError(err).Error("memstress failed")
		stop()
		os.Exit(1)
	}
}
