// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Beacon-collector is a local stand-in for a Matomo collector, for
// developing and testing beacon clients. It accepts bulk tracking
// requests (optionally gzip or zstd encoded) and single GET tracking
// requests, logs every event, and answers 204. GET /stats reports
// counts as JSON.
//
// --fail-every N answers every Nth tracking request with
// --fail-status instead, to exercise client retry.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
	"github.com/bureau-foundation/beacon/lib/process"
	"github.com/bureau-foundation/beacon/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddress string
		trackingPath  string
		failEvery     uint64
		failStatus    int
		logLevel      string
		showVersion   bool
	)
	flagSet := pflag.NewFlagSet("beacon-collector", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddress, "listen", "127.0.0.1:8080", "address to listen on")
	flagSet.StringVar(&trackingPath, "path", "/matomo.php", "tracking endpoint path")
	flagSet.Uint64Var(&failEvery, "fail-every", 0, "fail every Nth tracking request (0 never fails)")
	flagSet.IntVar(&failStatus, "fail-status", http.StatusServiceUnavailable, "status code of injected failures")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("beacon-collector")
		return nil
	}
	if failStatus < 400 || failStatus > 599 {
		return fmt.Errorf("--fail-status must be a 4xx or 5xx code, got %d", failStatus)
	}
	level, err := cli.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := cli.NewLogger(os.Stderr, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddress, err)
	}
	server := &http.Server{
		Handler:           newCollector(logger, failEvery, failStatus).routes(trackingPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(listener)
	}()
	logger.Info("collector running",
		"address", listener.Addr().String(),
		"path", trackingPath,
		"fail_every", failEvery,
	)

	select {
	case err := <-serveDone:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
