// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Beacon records analytics events from the command line and delivers
// them to a Matomo-compatible collector.
//
// Events are buffered in the configured queue (durable SQLite by
// default) before delivery, so events that could not be delivered by
// one invocation are sent by a later "beacon track" or
// "beacon dispatch". The commands:
//
//   - track: record events from flags or newline-delimited JSON on
//     stdin, then deliver until the queues drain or --timeout elapses
//   - dispatch: deliver events left queued by earlier runs
//   - status: show queued events, timers, and persisted settings
//   - opt-out: show or change the persisted opt-out flag
//   - version: print version information
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

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
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newRoot(ctx, streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}).Execute(os.Args[1:])
}

// streams are the standard streams of one invocation.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func newRoot(ctx context.Context, s streams) *cli.Command {
	return &cli.Command{
		Name:        "beacon",
		Description: "Record analytics events and deliver them to a Matomo-compatible collector.",
		HelpOutput:  s.err,
		Subcommands: []*cli.Command{
			trackCommand(ctx, s),
			dispatchCommand(ctx, s),
			statusCommand(ctx, s),
			optOutCommand(s),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					version.Fprint(s.out, "beacon")
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Record a screen view and deliver it",
				Command:     "beacon track --config beacon.yaml --view settings/privacy",
			},
			{
				Description: "Deliver events left over from an offline run",
				Command:     "beacon dispatch --config beacon.yaml --timeout 1m",
			},
		},
	}
}
