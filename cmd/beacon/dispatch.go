// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
)

func dispatchCommand(ctx context.Context, s streams) *cli.Command {
	var (
		flags   globalFlags
		timeout time.Duration
		dryRun  bool
	)
	return &cli.Command{
		Name:    "dispatch",
		Summary: "Deliver events left queued by earlier runs",
		Description: "Deliver queued events until both lanes are empty, a send fails, or\n" +
			"--timeout elapses. Exits with code 2 when events remain queued.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("dispatch", pflag.ContinueOnError)
			flags.bind(flagSet)
			flagSet.DurationVar(&timeout, "timeout", defaultDeliveryTimeout, "how long to keep delivering")
			flagSet.BoolVar(&dryRun, "dry-run", false, "log events instead of sending them")
			return flagSet
		},
		Run: func(args []string) (err error) {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			env, err := openEnvironment(&flags, s.err)
			if err != nil {
				return err
			}
			defer func() { joinError(&err, env.close()) }()

			tr, err := env.newTracker(trackerOptions{dryRun: dryRun})
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				joinError(&err, tr.Close(closeCtx))
			}()

			deliverCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := tr.Flush(deliverCtx); err != nil {
				env.logger.Warn("delivery stopped, events stay queued", "error", err)
			}
			return reportQueued(ctx, s.out, tr, -1, true)
		},
	}
}
