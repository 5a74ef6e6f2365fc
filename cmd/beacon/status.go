// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/tracker"
)

// statusReport is the output of "beacon status".
type statusReport struct {
	Lanes         []laneReport `json:"lanes"`
	OptedOut      bool         `json:"opted_out"`
	VisitorID     string       `json:"visitor_id,omitempty"`
	UserID        string       `json:"user_id,omitempty"`
	Visits        int          `json:"visits"`
	FirstVisit    *time.Time   `json:"first_visit,omitempty"`
	PreviousVisit *time.Time   `json:"previous_visit,omitempty"`
	Queue         string       `json:"queue"`
}

type laneReport struct {
	Name    string `json:"name"`
	Queued  int    `json:"queued"`
	Dropped uint64 `json:"dropped"`
}

// dropCounter is implemented by both queue kinds.
type dropCounter interface {
	Dropped() uint64
}

func statusCommand(ctx context.Context, s streams) *cli.Command {
	var (
		flags  globalFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show queued events and persisted settings",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.bind(flagSet)
			output.BindJSON(flagSet)
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

			report, err := buildStatus(ctx, env)
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(s.out, report); done {
				return err
			}
			return writeStatus(s.out, report)
		},
	}
}

func buildStatus(ctx context.Context, env *environment) (*statusReport, error) {
	persisted, err := env.settings.Load()
	if err != nil {
		return nil, err
	}
	report := &statusReport{
		OptedOut:  persisted.OptedOut,
		VisitorID: persisted.VisitorID,
		UserID:    persisted.UserID,
		Visits:    persisted.Visits,
		Queue:     env.config.Queue.Kind,
	}
	if !persisted.FirstVisit.IsZero() {
		report.FirstVisit = &persisted.FirstVisit
	}
	if !persisted.PreviousVisit.IsZero() {
		report.PreviousVisit = &persisted.PreviousVisit
	}

	for _, lane := range []struct {
		name  string
		queue queue.Queue
	}{
		{tracker.StandardLane, env.standard},
		{tracker.PriorityLane, env.priority},
	} {
		count, err := lane.queue.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting %s lane: %w", lane.name, err)
		}
		entry := laneReport{Name: lane.name, Queued: count}
		if counter, ok := lane.queue.(dropCounter); ok {
			entry.Dropped = counter.Dropped()
		}
		report.Lanes = append(report.Lanes, entry)
	}
	return report, nil
}

func writeStatus(w io.Writer, report *statusReport) error {
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "LANE\tQUEUED\tDROPPED\n")
	for _, lane := range report.Lanes {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", lane.Name, lane.Queued, lane.Dropped)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	visitor := report.VisitorID
	if visitor == "" {
		visitor = "(not yet assigned)"
	}
	fmt.Fprintf(w, "\nqueue:      %s\n", report.Queue)
	fmt.Fprintf(w, "opted out:  %t\n", report.OptedOut)
	fmt.Fprintf(w, "visitor:    %s\n", visitor)
	if report.UserID != "" {
		fmt.Fprintf(w, "user:       %s\n", report.UserID)
	}
	fmt.Fprintf(w, "visits:     %d\n", report.Visits)
	if report.PreviousVisit != nil {
		fmt.Fprintf(w, "last visit: %s\n", report.PreviousVisit.Format(time.RFC3339))
	}
	return nil
}
