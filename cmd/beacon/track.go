// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/tracker"
)

// defaultDeliveryTimeout bounds delivery in track and dispatch.
const defaultDeliveryTimeout = 30 * time.Second

// closeTimeout bounds tracker shutdown after delivery.
const closeTimeout = 5 * time.Second

// exitQueued is the exit code when events remain queued after
// delivery stopped.
const exitQueued = 2

// trackInput is one event, from flags or one line of stdin.
type trackInput struct {
	// View is the screen path with "/" separators, e.g.
	// "settings/privacy".
	View string `json:"view"`
	URL  string `json:"url"`

	Category string   `json:"category"`
	Action   string   `json:"action"`
	Name     string   `json:"name"`
	Value    *float64 `json:"value"`

	// Dimensions maps dimension index to value.
	Dimensions map[int]string `json:"dimensions"`

	Priority bool `json:"priority"`
	Critical bool `json:"critical"`
}

func (in trackInput) event() (event.Event, error) {
	if (in.Category == "") != (in.Action == "") {
		return event.Event{}, errors.New("category and action must be given together")
	}
	if in.View == "" && in.Category == "" {
		return event.Event{}, errors.New("an event needs a view or a category and action")
	}
	e := event.Event{
		URL:      in.URL,
		Category: in.Category,
		Action:   in.Action,
		Name:     in.Name,
		Value:    in.Value,
	}
	for _, segment := range strings.Split(in.View, "/") {
		if segment != "" {
			e.ActionPath = append(e.ActionPath, segment)
		}
	}
	indexes := make([]int, 0, len(in.Dimensions))
	for index := range in.Dimensions {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	for _, index := range indexes {
		d := event.Dimension{Index: index, Value: in.Dimensions[index]}
		if err := d.Validate(); err != nil {
			return event.Event{}, err
		}
		e.Dimensions = append(e.Dimensions, d)
	}
	return e, nil
}

// parseDimension parses a --dimension value of the form INDEX=VALUE.
func parseDimension(flag string) (int, string, error) {
	indexText, value, found := strings.Cut(flag, "=")
	if !found {
		return 0, "", fmt.Errorf("--dimension %q: want INDEX=VALUE", flag)
	}
	index, err := strconv.Atoi(indexText)
	if err != nil {
		return 0, "", fmt.Errorf("--dimension %q: index is not a number", flag)
	}
	return index, value, nil
}

// readInputs parses newline-delimited JSON events. Blank lines are
// skipped.
func readInputs(r io.Reader) ([]trackInput, error) {
	var inputs []trackInput
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var input trackInput
		decoder := json.NewDecoder(strings.NewReader(text))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&input); err != nil {
			return nil, fmt.Errorf("stdin line %d: %w", line, err)
		}
		inputs = append(inputs, input)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return inputs, nil
}

type trackParams struct {
	globalFlags
	input      trackInput
	value      float64
	dimensions []string
	timeout    time.Duration
	noDispatch bool
	dryRun     bool
	userID     string
	newSession bool
}

func trackCommand(ctx context.Context, s streams) *cli.Command {
	var params trackParams
	var flagSet *pflag.FlagSet
	return &cli.Command{
		Name:    "track",
		Summary: "Record events and deliver them",
		Description: "Record events and deliver them.\n\n" +
			"With --view or --category/--action one event is built from flags.\n" +
			"Otherwise events are read from stdin, one JSON object per line:\n\n" +
			`  {"view": "settings/privacy", "dimensions": {"3": "premium"}}` + "\n" +
			`  {"category": "sync", "action": "failed", "priority": true}`,
		Usage: "beacon track [flags] [< events.ndjson]",
		Flags: func() *pflag.FlagSet {
			flagSet = pflag.NewFlagSet("track", pflag.ContinueOnError)
			params.globalFlags.bind(flagSet)
			flagSet.StringVar(&params.input.View, "view", "", "screen path, e.g. settings/privacy")
			flagSet.StringVar(&params.input.URL, "url", "", "explicit event URL")
			flagSet.StringVar(&params.input.Category, "category", "", "event category")
			flagSet.StringVar(&params.input.Action, "action", "", "event action")
			flagSet.StringVar(&params.input.Name, "name", "", "event name")
			flagSet.Float64Var(&params.value, "value", 0, "event value")
			flagSet.StringArrayVar(&params.dimensions, "dimension", nil, "custom dimension INDEX=VALUE (repeatable)")
			flagSet.BoolVar(&params.input.Priority, "priority", false, "use the priority lane")
			flagSet.BoolVar(&params.input.Critical, "critical", false, "send immediately, queueing on failure")
			flagSet.StringVar(&params.userID, "user-id", "", "set and persist the user ID")
			flagSet.BoolVar(&params.newSession, "new-session", false, "start a new visit before tracking")
			flagSet.DurationVar(&params.timeout, "timeout", defaultDeliveryTimeout, "how long to keep delivering")
			flagSet.BoolVar(&params.noDispatch, "no-dispatch", false, "only queue events")
			flagSet.BoolVar(&params.dryRun, "dry-run", false, "log events instead of sending them")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Record a view with a custom dimension", Command: "beacon track --view settings/privacy --dimension 3=premium"},
			{Description: "Record events from a file", Command: "beacon track < events.ndjson"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			inputs, err := params.inputs(flagSet, s.in)
			if err != nil {
				return err
			}
			return runTrack(ctx, s, &params, inputs)
		},
	}
}

func (p *trackParams) inputs(flagSet *pflag.FlagSet, stdin io.Reader) ([]trackInput, error) {
	fromFlags := p.input.View != "" || p.input.Category != "" || p.input.Action != ""
	if !fromFlags {
		if len(p.dimensions) > 0 || flagSet.Changed("value") || p.input.Name != "" {
			return nil, errors.New("--name, --value, and --dimension need --view or --category/--action")
		}
		return readInputs(stdin)
	}
	input := p.input
	if flagSet.Changed("value") {
		input.Value = event.Float(p.value)
	}
	for _, flag := range p.dimensions {
		index, value, err := parseDimension(flag)
		if err != nil {
			return nil, err
		}
		if input.Dimensions == nil {
			input.Dimensions = make(map[int]string)
		}
		input.Dimensions[index] = value
	}
	return []trackInput{input}, nil
}

func runTrack(ctx context.Context, s streams, params *trackParams, inputs []trackInput) (err error) {
	events := make([]event.Event, len(inputs))
	for i, input := range inputs {
		if events[i], err = input.event(); err != nil {
			return fmt.Errorf("event %d: %w", i+1, err)
		}
	}

	env, err := openEnvironment(&params.globalFlags, s.err)
	if err != nil {
		return err
	}
	defer func() { joinError(&err, env.close()) }()

	tr, err := env.newTracker(trackerOptions{persistSettings: true, dryRun: params.dryRun})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		joinError(&err, tr.Close(closeCtx))
	}()

	if params.userID != "" {
		tr.SetUserID(params.userID)
	}
	if params.newSession {
		tr.StartNewSession()
	}
	if tr.OptedOut() {
		env.logger.Info("tracking is opted out, dropping events", "events", len(events))
	}

	var critical sync.WaitGroup
	for i, e := range events {
		switch {
		case inputs[i].Critical:
			critical.Add(1)
			tr.TrackCritical(e, func(err error) {
				defer critical.Done()
				if err != nil {
					env.logger.Warn("critical event queued for later delivery", "error", err)
				}
			})
		case inputs[i].Priority:
			tr.TrackPriority(e)
		default:
			tr.Track(e)
		}
	}
	critical.Wait()

	if params.noDispatch {
		return reportQueued(ctx, s.out, tr, len(events), false)
	}
	deliverCtx, cancel := context.WithTimeout(ctx, params.timeout)
	defer cancel()
	if err := tr.Flush(deliverCtx); err != nil {
		env.logger.Warn("delivery stopped, events stay queued", "error", err)
	}
	return reportQueued(ctx, s.out, tr, len(events), true)
}

// reportQueued prints how many events remain queued. After a delivery
// attempt, remaining events produce exit code 2.
func reportQueued(ctx context.Context, out io.Writer, tr *tracker.Tracker, tracked int, delivered bool) error {
	statuses, err := tr.Status(ctx)
	if err != nil {
		return err
	}
	queued := 0
	for _, status := range statuses {
		queued += status.Queued
	}
	if tracked >= 0 {
		fmt.Fprintf(out, "tracked %d events, %d queued\n", tracked, queued)
	} else {
		fmt.Fprintf(out, "%d queued\n", queued)
	}
	if delivered && queued > 0 {
		return &cli.ExitError{Code: exitQueued}
	}
	return nil
}
