// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/dispatch"
	"github.com/bureau-foundation/beacon/lib/queue"
	"github.com/bureau-foundation/beacon/lib/settings"
	"github.com/bureau-foundation/beacon/lib/tracker"
	"github.com/bureau-foundation/beacon/lib/version"
)

// globalFlags are accepted by every command that reads the
// configuration.
type globalFlags struct {
	configPath string
	logLevel   string
}

func (g *globalFlags) bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "config file (default: $"+config.EnvConfig+")")
	flagSet.StringVar(&g.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
}

// environment holds what a command opened from the configuration.
// close releases it in reverse order of opening.
type environment struct {
	config   *config.Config
	logger   *slog.Logger
	settings *settings.File
	standard queue.Queue
	priority queue.Queue
	closers  []func() error
}

func openEnvironment(g *globalFlags, stderr io.Writer) (*environment, error) {
	level, err := cli.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}

	var cfg *config.Config
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger := cli.NewLogger(stderr, level)
	env := &environment{
		config:   cfg,
		logger:   logger,
		settings: settings.NewFile(cfg.Settings.Path),
	}

	switch cfg.Queue.Kind {
	case config.QueueMemory:
		logger.Warn("memory queue selected, events not delivered before exit are lost")
		env.standard = queue.NewMemory(cfg.Queue.MaxEvents)
		env.priority = queue.NewMemory(cfg.Queue.MaxEvents)
	case config.QueueSQLite:
		pool, err := queue.OpenDatabase(cfg.Queue.Path, logger)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, pool.Close)
		for _, lane := range []struct {
			name   string
			target *queue.Queue
		}{
			{tracker.StandardLane, &env.standard},
			{tracker.PriorityLane, &env.priority},
		} {
			q, err := queue.OpenSQLite(queue.SQLiteConfig{
				Pool:        pool,
				Lane:        lane.name,
				MaxEvents:   cfg.Queue.MaxEvents,
				Compression: cfg.QueueCompression(),
				Logger:      logger,
			})
			if err != nil {
				env.close()
				return nil, err
			}
			env.closers = append(env.closers, q.Close)
			*lane.target = q
		}
	}
	return env, nil
}

// trackerOptions select what newTracker wires in.
type trackerOptions struct {
	// persistSettings loads and saves the settings file. Commands that
	// only deliver leave it off so they do not count a visit.
	persistSettings bool

	// dryRun logs events instead of sending them.
	dryRun bool
}

func (env *environment) newTracker(options trackerOptions) (*tracker.Tracker, error) {
	cfg := env.config
	userAgent := cfg.Collector.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent("beacon")
	}

	var dispatcher dispatch.Dispatcher
	if options.dryRun {
		dispatcher = dispatch.NewLogging(env.logger)
	} else {
		httpDispatcher, err := dispatch.NewHTTP(dispatch.HTTPConfig{
			Endpoint:  cfg.Collector.Endpoint,
			Timeout:   cfg.Timeout(),
			Encoding:  cfg.BodyEncoding(),
			UserAgent: userAgent,
			Logger:    env.logger,
		})
		if err != nil {
			return nil, err
		}
		dispatcher = httpDispatcher
	}

	var store settings.Store
	if options.persistSettings {
		store = env.settings
	}
	return tracker.New(tracker.Config{
		SiteID:      cfg.Collector.SiteID,
		ContentBase: cfg.ContentBase,
		Language:    cfg.Language,
		UserAgent:   userAgent,
		Standard:    env.standard,
		Priority:    env.priority,
		Dispatcher:  dispatcher,
		Settings:    store,
		BatchSize:   cfg.Dispatch.BatchSize,
		Interval:    cfg.Interval(),
		Logger:      env.logger,
	})
}

func (env *environment) close() error {
	var errs []error
	for i := len(env.closers) - 1; i >= 0; i-- {
		errs = append(errs, env.closers[i]())
	}
	env.closers = nil
	return errors.Join(errs...)
}

// joinError adds closeErr to *err. A nil closeErr leaves *err as it
// is, so an ExitError keeps its type.
func joinError(err *error, closeErr error) {
	if closeErr != nil {
		*err = errors.Join(*err, closeErr)
	}
}
