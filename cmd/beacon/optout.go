// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/beacon/cmd/beacon/cli"
)

func optOutCommand(s streams) *cli.Command {
	var flags globalFlags
	return &cli.Command{
		Name:    "opt-out",
		Summary: "Show or change the persisted opt-out flag",
		Description: "With no argument, print whether tracking is opted out. With \"on\",\n" +
			"later events are dropped before they are queued; \"off\" resumes\n" +
			"tracking. Events queued before opting out are still delivered.",
		Usage: "beacon opt-out [on|off] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("opt-out", pflag.ContinueOnError)
			flags.bind(flagSet)
			return flagSet
		},
		Run: func(args []string) (err error) {
			if len(args) > 1 {
				return fmt.Errorf("expected at most one argument, got %d", len(args))
			}
			env, err := openEnvironment(&flags, s.err)
			if err != nil {
				return err
			}
			defer func() { joinError(&err, env.close()) }()

			persisted, err := env.settings.Load()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintf(s.out, "opted out: %t\n", persisted.OptedOut)
				return nil
			}

			switch args[0] {
			case "on":
				persisted.OptedOut = true
			case "off":
				persisted.OptedOut = false
			default:
				return fmt.Errorf("unknown argument %q (want on or off)", args[0])
			}
			if err := env.settings.Save(persisted); err != nil {
				return err
			}
			env.logger.Info("opt-out changed", "opted_out", persisted.OptedOut, "settings", env.settings.Path())
			fmt.Fprintf(s.out, "opted out: %t\n", persisted.OptedOut)
			return nil
		},
	}
}
