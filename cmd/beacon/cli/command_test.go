// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string
	root := &Command{
		Name: "beacon",
		Subcommands: []*Command{
			{Name: "track", Run: func(args []string) error { called = "track"; return nil }},
			{Name: "status", Run: func(args []string) error { called = "status"; return nil }},
		},
	}
	if err := root.Execute([]string{"status"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "status" {
		t.Errorf("dispatched to %q, want %q", called, "status")
	}
}

func TestCommand_Execute_RunReceivesPositionalArgs(t *testing.T) {
	var received []string
	var level string
	root := &Command{
		Name: "beacon",
		Subcommands: []*Command{
			{
				Name: "opt-out",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("opt-out", pflag.ContinueOnError)
					flagSet.StringVar(&level, "log-level", "info", "log level")
					return flagSet
				},
				Run: func(args []string) error { received = args; return nil },
			},
		},
	}
	if err := root.Execute([]string{"opt-out", "--log-level", "debug", "on"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(received) != 1 || received[0] != "on" {
		t.Errorf("args = %v, want [on]", received)
	}
	if level != "debug" {
		t.Errorf("log-level = %q, want debug", level)
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "track",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("track", pflag.ContinueOnError)
			flagSet.String("category", "", "event category")
			flagSet.String("timeout", "10s", "dispatch timeout")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}
	err := command.Execute([]string{"--catgory", "ui"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --category") {
		t.Errorf("error = %q, want suggestion for --category", err)
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err)
	}

	err = command.Execute([]string{"--zzzzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion for distant flag", err)
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name:       "beacon",
		HelpOutput: io.Discard,
		Subcommands: []*Command{
			{Name: "track"},
			{Name: "dispatch"},
			{Name: "status"},
		},
	}
	err := root.Execute([]string{"dispach"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "dispatch"`) {
		t.Fatalf("error = %v, want suggestion for dispatch", err)
	}
	err = root.Execute([]string{"zzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Fatalf("error = %v, want no suggestion", err)
	}
}

func TestCommand_Execute_HelpAndMissingSubcommand(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:        "beacon",
		Summary:     "Analytics event buffering",
		HelpOutput:  &help,
		Subcommands: []*Command{{Name: "track", Summary: "Record events"}},
	}
	for _, helpArg := range []string{"-h", "--help", "help"} {
		if err := root.Execute([]string{helpArg}); err != nil {
			t.Errorf("Execute(%q) error: %v", helpArg, err)
		}
	}
	if !strings.Contains(help.String(), "Record events") {
		t.Errorf("help output = %q, want subcommand summary", help.String())
	}

	err := root.Execute(nil)
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Fatalf("error = %v, want 'subcommand required'", err)
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := &Command{
		Name:        "beacon",
		Description: "Client-side analytics event buffering and delivery.",
		Subcommands: []*Command{
			{Name: "track", Summary: "Record events and deliver them"},
			{Name: "status", Summary: "Show queued events"},
		},
		Examples: []Example{{
			Description: "Record a screen view",
			Command:     "beacon track --view settings/privacy",
		}},
	}
	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()
	for _, want := range []string{
		"Client-side analytics event buffering and delivery.",
		"beacon <command> [flags]",
		"Commands:",
		"Record events and deliver them",
		"Examples:",
		"# Record a screen view",
		"beacon track --view settings/privacy",
		"Run 'beacon <command> --help'",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "beacon"}
	optOut := &Command{Name: "opt-out", parent: root}
	if got := optOut.fullName(); got != "beacon opt-out" {
		t.Errorf("fullName() = %q, want %q", got, "beacon opt-out")
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"track", "track", 0},
		{"dispach", "dispatch", 1},
		{"stauts", "status", 2},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", name, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLoggerUsesJSONWhenNotATerminal(t *testing.T) {
	var buffer bytes.Buffer
	logger := NewLogger(&buffer, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("drain complete", "lane", "standard")
	output := buffer.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("debug line written at info level: %s", output)
	}
	if !strings.HasPrefix(output, "{") || !strings.Contains(output, `"lane":"standard"`) {
		t.Errorf("output = %q, want a JSON line", output)
	}
}

func TestEmitJSON(t *testing.T) {
	var output JSONOutput
	flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
	output.BindJSON(flagSet)

	var buffer bytes.Buffer
	if done, _ := output.EmitJSON(&buffer, map[string]int{"queued": 3}); done {
		t.Fatal("EmitJSON wrote output without --json")
	}
	if err := flagSet.Parse([]string{"--json"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	done, err := output.EmitJSON(&buffer, map[string]int{"queued": 3})
	if !done || err != nil {
		t.Fatalf("EmitJSON = %v, %v", done, err)
	}
	if !strings.Contains(buffer.String(), `"queued": 3`) {
		t.Errorf("output = %q", buffer.String())
	}
}
