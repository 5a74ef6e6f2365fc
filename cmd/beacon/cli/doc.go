// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the beacon CLI.
//
// The central type is [Command], a named subcommand with optional
// nested [Command.Subcommands], a [pflag.FlagSet] factory, and a Run
// function. Commands are assembled into a tree in cmd/beacon and
// dispatched via [Command.Execute], which handles flag parsing,
// subcommand routing, and help output with examples. Unknown
// subcommands and flags get a "did you mean" suggestion when an
// existing name is within edit distance 3.
//
// [NewLogger] builds the structured logger shared by all commands.
package cli
