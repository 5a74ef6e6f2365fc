// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration of the beacon command.
//
// Configuration comes from exactly one file, named by the --config
// flag or the BEACON_CONFIG environment variable. There is no search
// path and no implicit default file. Files ending in .json or .jsonc
// are parsed as JSON with comments; anything else is YAML.
//
// Two environment variables override the file, for deployments that
// template the collector per environment:
//
//   - BEACON_COLLECTOR_ENDPOINT replaces collector.endpoint
//   - BEACON_SITE_ID replaces collector.site_id
//
// Paths may reference ${HOME}, ${BEACON_STATE} (the directory of
// queue.path's default), and ${VAR:-default}.
package config
