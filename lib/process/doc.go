// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint error handler for Beacon
// binaries. main() calls [Fatal] with the error from run(), before or
// after the structured logger exists.
package process
