// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// ExitCoder is implemented by errors that carry their own exit code.
// The command has already written its output, so Fatal prints nothing.
type ExitCoder interface {
	ExitCode() int
}

// Fatal writes "error: err" to stderr and exits with code 1, or exits
// silently with the error's own code when it wraps an ExitCoder.
func Fatal(err error) {
	var coder ExitCoder
	if errors.As(err, &coder) {
		os.Exit(coder.ExitCode())
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
