// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/beacon/lib/event"
)

// Logging is a Dispatcher that writes every event to a logger at Info
// and reports success. It stands in for a collector during
// development.
type Logging struct {
	logger  *slog.Logger
	encoder *Encoder
}

var _ Dispatcher = (*Logging)(nil)

// NewLogging returns a Logging dispatcher. A nil logger discards
// everything, which makes the dispatcher a sink.
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Logging{logger: logger, encoder: &Encoder{Rand: func() uint32 { return 0 }}}
}

func (l *Logging) Send(ctx context.Context, batch []event.Event) error {
	for _, e := range batch {
		l.log(ctx, e, len(batch))
	}
	return nil
}

func (l *Logging) SendEvent(ctx context.Context, e event.Event) error {
	l.log(ctx, e, 1)
	return nil
}

func (l *Logging) log(ctx context.Context, e event.Event, batchSize int) {
	l.logger.InfoContext(ctx, "event",
		"batch_size", batchSize,
		"action_name", e.ActionName(),
		"category", e.Category,
		"action", e.Action,
		"query", l.encoder.Encode(e),
	)
}
