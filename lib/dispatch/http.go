// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bureau-foundation/beacon/lib/compress"
	"github.com/bureau-foundation/beacon/lib/event"
	"github.com/bureau-foundation/beacon/lib/netutil"
)

// DefaultTimeout bounds one collector round trip when HTTPConfig
// supplies neither a Client nor a Timeout.
const DefaultTimeout = 10 * time.Second

// BulkRequest is the collector's bulk tracking body.
type BulkRequest struct {
	Requests []string `json:"requests"`
}

// HTTPConfig configures NewHTTP.
type HTTPConfig struct {
	// Endpoint is the absolute http or https URL of the collector's
	// tracking endpoint, e.g. https://analytics.example.com/matomo.php.
	Endpoint string

	// Client performs the requests. Nil creates a client with
	// Timeout.
	Client *http.Client

	// Timeout is used only when Client is nil. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// Encoding compresses request bodies. Empty means identity.
	Encoding compress.Encoding

	// UserAgent is sent as the User-Agent header when set.
	UserAgent string

	// Encoder builds the per-event query strings. Nil uses a zero
	// Encoder.
	Encoder *Encoder

	// Logger receives per-request debug lines. Nil discards them.
	Logger *slog.Logger
}

// HTTP posts events to a Matomo-compatible collector.
type HTTP struct {
	endpoint  string
	client    *http.Client
	encoding  compress.Encoding
	userAgent string
	encoder   *Encoder
	logger    *slog.Logger
}

var _ Dispatcher = (*HTTP)(nil)

// NewHTTP validates cfg and returns the dispatcher. A missing,
// relative, or non-http(s) endpoint is a configuration error.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if err := ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, err
	}
	if _, err := compress.ParseEncoding(string(cfg.Encoding)); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = compress.Identity
	}
	encoder := cfg.Encoder
	if encoder == nil {
		encoder = &Encoder{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &HTTP{
		endpoint:  cfg.Endpoint,
		client:    client,
		encoding:  encoding,
		userAgent: cfg.UserAgent,
		encoder:   encoder,
		logger:    logger,
	}, nil
}

// ValidateEndpoint reports an error unless endpoint is an absolute
// http or https URL with a host.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("dispatch: collector endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("dispatch: collector endpoint %q: %w", endpoint, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("dispatch: collector endpoint %q must use http or https", endpoint)
	}
	if parsed.Host == "" {
		return fmt.Errorf("dispatch: collector endpoint %q has no host", endpoint)
	}
	return nil
}

// Send posts batch as one bulk request. An empty batch is a no-op.
func (h *HTTP) Send(ctx context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	request := BulkRequest{Requests: make([]string, len(batch))}
	for i, e := range batch {
		request.Requests[i] = h.encoder.Encode(e)
	}
	return h.post(ctx, request)
}

// SendEvent posts a bulk request holding only e.
func (h *HTTP) SendEvent(ctx context.Context, e event.Event) error {
	return h.post(ctx, BulkRequest{Requests: []string{h.encoder.Encode(e)}})
}

func (h *HTTP) post(ctx context.Context, request BulkRequest) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("dispatch: encoding bulk request: %w", err)
	}
	encoded, err := compress.EncodeBody(body, h.encoding)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("dispatch: building request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json; charset=utf-8")
	if h.encoding != compress.Identity {
		httpRequest.Header.Set("Content-Encoding", string(h.encoding))
	}
	if h.userAgent != "" {
		httpRequest.Header.Set("User-Agent", h.userAgent)
	}

	start := time.Now()
	response, err := h.client.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("dispatch: posting to collector: %w", err)
	}
	defer netutil.DrainAndClose(response.Body)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &StatusError{
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}

	h.logger.Debug("collector accepted request",
		"events", len(request.Requests),
		"bytes", len(encoded),
		"encoding", string(h.encoding),
		"status", response.StatusCode,
		"duration", time.Since(start),
	)
	return nil
}
