// Package service implements the relay: one upstream fetch per request,
// with the payload parsed and re-serialized before it reaches the client.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"todo-relay/internal/client"
	"todo-relay/internal/model"
)

// UpstreamURL is the fixed resource every request is relayed from.
const UpstreamURL = "https://jsonplaceholder.typicode.com/todos/1"

// ErrInvalidPayload is returned when the upstream body is not valid JSON.
var ErrInvalidPayload = errors.New("upstream payload is not valid JSON")

// UpstreamStatusError reports a non-2xx upstream response.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// payloadJSON decodes numbers as json.Number so integers and decimals
// survive the round trip unchanged. HTML characters are left unescaped and
// map keys are emitted in sorted order.
var payloadJSON = sonic.Config{
	UseNumber:   true,
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

// Fetcher retrieves a single upstream resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.UpstreamResponse, error)
}

// RelayService fetches the upstream resource and prepares the relay body.
type RelayService struct {
	fetcher Fetcher
	logger  *slog.Logger
	url     string
}

// NewRelayService creates a RelayService bound to UpstreamURL.
func NewRelayService(c *client.UpstreamClient, logger *slog.Logger) *RelayService {
	return newRelayService(c, UpstreamURL, logger)
}

// NewRelayServiceForTest creates a RelayService bound to an arbitrary URL.
// This is intended only for tests that use httptest servers on localhost.
func NewRelayServiceForTest(f Fetcher, url string, logger *slog.Logger) *RelayService {
	return newRelayService(f, url, logger)
}

func newRelayService(f Fetcher, url string, logger *slog.Logger) *RelayService {
	return &RelayService{
		fetcher: f,
		logger:  logger.With("component", "relay_service"),
		url:     url,
	}
}

// URL returns the upstream URL this service relays from.
func (s *RelayService) URL() string {
	return s.url
}

// Relay performs exactly one upstream fetch and returns the payload
// re-serialized as JSON. Nothing is cached between calls.
func (s *RelayService) Relay(ctx context.Context) ([]byte, error) {
	resp, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch upstream: %w", err)
	}

	if !resp.OK() {
		return nil, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	out, err := Reencode(resp.Body)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("relayed upstream payload",
		"upstream_content_type", resp.Header.Get("Content-Type"),
		"upstream_bytes", len(resp.Body),
		"relay_bytes", len(out),
	)
	return out, nil
}

// utf8BOM is stripped from upstream bodies before parsing.
var utf8BOM = []byte("\xef\xbb\xbf")

// Reencode parses body as a single JSON value and serializes it again.
// A leading byte order mark is dropped and invalid UTF-8 sequences are
// replaced with U+FFFD before parsing.
func Reencode(body []byte) ([]byte, error) {
	body = bytes.TrimPrefix(body, utf8BOM)
	if !utf8.Valid(body) {
		body = bytes.ToValidUTF8(body, []byte("\uFFFD"))
	}

	var v any
	if err := payloadJSON.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	out, err := payloadJSON.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}
