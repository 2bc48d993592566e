// Package client provides the HTTP client used to fetch the upstream resource.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"todo-relay/internal/config"
	"todo-relay/internal/metrics"
	"todo-relay/internal/model"
	"todo-relay/internal/tracing"
)

const userAgent = "todo-relay/1.0"

// ErrBodyTooLarge is returned when the upstream body exceeds upstream.max_body_bytes.
var ErrBodyTooLarge = errors.New("upstream body exceeds size limit")

// UpstreamClient performs GET requests against the upstream service.
type UpstreamClient struct {
	httpClient   *http.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	propagator   propagation.TextMapPropagator
	maxBodyBytes int64
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tp trace.TracerProvider) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:       logger.With("component", "upstream_client"),
		metrics:      m,
		tracer:       tp.Tracer(tracing.InstrumentationName),
		propagator:   otel.GetTextMapPropagator(),
		maxBodyBytes: cfg.Upstream.MaxBodyBytes,
	}
}

// Fetch issues a single GET to url and reads the whole response body.
// The context bounds the call: when the inbound client disconnects the
// upstream request is canceled too. No retry is attempted.
func (c *UpstreamClient) Fetch(ctx context.Context, url string) (*model.UpstreamResponse, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodGet),
			attribute.String("url.full", url),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	c.logger.Debug("upstream request", "url", url)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(start, metrics.OutcomeError, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream request failed")
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := c.readBody(resp.Body)
	if err != nil {
		c.observe(start, metrics.OutcomeError, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read upstream body")
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	c.observe(start, metrics.OutcomeSuccess, resp.StatusCode)
	span.SetAttributes(
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Int("http.response.body.size", len(body)),
	)
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	c.logger.Debug("upstream response",
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// readBody reads r fully, failing once more than maxBodyBytes arrive.
// A zero limit disables the check.
func (c *UpstreamClient) readBody(r io.Reader) ([]byte, error) {
	if c.maxBodyBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, c.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

func (c *UpstreamClient) observe(start time.Time, outcome string, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if status != 0 {
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}
