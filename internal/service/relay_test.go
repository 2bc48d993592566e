package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"todo-relay/internal/client"
	"todo-relay/internal/config"
	"todo-relay/internal/model"
)

const todoPayload = `{"userId": 1, "id": 1, "title": "delectus aut autem", "completed": false}`

// stubFetcher returns a canned response and counts calls.
type stubFetcher struct {
	resp  *model.UpstreamResponse
	err   error
	calls atomic.Int64
	urls  sync.Map
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (*model.UpstreamResponse, error) {
	f.calls.Add(1)
	f.urls.Store(url, true)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// assertJSONEqual compares two documents by decoded value.
func assertJSONEqual(t *testing.T, got, want []byte) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("unmarshal got %q: %v", got, err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("unmarshal want %q: %v", want, err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("JSON mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestNewRelayService_UsesFixedUpstream(t *testing.T) {
	s := NewRelayService(nil, discardLogger())
	if s.URL() != "https://jsonplaceholder.typicode.com/todos/1" {
		t.Errorf("URL() = %q, want the fixed todos/1 resource", s.URL())
	}
}

func TestRelay_HappyPath(t *testing.T) {
	f := &stubFetcher{resp: &model.UpstreamResponse{StatusCode: http.StatusOK, Body: []byte(todoPayload)}}
	s := NewRelayServiceForTest(f, "http://upstream.test/todos/1", discardLogger())

	out, err := s.Relay(context.Background())
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	assertJSONEqual(t, out, []byte(todoPayload))

	if got := f.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if _, ok := f.urls.Load("http://upstream.test/todos/1"); !ok {
		t.Error("expected fetch of the configured URL")
	}
}

func TestRelay_NoCaching(t *testing.T) {
	f := &stubFetcher{resp: &model.UpstreamResponse{StatusCode: http.StatusOK, Body: []byte(`{}`)}}
	s := NewRelayServiceForTest(f, "http://upstream.test/", discardLogger())

	for range 5 {
		if _, err := s.Relay(context.Background()); err != nil {
			t.Fatalf("Relay() error = %v", err)
		}
	}
	if got := f.calls.Load(); got != 5 {
		t.Errorf("fetch calls = %d, want 5", got)
	}
}

func TestRelay_Errors(t *testing.T) {
	transportErr := errors.New("dial tcp: connection refused")

	tests := []struct {
		name       string
		fetcher    *stubFetcher
		wantIs     error
		wantStatus int
	}{
		{
			name:    "transport error",
			fetcher: &stubFetcher{err: transportErr},
			wantIs:  transportErr,
		},
		{
			name:       "non-2xx status",
			fetcher:    &stubFetcher{resp: &model.UpstreamResponse{StatusCode: http.StatusNotFound, Body: []byte(`{}`)}},
			wantStatus: http.StatusNotFound,
		},
		{
			name:    "malformed JSON",
			fetcher: &stubFetcher{resp: &model.UpstreamResponse{StatusCode: http.StatusOK, Body: []byte(`{"id":`)}},
			wantIs:  ErrInvalidPayload,
		},
		{
			name:    "empty body",
			fetcher: &stubFetcher{resp: &model.UpstreamResponse{StatusCode: http.StatusOK, Body: nil}},
			wantIs:  ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRelayServiceForTest(tt.fetcher, "http://upstream.test/", discardLogger())

			_, err := s.Relay(context.Background())
			if err == nil {
				t.Fatal("Relay() expected error, got nil")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("Relay() error = %v, want errors.Is %v", err, tt.wantIs)
			}
			if tt.wantStatus != 0 {
				var se *UpstreamStatusError
				if !errors.As(err, &se) {
					t.Fatalf("Relay() error = %v, want *UpstreamStatusError", err)
				}
				if se.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", se.StatusCode, tt.wantStatus)
				}
			}
			if got := tt.fetcher.calls.Load(); got != 1 {
				t.Errorf("fetch calls = %d, want exactly 1 (no retry)", got)
			}
		})
	}
}

func TestReencode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"object", todoPayload, `{"completed":false,"id":1,"title":"delectus aut autem","userId":1}`},
		{"array", `[1, 2, 3]`, `[1,2,3]`},
		{"string", `"hello"`, `"hello"`},
		{"null", `null`, `null`},
		{"large integer keeps precision", `{"n": 12345678901234567890}`, `{"n":12345678901234567890}`},
		{"decimal keeps form", `{"n": 1.50}`, `{"n":1.50}`},
		{"html not escaped", `{"s": "<a&b>"}`, `{"s":"<a&b>"}`},
		{"nested", `{"b": {"y": [true, null], "x": 0}, "a": ""}`, `{"a":"","b":{"x":0,"y":[true,null]}}`},
		{"leading BOM stripped", "\ufeff{\"a\": 1}", `{"a":1}`},
		{"invalid UTF-8 replaced", "\"a\xffb\"", "\"a\uFFFDb\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Reencode([]byte(tt.in))
			if err != nil {
				t.Fatalf("Reencode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Reencode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRelay_LogsUpstreamContentType(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := &stubFetcher{resp: &model.UpstreamResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json; charset=utf-8"}},
		Body:       []byte(todoPayload),
	}}
	s := NewRelayServiceForTest(f, "http://upstream.test/todos/1", logger)

	if _, err := s.Relay(context.Background()); err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "application/json; charset=utf-8") {
		t.Errorf("log missing upstream content type:\n%s", out)
	}
}

func TestReencode_Invalid(t *testing.T) {
	for _, in := range []string{"", "{", "not json", `{"a":}`} {
		if _, err := Reencode([]byte(in)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("Reencode(%q) error = %v, want ErrInvalidPayload", in, err)
		}
	}
}

func TestRelay_ConcurrentRequestsAreIndependent(t *testing.T) {
	var hits atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(todoPayload))
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10, MaxBodyBytes: 1 << 20},
	}
	uc := client.NewUpstreamClient(cfg, discardLogger(), nil, noop.NewTracerProvider())
	s := NewRelayServiceForTest(uc, upstream.URL+"/todos/1", discardLogger())

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.Relay(context.Background())
			if err != nil {
				errs <- err
				return
			}
			var v map[string]any
			if err := json.Unmarshal(out, &v); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Relay() error = %v", err)
	}
	if got := hits.Load(); got != n {
		t.Errorf("upstream hits = %d, want %d", got, n)
	}
}
