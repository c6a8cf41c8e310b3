package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"edge-proxy-go/internal/client"
	"edge-proxy-go/internal/config"
	"edge-proxy-go/internal/model"
	"edge-proxy-go/internal/route"
	"edge-proxy-go/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10},
		Metrics:  config.MetricsConfig{Path: "/metrics"},
		Env:      "development",
	}
}

func newTestProxyHandler(t *testing.T, cfg *config.Config, specs ...route.Spec) *ProxyHandler {
	t.Helper()
	table, err := route.Build(specs)
	if err != nil {
		t.Fatalf("route.Build: %v", err)
	}
	logger := testLogger()
	bc := client.NewBackendClient(cfg, table, logger, nil, nil)
	return NewProxyHandler(service.NewProxyService(table, bc, logger), logger)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestProxyHandler_Handle_JSONRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/users" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/v2/users")
		}
		if r.URL.RawQuery != "page=2" {
			t.Errorf("query = %q, want %q", r.URL.RawQuery, "page=2")
		}
		if r.Header.Get("X-Api-Version") != "1" {
			t.Errorf("X-Api-Version = %q, want static header value", r.Header.Get("X-Api-Version"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, testConfig(),
		route.Spec{Path: "/api", URL: upstream.URL, Headers: map[string]string{"X-Api-Version": "1"}},
		route.Spec{Path: "/api/v2", URL: "http://127.0.0.1:1"},
	)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v2/users?page=2", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	if got := rec.Header().Values("Set-Cookie"); len(got) != 2 {
		t.Errorf("Set-Cookie = %v, want both values", got)
	}
	if rec.Body.String() != `{"result":"ok"}` {
		t.Errorf("body = %q, want %q", rec.Body.String(), `{"result":"ok"}`)
	}
}

func TestProxyHandler_Handle_POST(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("received " + string(body)))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, testConfig(), route.Spec{Path: "/svc", URL: upstream.URL})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/svc/items", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if rec.Body.String() != "received hello" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "received hello")
	}
}

func TestProxyHandler_Handle_BackendErrorRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"maintenance"}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, testConfig(), route.Spec{Path: "/api", URL: upstream.URL})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/x", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want %q", rec.Header().Get("Retry-After"), "30")
	}
	if rec.Body.String() != `{"detail":"maintenance"}` {
		t.Errorf("body = %q, want backend body", rec.Body.String())
	}
}

func TestProxyHandler_Handle_NoMatch(t *testing.T) {
	h := newTestProxyHandler(t, testConfig(), route.Spec{Path: "/api", URL: "http://127.0.0.1:1"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/unknown/thing", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Handle(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	body := decodeBody(t, rec)
	if want := "The path /unknown/thing is not handled."; body["message"] != want {
		t.Errorf("message = %q, want %q", body["message"], want)
	}
}

func TestProxyHandler_Handle_UnreachableTwice(t *testing.T) {
	h := newTestProxyHandler(t, testConfig(), route.Spec{Path: "/api", URL: "http://down-host.invalid:1"})

	e := echo.New()
	for i := range 2 {
		req := httptest.NewRequest(http.MethodGet, "/api/x", http.NoBody)
		rec := httptest.NewRecorder()

		if err := h.Handle(e.NewContext(req, rec)); err != nil {
			t.Fatalf("attempt %d: Handle() error = %v", i, err)
		}

		if rec.Code != http.StatusGatewayTimeout {
			t.Errorf("attempt %d: status = %d, want %d", i, rec.Code, http.StatusGatewayTimeout)
		}
		body := decodeBody(t, rec)
		if body["error"] != "Gateway Timeout" {
			t.Errorf("attempt %d: error = %q, want %q", i, body["error"], "Gateway Timeout")
		}
		if body["message"] != "Could not connect to the target server" {
			t.Errorf("attempt %d: message = %q", i, body["message"])
		}
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantError   string
		wantMessage string
	}{
		{
			name:        "no match",
			err:         model.NoMatchError("/nope"),
			wantStatus:  http.StatusNotFound,
			wantMessage: "The path /nope?a=1 is not handled.",
		},
		{
			name:        "unreachable",
			err:         model.UnreachableError("http://b", errors.New("connection refused")),
			wantStatus:  http.StatusGatewayTimeout,
			wantError:   "Gateway Timeout",
			wantMessage: "Could not connect to the target server",
		},
		{
			name:        "no response",
			err:         model.NoResponseError("http://b", context.DeadlineExceeded),
			wantStatus:  http.StatusGatewayTimeout,
			wantError:   "Gateway Timeout",
			wantMessage: "No response received from the target server",
		},
		{
			name:        "setup",
			err:         model.SetupError("build_url", "http://b", errors.New("invalid control character in URL")),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Internal Server Error",
			wantMessage: "invalid control character in URL",
		},
		{
			name:        "unknown error",
			err:         errors.New("something broke"),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Internal Server Error",
			wantMessage: "something broke",
		},
		{
			name:        "secrets redacted from message",
			err:         model.SetupError("build_url", "", errors.New(`parse "http://b/?token=abc123": bad`)),
			wantStatus:  http.StatusInternalServerError,
			wantError:   "Internal Server Error",
			wantMessage: `parse "http://b/?token=[REDACTED]": bad`,
		},
	}

	h := NewProxyHandler(nil, testLogger())
	pr := &model.ProxyRequest{Method: http.MethodGet, Path: "/nope", RawQuery: "a=1"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/nope?a=1", http.NoBody), rec)

			if err := h.mapError(c, pr, tt.err); err != nil {
				t.Fatalf("mapError() error = %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			body := decodeBody(t, rec)
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
			if body["message"] != tt.wantMessage {
				t.Errorf("message = %q, want %q", body["message"], tt.wantMessage)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "api_key redacted",
			err:  errors.New(`Get "http://b/x?api_key=s3cret&q=1": dial tcp: refused`),
			want: `Get "http://b/x?api_key=[REDACTED]&q=1": dial tcp: refused`,
		},
		{
			name: "mixed case apiKey redacted",
			err:  errors.New(`Get "http://b/x?apiKey=s3cret": EOF`),
			want: `Get "http://b/x?apiKey=[REDACTED]": EOF`,
		},
		{
			name: "several secrets redacted",
			err:  errors.New("token=a password=b secret=c"),
			want: "token=[REDACTED] password=[REDACTED] secret=[REDACTED]",
		},
		{
			name: "nothing to redact",
			err:  errors.New("connection refused"),
			want: "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeError(tt.err); got != tt.want {
				t.Errorf("sanitizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
