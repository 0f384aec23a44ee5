package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func ok(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequestID_GeneratesNew(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/runs/latest")

	handler := func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return ok(c)
	}

	if err := RequestID()(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/stays")
	c.Request().Header.Set(RequestIDHeader, "my-custom-id")

	handler := func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return ok(c)
	}
	RequestID()(handler)(c)

	if got := rec.Header().Get(RequestIDHeader); got != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", got)
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/")
	c.Request().Header.Set(RequestIDHeader, strings.Repeat("x", 200))
	RequestID()(ok)(c)

	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("expected a generated uuid, got %q", got)
	}
}

func TestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		level   string
		status  float64
	}{
		{"ok", ok, "info", 200},
		{"not found", func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "no run") }, "warn", 404},
		{"failure", func(echo.Context) error { return errors.New("boom") }, "error", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			c, _ := newContext(http.MethodGet, "/api/v1/census?unit=ICU")
			c.Set("request_id", "req-1")

			Logger(zerolog.New(&buf))(tt.handler)(c)

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("expected one json log line, got %q", buf.String())
			}
			if line["level"] != tt.level || line["request_id"] != "req-1" || line["query"] != "unit=ICU" {
				t.Errorf("unexpected log line %v", line)
			}
			if line["status"] != tt.status {
				t.Errorf("expected status %v, got %v", tt.status, line["status"])
			}
		})
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/panic")

	err := Recovery(zerolog.Nop())(func(echo.Context) error { panic("test panic") })(c)

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/ok")
	if err := Recovery(zerolog.Nop())(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/stays")
	if err := SecurityHeaders()(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("header %s: got %q, want %q", header, got, want)
		}
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func slow(c echo.Context) error {
	select {
	case <-time.After(2 * time.Second):
		return ok(c)
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}
}

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	c, rec := newContext(http.MethodGet, "/api/v1/stays")
	if err := RequestTimeout(time.Second)(ok)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequestTimeout_ReturnsGatewayTimeout(t *testing.T) {
	c, _ := newContext(http.MethodGet, "/api/v1/stays")
	err := RequestTimeout(20 * time.Millisecond)(slow)(c)

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_SkipsListedRoutes(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/api/v1/runs")
	handler := func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline on a skipped route")
		}
		return nil
	}
	if err := RequestTimeout(time.Millisecond, "POST /api/v1/runs")(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
