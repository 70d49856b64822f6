package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// lines decodes the JSON log lines written to buf.
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(ln), &m); err != nil {
			t.Fatalf("bad log line %q: %v", ln, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/rid", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rid", nil))
	if gen := w.Header().Get(requestIDHeader); gen == "" || gen != w.Body.String() {
		t.Fatalf("generated id %q, body %q", gen, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set(strings.ToLower(requestIDHeader), "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/rid", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 500))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); len(got) != 36 {
		t.Fatalf("oversized id should be replaced, got %q", got)
	}
}

func TestRedact(t *testing.T) {
	in := "key=sk-abcdefghijklmnop&user=jane@example.com&id=3f0c6a4e-1b2c-4d3e-8f9a-0123456789ab auth=Bearer eyJhbGciOi.x.y"
	got := redact(in)
	for _, leak := range []string{"sk-abcdefghijklmnop", "jane@example.com", "3f0c6a4e", "eyJhbGciOi"} {
		if strings.Contains(got, leak) {
			t.Fatalf("%q leaked in %q", leak, got)
		}
	}
	for _, tag := range []string{"[REDACTED:key]", "[REDACTED:email]", "[REDACTED:id]", "[REDACTED:token]"} {
		if !strings.Contains(got, tag) {
			t.Fatalf("missing %s in %q", tag, got)
		}
	}
	if redact("") != "" || redact("plain") != "plain" {
		t.Fatalf("redact should leave clean input alone")
	}
}

func TestAccessLog_LevelsMaskingAndUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), AccessLog(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.Use(func(c *gin.Context) { c.Set(ctxKeyUserID, "u1"); c.Next() })
	r.GET("/ok", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.Status(http.StatusOK)
	})
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	req := httptest.NewRequest(http.MethodGet, "/ok?q=jane@example.com", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("X-Note", "sk-abcdefghijkl")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	out := lines(t, buf)
	if len(out) != 4 {
		t.Fatalf("expected 4 log lines, got %d: %s", len(out), buf.String())
	}
	if out[0]["message"] != "inside" || out[0]["request_id"] == "" {
		t.Fatalf("request-scoped logger missing request_id: %v", out[0])
	}

	access := out[1]
	if access["level"] != "info" || access["user_id"] != "u1" || access["path"] != "/ok" {
		t.Fatalf("unexpected access line: %v", access)
	}
	if strings.Contains(buf.String(), "jane@example.com") || strings.Contains(buf.String(), "sk-abcdefghijkl") {
		t.Fatalf("secrets leaked: %s", buf.String())
	}
	headers := access["headers"].(map[string]any)
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("headers not masked: %v", headers)
	}
	if out[2]["level"] != "warn" || out[3]["level"] != "error" {
		t.Fatalf("levels = %v, %v", out[2]["level"], out[3]["level"])
	}
}

func TestRecovery_JSON500WithRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), AccessLog(RedactOptions{}), Recovery())
	r.GET("/panic", func(*gin.Context) { panic("kaboom") })
	r.GET("/late", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("after write")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(requestIDHeader, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["request_id"] != "rid-1" || body["code"] != "internal_error" {
		t.Fatalf("body = %v", body)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Fatalf("panic not logged")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/late", nil))
	if w.Body.String() != "partial" {
		t.Fatalf("written response must not be replaced: %q", w.Body.String())
	}
}

func TestLoggerFrom_Fallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if LoggerFrom(c) == nil {
		t.Fatalf("fallback logger must not be nil")
	}
	c.Set(loggerKey, "wrong type")
	if LoggerFrom(c) == nil {
		t.Fatalf("fallback logger must not be nil")
	}
}

func TestTruncate(t *testing.T) {
	if truncate("abc", 0) != "abc" || truncate("abc", 5) != "abc" {
		t.Fatalf("no-op cases failed")
	}
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Fatalf("got %q", got)
	}
}
