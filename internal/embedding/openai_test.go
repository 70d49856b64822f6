package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type embedReq struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func newProvider(t *testing.T, h http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIConfig{Model: "test-embed", Dimension: 2, BaseURL: srv.URL + "/v1/", Timeout: 5 * time.Second})
}

func TestOpenAI_PreservesOrderByIndex(t *testing.T) {
	var gotAuth string
	p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var req embedReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Reply in reverse order; the backend must re-slot by index.
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	})

	out, err := p.EmbedBatch(context.Background(), Credential{UserID: "u", APIKey: "sk-test"}, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i, v := range out {
		if v[0] != float32(i) {
			t.Fatalf("out[%d] = %v", i, v)
		}
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
}

func TestOpenAI_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindInvalidCredential},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindUnavailable},
		{http.StatusBadRequest, KindFatal},
	}
	for _, tc := range cases {
		p := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if tc.status == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "7")
			}
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
		})
		_, err := p.Embed(context.Background(), Credential{APIKey: "sk-x"}, "hello")
		k, ok := KindOf(err)
		if !ok || k != tc.want {
			t.Fatalf("status %d: got %v (%v), want %v", tc.status, k, err, tc.want)
		}
		if tc.status == http.StatusTooManyRequests {
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("not a ProviderError: %v", err)
			}
			if pe.RetryAfter != 7*time.Second {
				t.Fatalf("Retry-After = %v", pe.RetryAfter)
			}
		}
	}
}

func TestOpenAI_NetworkErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	p := NewOpenAI(OpenAIConfig{Dimension: 2, BaseURL: url + "/v1/", Timeout: time.Second})
	_, err := p.Embed(context.Background(), Credential{APIKey: "sk-x"}, "hello")
	if k, ok := KindOf(err); !ok || k != KindUnavailable {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestOpenAI_MissingKeyAndEmptyText(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{BaseURL: "http://127.0.0.1:1/v1/"})
	_, err := p.Embed(context.Background(), Credential{UserID: "u"}, "hi")
	if k, ok := KindOf(err); !ok || k != KindInvalidCredential {
		t.Fatalf("expected invalid credential for missing key, got %v", err)
	}
	if _, err := p.Embed(context.Background(), Credential{APIKey: "sk-x"}, ""); err != ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if p.Model() != DefaultOpenAIModel || p.Dimension() != 1536 {
		t.Fatalf("defaults not applied: %s %d", p.Model(), p.Dimension())
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("3"); d != 3*time.Second {
		t.Fatalf("got %v", d)
	}
	if d := parseRetryAfter(""); d != 0 {
		t.Fatalf("got %v", d)
	}
	if d := parseRetryAfter("soon"); d != 0 {
		t.Fatalf("got %v", d)
	}
}
