package gemini_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/komi0929/veganmap/internal/adapters/gemini"
	"github.com/komi0929/veganmap/internal/domain"
)

func TestClient_Generate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" || r.Header.Get("x-goog-api-key") != "k" {
			t.Errorf("request: %s key=%q", r.URL.Path, r.Header.Get("x-goog-api-key"))
		}
		var body struct {
			Contents []struct {
				Parts []struct {
					Text       string `json:"text"`
					InlineData *struct {
						MIMEType string `json:"mime_type"`
						Data     string `json:"data"`
					} `json:"inline_data"`
				} `json:"parts"`
			} `json:"contents"`
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &body); err != nil {
			t.Errorf("decode: %v", err)
		}
		parts := body.Contents[0].Parts
		if len(parts) != 2 || parts[0].Text != "list dishes" || parts[1].InlineData.Data != "aGk=" {
			t.Errorf("parts: %s", b)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"[\"Cur"},{"text":"ry\"]"}]}}]}`))
	}))
	defer ts.Close()

	cl, err := gemini.New(ts.URL, "k", "gemini-test", 100)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got, err := cl.Generate(context.Background(), "list dishes", []domain.Image{{MIME: "image/jpeg", Data: []byte("hi")}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != `["Curry"]` {
		t.Fatalf("got %q", got)
	}
}

func TestClient_Generate_Empty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer ts.Close()

	cl, _ := gemini.New(ts.URL, "k", "m", 100)
	if _, err := cl.Generate(context.Background(), "p", nil); !errors.Is(err, gemini.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer ts.Close()

	cl, _ := gemini.New(ts.URL, "k", "m", 100)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := cl.Generate(ctx, "p", nil)
		if err == nil || !strings.Contains(err.Error(), "503") {
			t.Fatalf("call %d: expected 503 error, got %v", i, err)
		}
	}
	_, err := cl.Generate(ctx, "p", nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 5 {
		t.Fatalf("open breaker must not reach the server; hits=%d", n)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := gemini.New("http://x", "", "m", 1); err == nil {
		t.Fatalf("expected error without key")
	}
}
