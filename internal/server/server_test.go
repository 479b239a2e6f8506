package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/rotation-gateway/internal/cooldown"
	"github.com/antigravity-gateway/rotation-gateway/internal/engine"
	"github.com/antigravity-gateway/rotation-gateway/internal/gate"
	"github.com/antigravity-gateway/rotation-gateway/internal/geminiapi"
	"github.com/antigravity-gateway/rotation-gateway/internal/identity"
	"github.com/antigravity-gateway/rotation-gateway/internal/ratelimit"
	"github.com/antigravity-gateway/rotation-gateway/internal/store"
	"github.com/antigravity-gateway/rotation-gateway/internal/upstream"
)

type fakeRefresher struct{}

func (fakeRefresher) Refresh(ctx context.Context, refreshToken string) (identity.RefreshResult, error) {
	return identity.RefreshResult{}, nil
}

func newTestServer(t *testing.T, upstreamURL string) (*Server, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	st.Seed(store.Account{
		Email: "a@example.com", ProjectID: "proj", Active: true,
		ExpiresAt: time.Now().Add(time.Hour), LastUsedAt: time.Unix(0, 0),
	})
	st.SeedAPIKey("test-key")

	eng := engine.New(
		identity.NewManager(st, fakeRefresher{}),
		cooldown.New(),
		ratelimit.New(),
		gate.New(),
		upstream.New(5*time.Second, 5*time.Second),
		st,
		engine.Endpoints{Generate: upstreamURL, StreamGenerate: upstreamURL},
	)

	return New(eng, st, false), st
}

func TestGenerateContentHandler(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(geminiapi.GenerateContentResponse{
			Candidates: []geminiapi.Candidate{{Content: geminiapi.Content{Parts: []geminiapi.Part{{Text: "hi there"}}}}},
		})
	}))
	defer ts.Close()

	srv, _ := newTestServer(t, ts.URL)

	body, _ := json.Marshal(geminiapi.GenerateContentRequest{
		Contents: []geminiapi.Content{{Role: "user", Parts: []geminiapi.Part{{Text: "hello"}}}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-flash:generateContent?key=test-key", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d body %s", rec.Code, rec.Body.String())
	}
	var resp geminiapi.GenerateContentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.FirstText() != "hi there" {
		t.Fatalf("got %q", resp.FirstText())
	}
}

func TestGenerateContentRejectsMissingAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused.invalid")

	body, _ := json.Marshal(geminiapi.GenerateContentRequest{
		Contents: []geminiapi.Content{{Role: "user", Parts: []geminiapi.Part{{Text: "hello"}}}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-flash:generateContent", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestGenerateContentRejectsMissingContents(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-2.5-flash:generateContent?key=test-key", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestHealthEndpointReportsIdentities(t *testing.T) {
	srv, _ := newTestServer(t, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d body %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("got status field %v", body["status"])
	}
}

func TestInboundThrottleRejectsBurstTraffic(t *testing.T) {
	g := gin.New()
	g.Use(InboundThrottleMiddleware(1, 1))
	g.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	g.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request got status %d", first.Code)
	}

	second := httptest.NewRecorder()
	g.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request got status %d, want 429", second.Code)
	}
}
