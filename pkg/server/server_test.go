package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	filecache "github.com/pario-ai/meshbridge/pkg/cache/file"
	"github.com/pario-ai/meshbridge/pkg/config"
	"github.com/pario-ai/meshbridge/pkg/generate"
	"github.com/pario-ai/meshbridge/pkg/materialize"
	"github.com/pario-ai/meshbridge/pkg/metrics"
	"github.com/pario-ai/meshbridge/pkg/models"
	"github.com/pario-ai/meshbridge/pkg/session"
)

type stubRemote struct {
	dir   string
	calls atomic.Int32
	err   error
}

func (s *stubRemote) Generate(_ context.Context, req models.GenerationRequest) (materialize.RawResult, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return materialize.RawResult{}, s.err
	}
	p := filepath.Join(s.dir, fmt.Sprintf("mesh-%d.glb", n))
	if err := os.WriteFile(p, []byte(req.Prompt), 0o644); err != nil {
		return materialize.RawResult{}, err
	}
	return materialize.Sequence(materialize.String(p)), nil
}

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

func setupServer(t *testing.T, mutate func(*config.Config)) (*Server, *stubRemote) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DataDir = dir
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.EnsureDirs())

	c, err := filecache.New(cfg.CacheIndexPath())
	require.NoError(t, err)
	store, err := session.NewFileStore(cfg.SessionsDir())
	require.NoError(t, err)

	upstream := filepath.Join(dir, "upstream")
	require.NoError(t, os.MkdirAll(upstream, 0o755))
	rem := &stubRemote{dir: upstream}

	mat := materialize.New(materialize.Config{AssetDir: cfg.ModelsDir()}, nil, nil)
	svc := generate.New(generate.Config{StaticPrefix: cfg.StaticPrefix}, rem, mat, c, store)
	return New(cfg, svc, stubHealth{}, metrics.New(), nil), rem
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t, nil)

	w := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "https://hysts-shap-e.hf.space", body["space"])
	assert.Equal(t, float64(0), body["cache_keys"])
}

func TestHealth_DeepFailure(t *testing.T) {
	srv, _ := setupServer(t, nil)
	srv.health = stubHealth{err: errors.New("space sleeping")}

	w := do(t, srv, http.MethodGet, "/health?deep=1", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, false, body["ok"])
}

func TestGen3D_DefaultsAndCache(t *testing.T) {
	srv, rem := setupServer(t, nil)

	w := do(t, srv, http.MethodPost, "/gen3d", `{"prompt":"a teapot"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decodeBody[models.GenResponse](t, w)
	assert.True(t, strings.HasPrefix(first.URL, "/static/models/"))

	w = do(t, srv, http.MethodPost, "/gen3d", `{"prompt":"a teapot","seed":0,"guidance_scale":15,"num_inference_steps":64}`)
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeBody[models.GenResponse](t, w)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), rem.calls.Load())

	// The asset is served from the static prefix.
	w = do(t, srv, http.MethodGet, first.URL, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a teapot", w.Body.String())

	w = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, float64(1), decodeBody[map[string]any](t, w)["cache_keys"])
}

func TestGen3D_BadRequests(t *testing.T) {
	srv, _ := setupServer(t, nil)

	w := do(t, srv, http.MethodPost, "/gen3d", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/gen3d", `{"prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody[map[string]errorDetail](t, w)
	assert.Equal(t, "meshbridge_error", body["error"].Type)
	assert.Equal(t, http.StatusBadRequest, body["error"].Code)
}

func TestGen3D_UpstreamFailure(t *testing.T) {
	srv, rem := setupServer(t, nil)
	rem.err = errors.New("space crashed")

	w := do(t, srv, http.MethodPost, "/gen3d", `{"prompt":"a teapot"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestGen3DBatch(t *testing.T) {
	srv, rem := setupServer(t, nil)

	w := do(t, srv, http.MethodPost, "/gen3d_batch", `{"prompt":"a lamp"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[models.BatchResponse](t, w)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, int64(2), resp.Items[2].Seed)
	assert.Equal(t, int32(3), rem.calls.Load())

	w = do(t, srv, http.MethodPost, "/gen3d_batch", `{"prompt":"a lamp","seeds":[2,2]}`)
	require.Equal(t, http.StatusOK, w.Code)
	again := decodeBody[models.BatchResponse](t, w)
	assert.Equal(t, resp.Items[2].URL, again.Items[0].URL)
	assert.Equal(t, int32(3), rem.calls.Load())
}

func TestSessionFlow(t *testing.T) {
	srv, _ := setupServer(t, nil)

	w := do(t, srv, http.MethodPost, "/session/new", `{"title":"Chairs"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decodeBody[models.SessionResponse](t, w)
	assert.Equal(t, "Chairs", created.Title)
	assert.NotNil(t, created.Items)
	assert.Contains(t, w.Body.String(), `"items":[]`)

	w = do(t, srv, http.MethodPost, "/session/append", fmt.Sprintf(`{"session_id":%q,"edit":"a chair","seed":4}`, created.ID))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	appended := decodeBody[models.GenResponse](t, w)

	w = do(t, srv, http.MethodGet, "/session/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[models.SessionResponse](t, w)
	require.Len(t, got.Items, 1)
	assert.Equal(t, appended.ID, got.Items[0].ID)
	assert.Equal(t, int64(4), got.Items[0].Params.Seed)

	w = do(t, srv, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[map[string][]models.SessionSummary](t, w)
	require.Len(t, list["sessions"], 1)
	assert.Equal(t, 1, list["sessions"][0].ItemCount)
}

func TestSessionNotFound(t *testing.T) {
	srv, _ := setupServer(t, nil)

	w := do(t, srv, http.MethodGet, "/session/"+session.NewID(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodPost, "/session/append", `{"session_id":"nope","edit":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupServer(t, nil)
	do(t, srv, http.MethodGet, "/health", "")

	w := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `meshbridge_http_requests_total{method="GET",path="GET /health",status="200"} 1`)
}

func TestCORS(t *testing.T) {
	srv, _ := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/gen3d", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/gen3d", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ConfiguredOrigins(t *testing.T) {
	srv, _ := setupServer(t, func(c *config.Config) {
		c.Server.CORSOrigins = []string{"https://app.example"}
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://app.example")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	srv, _ := setupServer(t, func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/health", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(t, srv, http.MethodGet, "/health", "").Code)
}

func TestRecovery(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recovery(zap.NewNop()))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", generate.ErrInvalidRequest), http.StatusBadRequest},
		{session.ErrNotFound, http.StatusNotFound},
		{materialize.ErrNoCandidate, http.StatusBadGateway},
		{&materialize.DownloadError{StatusCode: 404}, http.StatusBadGateway},
		{fmt.Errorf("%w: quota", generate.ErrUpstream), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
