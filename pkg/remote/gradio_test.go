package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/meshbridge/pkg/materialize"
	"github.com/pario-ai/meshbridge/pkg/models"
)

// fakeSpace mimics the Gradio queue API for a single endpoint.
func fakeSpace(t *testing.T, stream string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gradio_api/call/text-to-3d", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf_secret", r.Header.Get("Authorization"))
		var body struct {
			Data []any `json:"data"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"a chair", float64(3), float64(15), float64(64)}, body.Data)
		fmt.Fprint(w, `{"event_id":"evt42"}`)
	})
	mux.HandleFunc("GET /gradio_api/call/text-to-3d/evt42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, stream)
	})
	mux.HandleFunc("GET /gradio_api/file=/tmp/gradio/mesh.glb", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "glb-bytes")
	})
	mux.HandleFunc("GET /config", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *GradioClient {
	return NewGradioClient(Config{
		BaseURL:     baseURL + "/",
		APIPrefix:   "/gradio_api",
		APIName:     "/text-to-3d",
		HFToken:     "hf_secret",
		DownloadDir: t.TempDir(),
	}, nil)
}

var chairReq = models.GenerationRequest{Prompt: "a chair", Seed: 3, GuidanceScale: 15, Steps: 64}

func TestGenerate_Complete(t *testing.T) {
	srv := fakeSpace(t, "event: generating\ndata: null\n\n"+
		"event: heartbeat\ndata: null\n\n"+
		"event: complete\ndata: [{\"path\": \"/tmp/gradio/mesh.glb\", \"url\": null}]\n\n")
	c := newTestClient(t, srv.URL)

	raw, err := c.Generate(context.Background(), chairReq)
	require.NoError(t, err)

	cand, ok := materialize.SelectCandidate(materialize.Flatten(raw))
	require.True(t, ok)
	assert.Equal(t, "/tmp/gradio/mesh.glb", cand)
}

func TestGenerate_QuotaError(t *testing.T) {
	srv := fakeSpace(t, "event: error\ndata: \"You have exceeded your GPU quota (60s left).\"\n\n")
	c := newTestClient(t, srv.URL)

	_, err := c.Generate(context.Background(), chairReq)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestGenerate_UpstreamError(t *testing.T) {
	srv := fakeSpace(t, "event: error\ndata: null\n\n")
	c := newTestClient(t, srv.URL)

	_, err := c.Generate(context.Background(), chairReq)
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.False(t, errors.Is(err, ErrQuotaExceeded))
}

func TestGenerate_StreamWithoutResult(t *testing.T) {
	srv := fakeSpace(t, "event: generating\ndata: null\n\n")
	c := newTestClient(t, srv.URL)

	_, err := c.Generate(context.Background(), chairReq)
	var upErr *UpstreamError
	assert.ErrorAs(t, err, &upErr)
}

func TestGenerate_RateLimitedSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"slow down"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL)

	_, err := c.Generate(context.Background(), chairReq)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "slow down")
}

func TestDownload(t *testing.T) {
	srv := fakeSpace(t, "")
	c := newTestClient(t, srv.URL)

	p, err := c.Download(context.Background(), "/tmp/gradio/mesh.glb")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, ".glb"))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "glb-bytes", string(b))
}

func TestDownload_NotFound(t *testing.T) {
	srv := fakeSpace(t, "")
	c := newTestClient(t, srv.URL)

	_, err := c.Download(context.Background(), "missing")
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusNotFound, upErr.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := fakeSpace(t, "")
	assert.NoError(t, newTestClient(t, srv.URL).Health(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.Error(t, newTestClient(t, down.URL).Health(context.Background()))
}

func TestClassifyError(t *testing.T) {
	assert.ErrorIs(t, classifyError(0, "ZeroGPU quota exceeded"), ErrQuotaExceeded)
	assert.ErrorIs(t, classifyError(http.StatusTooManyRequests, ""), ErrQuotaExceeded)
	assert.NotErrorIs(t, classifyError(500, "boom"), ErrQuotaExceeded)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "a", errorMessage([]byte(`"a"`)))
	assert.Equal(t, "b", errorMessage([]byte(`{"error":"b"}`)))
	assert.Equal(t, "c", errorMessage([]byte(`{"error":{"message":"c"}}`)))
	assert.Equal(t, "d", errorMessage([]byte(`{"detail":"d"}`)))
	assert.Equal(t, "", errorMessage([]byte(`null`)))
	assert.Equal(t, "plain", errorMessage([]byte("plain\n")))
}
