package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pario-ai/meshbridge/pkg/materialize"
	"github.com/pario-ai/meshbridge/pkg/models"
)

var tracer = otel.Tracer("github.com/pario-ai/meshbridge/pkg/remote")

// maxEventSize bounds a single SSE line.
const maxEventSize = 10 << 20

// Config configures a GradioClient.
type Config struct {
	BaseURL   string
	APIPrefix string
	// APIName is the endpoint name without its leading slash.
	APIName         string
	HFToken         string
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
	// DownloadDir receives files fetched by Download. Defaults to os.TempDir().
	DownloadDir string
}

// GradioClient calls a Gradio Space through its HTTP queue API.
type GradioClient struct {
	cfg      Config
	client   *http.Client
	download *http.Client
	logger   *zap.Logger
}

var (
	_ Generator            = (*GradioClient)(nil)
	_ materialize.Resolver = (*GradioClient)(nil)
)

// NewGradioClient creates a client for the Space at cfg.BaseURL.
func NewGradioClient(cfg Config, logger *zap.Logger) *GradioClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.APIPrefix = strings.TrimRight(cfg.APIPrefix, "/")
	cfg.APIName = strings.Trim(cfg.APIName, "/")
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradioClient{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		download: &http.Client{Timeout: cfg.DownloadTimeout},
		logger:   logger.With(zap.String("component", "remote")),
	}
}

// BaseURL is the Space root; service-relative asset paths resolve against it.
func (c *GradioClient) BaseURL() string {
	return c.cfg.BaseURL + c.cfg.APIPrefix
}

func (c *GradioClient) callURL() string {
	return c.BaseURL() + "/call/" + c.cfg.APIName
}

func (c *GradioClient) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.HFToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.HFToken)
	}
	return req, nil
}

// Generate submits req to the queue and waits for the completed event.
func (c *GradioClient) Generate(ctx context.Context, req models.GenerationRequest) (materialize.RawResult, error) {
	ctx, span := tracer.Start(ctx, "remote.generate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("api", c.cfg.APIName), attribute.Int64("seed", req.Seed))

	eventID, err := c.submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return materialize.RawResult{}, err
	}
	c.logger.Debug("generation queued", zap.String("event_id", eventID))

	raw, err := c.await(ctx, eventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return materialize.RawResult{}, err
	}
	return raw, nil
}

func (c *GradioClient) submit(ctx context.Context, req models.GenerationRequest) (string, error) {
	body, err := json.Marshal(map[string]any{
		"data": []any{req.Prompt, req.Seed, req.GuidanceScale, req.Steps},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.callURL(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit generation: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyError(resp.StatusCode, errorMessage(respBody))
	}

	var out struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil || out.EventID == "" {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Message: "missing event_id in response"}
	}
	return out.EventID, nil
}

func (c *GradioClient) await(ctx context.Context, eventID string) (materialize.RawResult, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, c.callURL()+"/"+eventID, nil)
	if err != nil {
		return materialize.RawResult{}, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return materialize.RawResult{}, fmt.Errorf("await generation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return materialize.RawResult{}, classifyError(resp.StatusCode, errorMessage(body))
	}
	return readEvents(resp.Body)
}

// readEvents consumes an SSE stream until a complete or error event.
func readEvents(r io.Reader) (materialize.RawResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var event string
	var data strings.Builder

	dispatch := func() (materialize.RawResult, bool, error) {
		defer func() {
			event = ""
			data.Reset()
		}()
		switch event {
		case "complete":
			raw, err := materialize.ParseRawResult([]byte(data.String()))
			if err != nil {
				return raw, true, &UpstreamError{Message: err.Error()}
			}
			return raw, true, nil
		case "error":
			return materialize.RawResult{}, true, classifyError(0, errorMessage([]byte(data.String())))
		}
		return materialize.RawResult{}, false, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if raw, done, err := dispatch(); done {
				return raw, err
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(v)
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(v, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return materialize.RawResult{}, fmt.Errorf("reading stream: %w", err)
	}
	if raw, done, err := dispatch(); done {
		return raw, err
	}
	return materialize.RawResult{}, &UpstreamError{Message: "stream ended without a result"}
}

// errorMessage extracts a human message from an error body, which may be a
// JSON string, an object with an "error" field, null, or plain text.
func errorMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	var obj struct {
		Error  any    `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &obj); err == nil {
		switch v := obj.Error.(type) {
		case string:
			return v
		case map[string]any:
			if m, ok := v["message"].(string); ok {
				return m
			}
		}
		if obj.Detail != "" {
			return obj.Detail
		}
	}
	if string(body) == "null" {
		return ""
	}
	return string(body)
}

// Download fetches a Space file reference into the download dir.
func (c *GradioClient) Download(ctx context.Context, token string) (string, error) {
	ctx, span := tracer.Start(ctx, "remote.download", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	httpReq, err := c.newRequest(ctx, http.MethodGet, c.BaseURL()+"/file="+token, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.download.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", token, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyError(resp.StatusCode, "file download failed")
	}

	if err := os.MkdirAll(c.cfg.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	f, err := os.CreateTemp(c.cfg.DownloadDir, "gradio-*"+path.Ext(token))
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("download %s: %w", token, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("download %s: %w", token, err)
	}
	return f.Name(), nil
}

// Health checks that the Space answers its config endpoint.
func (c *GradioClient) Health(ctx context.Context) error {
	httpReq, err := c.newRequest(ctx, http.MethodGet, c.cfg.BaseURL+"/config", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{StatusCode: resp.StatusCode, Message: "space not ready"}
	}
	return nil
}
