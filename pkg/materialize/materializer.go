// Package materialize turns whatever the remote service returned into a single
// local asset file.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/pario-ai/meshbridge/pkg/materialize")

// ErrNoCandidate means the raw result contained no string at all.
var ErrNoCandidate = errors.New("no file-like string in response")

// DownloadError reports a failure to fetch or copy the selected candidate.
type DownloadError struct {
	Candidate  string
	Transport  Transport
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("file download failed: %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("could not materialize asset via %s: %v", e.Transport, e.Err)
	default:
		return fmt.Sprintf("could not materialize asset via %s", e.Transport)
	}
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Transport is how a candidate was fetched.
type Transport string

const (
	TransportURL      Transport = "url"
	TransportRelative Transport = "relative"
	TransportLocal    Transport = "local"
	TransportToken    Transport = "token"
)

// RelativePrefix marks service-relative asset paths.
const RelativePrefix = "/file"

// Resolver downloads an opaque asset token and returns a local path.
type Resolver interface {
	Download(ctx context.Context, token string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, token string) (string, error)

// Download calls f.
func (f ResolverFunc) Download(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// Asset is a materialized file.
type Asset struct {
	Path      string
	Candidate string
	Transport Transport
}

// Config configures a Materializer.
type Config struct {
	// AssetDir receives one new file per Materialize call.
	AssetDir string
	// ServiceBaseURL resolves service-relative paths.
	ServiceBaseURL string
	// DownloadTimeout bounds a whole download. Zero means 600s.
	DownloadTimeout time.Duration
}

// Materializer normalizes remote results into files under AssetDir.
type Materializer struct {
	cfg      Config
	client   *http.Client
	resolver Resolver
	logger   *zap.Logger
}

// New creates a Materializer. resolver handles opaque tokens.
func New(cfg Config, resolver Resolver, logger *zap.Logger) *Materializer {
	timeout := cfg.DownloadTimeout
	if timeout == 0 {
		timeout = 600 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
		resolver: resolver,
		logger:   logger.With(zap.String("component", "materialize")),
	}
}

// Materialize selects a candidate from raw and writes it to a new file.
func (m *Materializer) Materialize(ctx context.Context, raw RawResult) (Asset, error) {
	ctx, span := tracer.Start(ctx, "materialize")
	defer span.End()

	cand, ok := SelectCandidate(Flatten(raw))
	if !ok {
		span.SetStatus(codes.Error, "no candidate")
		return Asset{}, fmt.Errorf("%w: %s", ErrNoCandidate, raw.Summary(200))
	}

	out := filepath.Join(m.cfg.AssetDir, NewAssetName(ExtensionFor(cand)))
	transport := m.classify(cand)
	span.SetAttributes(
		attribute.String("candidate", cand),
		attribute.String("transport", string(transport)),
	)

	var err error
	switch transport {
	case TransportURL:
		err = m.download(ctx, cand, out)
	case TransportRelative:
		err = m.download(ctx, strings.TrimRight(m.cfg.ServiceBaseURL, "/")+cand, out)
	case TransportLocal:
		err = copyFile(cand, out)
	default:
		err = m.fromToken(ctx, cand, out)
	}
	if err != nil {
		os.Remove(out)
		var dlErr *DownloadError
		if !errors.As(err, &dlErr) {
			dlErr = &DownloadError{Err: err}
		}
		dlErr.Candidate = cand
		dlErr.Transport = transport
		span.RecordError(dlErr)
		span.SetStatus(codes.Error, "download failed")
		return Asset{}, dlErr
	}

	m.logger.Debug("asset materialized",
		zap.String("path", out),
		zap.String("transport", string(transport)),
	)
	return Asset{Path: out, Candidate: cand, Transport: transport}, nil
}

// NewAssetName returns a collision-free file name with the given extension.
func NewAssetName(ext string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + ext
}

func (m *Materializer) classify(cand string) Transport {
	switch {
	case strings.HasPrefix(cand, "http://"), strings.HasPrefix(cand, "https://"):
		return TransportURL
	case strings.HasPrefix(cand, RelativePrefix):
		return TransportRelative
	}
	if info, err := os.Stat(cand); err == nil && !info.IsDir() {
		return TransportLocal
	}
	return TransportToken
}

func (m *Materializer) download(ctx context.Context, url, out string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &DownloadError{Err: err}
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return &DownloadError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &DownloadError{StatusCode: resp.StatusCode}
	}
	return writeNew(out, resp.Body)
}

func (m *Materializer) fromToken(ctx context.Context, token, out string) error {
	if m.resolver == nil {
		return errors.New("no resolver for asset token")
	}
	local, err := m.resolver.Download(ctx, token)
	if err != nil {
		return err
	}
	return copyFile(local, out)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return writeNew(dst, in)
}

// writeNew streams r into dst, which must not exist yet.
func writeNew(dst string, r io.Reader) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
