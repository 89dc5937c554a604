// Package generate ties the cache, the remote service, the materializer and
// the session store together into the bridge's public operations.
package generate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/meshbridge/pkg/cache"
	"github.com/pario-ai/meshbridge/pkg/materialize"
	"github.com/pario-ai/meshbridge/pkg/metrics"
	"github.com/pario-ai/meshbridge/pkg/models"
	"github.com/pario-ai/meshbridge/pkg/prompt"
	"github.com/pario-ai/meshbridge/pkg/remote"
	"github.com/pario-ai/meshbridge/pkg/session"
	"github.com/pario-ai/meshbridge/pkg/tracker"
)

var tracer = otel.Tracer("github.com/pario-ai/meshbridge/pkg/generate")

var (
	// ErrUpstream wraps a remote failure that could not be substituted.
	ErrUpstream = errors.New("upstream generation failed")
	// ErrInvalidRequest marks caller input that cannot be served.
	ErrInvalidRequest = errors.New("invalid request")
)

// Materializer turns a raw remote result into a local file.
type Materializer interface {
	Materialize(ctx context.Context, raw materialize.RawResult) (materialize.Asset, error)
}

// Config configures a Service.
type Config struct {
	// StaticPrefix is the URL prefix the asset directory is served under.
	StaticPrefix string
	// Placeholder is substituted when the remote service is out of quota.
	// It is optional and checked on every use.
	Placeholder string
	// BatchConcurrency bounds parallel seeds in a batch. Values below 1 mean 1.
	BatchConcurrency int
}

// Service implements the generation and session operations.
type Service struct {
	cfg      Config
	remote   remote.Generator
	mat      Materializer
	cache    cache.Cache
	sessions session.Store
	ledger   tracker.Tracker
	metrics  *metrics.Collector
	logger   *zap.Logger
	flight   singleflight.Group
}

// Option customizes a Service.
type Option func(*Service)

// WithLedger records every resolved generation in t.
func WithLedger(t tracker.Tracker) Option { return func(s *Service) { s.ledger = t } }

// WithMetrics reports to c.
func WithMetrics(c *metrics.Collector) Option { return func(s *Service) { s.metrics = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// New creates a Service.
func New(cfg Config, gen remote.Generator, mat Materializer, c cache.Cache, store session.Store, opts ...Option) *Service {
	cfg.StaticPrefix = "/" + strings.Trim(cfg.StaticPrefix, "/")
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}
	s := &Service{
		cfg:      cfg,
		remote:   gen,
		mat:      mat,
		cache:    c,
		sessions: store,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(zap.String("component", "generate"))
	return s
}

// GenerateOnce returns the asset for req, generating it on a cache miss.
func (s *Service) GenerateOnce(ctx context.Context, req models.GenerationRequest) (models.GenResponse, error) {
	if err := validate(req); err != nil {
		return models.GenResponse{}, err
	}
	url, err := s.resolve(ctx, req, "")
	if err != nil {
		return models.GenResponse{}, err
	}
	return models.GenResponse{ID: stem(url), URL: url}, nil
}

// GenerateBatch resolves one asset per seed. Items keep the order of
// req.Seeds; duplicate seeds share a single generation.
func (s *Service) GenerateBatch(ctx context.Context, req models.BatchRequest) (models.BatchResponse, error) {
	seeds := req.Seeds
	if seeds == nil {
		seeds = models.DefaultBatchSeeds
	}
	base := models.GenerationRequest{Prompt: req.Prompt, GuidanceScale: req.GuidanceScale, Steps: req.Steps}
	if err := validate(base); err != nil {
		return models.BatchResponse{}, err
	}

	items := make([]models.BatchItem, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, seed := range seeds {
		g.Go(func() error {
			r := base
			r.Seed = seed
			url, err := s.resolve(gctx, r, "")
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			items[i] = models.BatchItem{Seed: seed, URL: url}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.BatchResponse{}, err
	}
	return models.BatchResponse{Items: items}, nil
}

// CreateSession starts an empty design session.
func (s *Service) CreateSession(ctx context.Context, req models.SessionCreate) (*models.Session, error) {
	if err := validateParams(req.Defaults()); err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(ctx, req.Title, req.Defaults())
	if err != nil {
		return nil, err
	}
	s.logger.Info("session created", zap.String("session_id", sess.ID), zap.String("title", sess.Title))
	return sess, nil
}

// GetSession loads a session.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.sessions.Get(ctx, id)
}

// ListSessions summarizes all sessions, newest first.
func (s *Service) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	return s.sessions.List(ctx)
}

// AppendToSession folds req.Edit into the session's history, resolves the
// resulting asset and appends it as a new item. The session stays locked
// for the whole step so the composite prompt always sees the latest items.
func (s *Service) AppendToSession(ctx context.Context, req models.AppendRequest) (models.GenResponse, error) {
	if strings.TrimSpace(req.Edit) == "" {
		return models.GenResponse{}, fmt.Errorf("%w: edit is required", ErrInvalidRequest)
	}

	var item models.SessionItem
	_, err := s.sessions.Update(ctx, req.SessionID, func(sess *models.Session) error {
		params := req.Resolve(sess.Defaults)
		if err := validateParams(params); err != nil {
			return err
		}
		composite := prompt.Compose(sess.Items, req.Edit)

		url, err := s.resolve(ctx, params.Request(composite), sess.ID)
		if err != nil {
			return err
		}
		item = models.SessionItem{
			ID:        session.NewID(),
			Prompt:    composite,
			Params:    params,
			URL:       url,
			CreatedAt: session.Now(),
		}
		sess.Items = append(sess.Items, item)
		return nil
	})
	if err != nil {
		return models.GenResponse{}, err
	}
	return models.GenResponse{ID: item.ID, URL: item.URL}, nil
}

// CacheStats reports the cache backend's counters.
func (s *Service) CacheStats(ctx context.Context) (models.CacheStats, error) {
	return s.cache.Stats(ctx)
}

type resolved struct {
	url    string
	source models.Source
}

// resolve returns the asset URL for req from the cache, or generates,
// materializes and caches it. Concurrent misses on one key share a flight.
func (s *Service) resolve(ctx context.Context, req models.GenerationRequest, sessionID string) (string, error) {
	key := cache.Key(req)
	ctx, span := tracer.Start(ctx, "generate.resolve")
	defer span.End()
	span.SetAttributes(attribute.String("cache_key", key), attribute.Int64("seed", req.Seed))
	start := time.Now()

	ref, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("cache lookup: %w", err)
	}
	s.metrics.CacheLookup(ok)

	res := resolved{url: ref, source: models.SourceCache}
	if !ok {
		v, err, shared := s.flight.Do(key, func() (any, error) {
			if ref, ok, err := s.cache.Get(ctx, key); err == nil && ok {
				return resolved{url: ref, source: models.SourceCache}, nil
			}
			return s.produce(ctx, key, req)
		})
		if err != nil {
			s.metrics.Generation(string(models.SourceRemote), err, time.Since(start))
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
			return "", err
		}
		res = v.(resolved)
		if shared {
			s.logger.Debug("generation shared", zap.String("cache_key", key))
		}
	}

	elapsed := time.Since(start)
	s.metrics.Generation(string(res.source), nil, elapsed)
	span.SetAttributes(attribute.String("source", string(res.source)))
	s.record(ctx, models.GenerationRecord{
		CacheKey:      key,
		Prompt:        req.Prompt,
		Seed:          req.Seed,
		GuidanceScale: req.GuidanceScale,
		Steps:         req.Steps,
		Source:        res.source,
		URL:           res.url,
		SessionID:     sessionID,
		DurationMs:    elapsed.Milliseconds(),
	})
	return res.url, nil
}

// produce performs the remote call and materialization for a cache miss.
func (s *Service) produce(ctx context.Context, key string, req models.GenerationRequest) (resolved, error) {
	source := models.SourceRemote
	raw, err := s.remote.Generate(ctx, req)
	if err != nil {
		placeholder, ok := s.placeholder()
		if !errors.Is(err, remote.ErrQuotaExceeded) || !ok {
			return resolved{}, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		s.logger.Warn("remote quota exceeded, using placeholder",
			zap.String("placeholder", placeholder), zap.Error(err))
		raw = materialize.Sequence(materialize.String(placeholder))
		source = models.SourcePlaceholder
	}

	asset, err := s.mat.Materialize(ctx, raw)
	if err != nil {
		return resolved{}, err
	}
	s.metrics.Materialized(string(asset.Transport))
	url := s.assetURL(asset.Path)

	// A placeholder stands in for one call only and is never cached.
	if source == models.SourcePlaceholder {
		return resolved{url: url, source: source}, nil
	}

	err = s.cache.Put(ctx, key, url)
	switch {
	case err == nil:
	case errors.Is(err, cache.ErrConflict):
		existing, ok, gerr := s.cache.Get(ctx, key)
		if gerr != nil || !ok {
			return resolved{}, fmt.Errorf("cache put: %w", err)
		}
		s.logger.Warn("cache key already mapped, keeping existing asset",
			zap.String("cache_key", key), zap.String("existing", existing), zap.String("discarded", url))
		os.Remove(asset.Path)
		url = existing
	default:
		return resolved{}, fmt.Errorf("cache put: %w", err)
	}

	s.logger.Info("asset generated",
		zap.String("cache_key", key),
		zap.String("url", url),
		zap.String("transport", string(asset.Transport)),
	)
	return resolved{url: url, source: source}, nil
}

func (s *Service) placeholder() (string, bool) {
	if s.cfg.Placeholder == "" {
		return "", false
	}
	info, err := os.Stat(s.cfg.Placeholder)
	if err != nil || info.IsDir() {
		return "", false
	}
	return s.cfg.Placeholder, true
}

func (s *Service) record(ctx context.Context, rec models.GenerationRecord) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(ctx, rec); err != nil {
		s.logger.Warn("ledger record failed", zap.Error(err))
	}
}

// assetURL maps a file in the models directory to its served URL.
func (s *Service) assetURL(p string) string {
	return path.Join(s.cfg.StaticPrefix, "models", filepath.Base(p))
}

func stem(url string) string {
	base := path.Base(url)
	return strings.TrimSuffix(base, path.Ext(base))
}

func validate(req models.GenerationRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	return validateParams(models.Params{Seed: req.Seed, GuidanceScale: req.GuidanceScale, Steps: req.Steps})
}

func validateParams(p models.Params) error {
	if math.IsNaN(p.GuidanceScale) || math.IsInf(p.GuidanceScale, 0) {
		return fmt.Errorf("%w: guidance_scale must be finite", ErrInvalidRequest)
	}
	if p.Steps < 1 {
		return fmt.Errorf("%w: num_inference_steps must be positive", ErrInvalidRequest)
	}
	return nil
}
