// Package feasibility is the application layer: it owns one dispatch engine
// with every extraction module registered and one scoring engine, and turns a
// protocol Document into predictions plus a cost/risk report.  Results of
// fully successful runs are optionally cached by document fingerprint.
package feasibility

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/TrialScope/internal/config"
	"github.com/turtacn/TrialScope/internal/domain/protocol"
	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	appmetrics "github.com/turtacn/TrialScope/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/TrialScope/internal/intelligence/common"
	"github.com/turtacn/TrialScope/internal/intelligence/dispatch"
	extractor "github.com/turtacn/TrialScope/internal/intelligence/protocol_extractor"
	"github.com/turtacn/TrialScope/internal/intelligence/scoring"
)

// DefaultBatchWorkers bounds AnalyzeBatch unless WithBatchWorkers is given.
const DefaultBatchWorkers = 4

const (
	cacheName     = "analysis"
	componentName = "feasibility"
)

// Cache is the subset of the Redis cache the service needs.  GetOrSet must
// run loader at most once across concurrent callers for the same key, store
// its result only when it returns no error, and decode the stored value into
// dest.
type Cache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
}

// AnalyzeRequest describes one analysis.  Parallel and Profile fall back to
// the service configuration when unset.  Exclude is added to the configured
// exclusions.
type AnalyzeRequest struct {
	Document *protocol.Document
	Exclude  []string
	Parallel *bool
	Profile  string
	NoCache  bool
}

// Analysis is the outcome of one request.
type Analysis struct {
	RunID       string                                `json:"run_id"`
	DocumentID  string                                `json:"document_id,omitempty"`
	Fingerprint string                                `json:"fingerprint"`
	Mode        string                                `json:"mode"`
	Predictions map[string]extractor.PredictionResult `json:"predictions"`
	Errors      []*dispatch.ModuleError               `json:"errors,omitempty"`
	Score       *scoring.Report                       `json:"score"`
	Markers     []protocol.Highlight                  `json:"markers,omitempty"`
	// Cached is set when this request did not run the modules itself: the
	// result was read from the cache or taken from a concurrent request for
	// the same document.  A result read from the cache is decoded from JSON,
	// so prediction values carry JSON types (numbers are float64, structured
	// values such as AgeRange are maps) and the request's Document pages get
	// no markers.  Markers still lists the spans of the original run.
	Cached     bool    `json:"cached"`
	DurationMs float64 `json:"duration_ms"`
}

// uncached carries a finished run out of Cache.GetOrSet without storing it:
// either the run failed (err) or it has module errors (analysis).
type uncached struct {
	analysis *Analysis
	err      error
}

func (u *uncached) Error() string {
	if u.err != nil {
		return u.err.Error()
	}
	return "analysis has module errors"
}

func (u *uncached) Unwrap() error { return u.err }

// Option customises a Service.
type Option func(*Service)

// WithCache enables result caching through c.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithIntelligenceMetrics records module, batch, cache and scoring activity.
func WithIntelligenceMetrics(m common.IntelligenceMetrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAppMetrics records analysis totals and error counts.
func WithAppMetrics(m *appmetrics.AppMetrics) Option {
	return func(s *Service) { s.appMetrics = m }
}

// WithModules registers mods instead of extractor.DefaultModules().
func WithModules(mods ...extractor.Module) Option {
	return func(s *Service) { s.modules = mods }
}

// WithBatchWorkers bounds how many documents AnalyzeBatch runs at once.
func WithBatchWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchWorkers = n
		}
	}
}

// Service wires dispatch and scoring together.  It is safe for concurrent
// use once constructed.
type Service struct {
	dispatcher *dispatch.Engine
	scorer     *scoring.Engine

	cache    Cache
	cacheTTL time.Duration
	parallel bool
	exclude  []string
	modules  []extractor.Module

	batchWorkers int
	logger       logging.Logger
	metrics      common.IntelligenceMetrics
	appMetrics   *appmetrics.AppMetrics
}

// NewService builds both engines from cfg.  A scoring.profiles_path is loaded
// and merged over the built-in profiles; its tertile rows, if any, replace
// the built-in table.
func NewService(cfg *config.Config, logger logging.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Service{
		cacheTTL:     cfg.Cache.TTL,
		parallel:     cfg.Dispatch.Parallel,
		exclude:      cfg.Dispatch.Exclude,
		batchWorkers: DefaultBatchWorkers,
		logger:       logger.Named(componentName),
		metrics:      common.NewNoopIntelligenceMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.modules == nil {
		s.modules = extractor.DefaultModules()
	}

	s.dispatcher = dispatch.NewEngine(logger,
		dispatch.WithMetrics(s.metrics),
		dispatch.WithMaxWorkers(cfg.Dispatch.MaxWorkers),
		dispatch.WithModuleTimeout(cfg.Dispatch.ModuleTimeout),
	)
	if err := s.dispatcher.RegisterModules(s.modules...); err != nil {
		return nil, err
	}

	scoringOpts := []scoring.EngineOption{
		scoring.WithDefaultProfile(cfg.Scoring.Profile),
		scoring.WithScoringMetrics(s.metrics),
	}
	if cfg.Scoring.ProfilesPath != "" {
		pf, err := scoring.LoadProfileFile(cfg.Scoring.ProfilesPath)
		if err != nil {
			return nil, err
		}
		scoringOpts = append(scoringOpts, scoring.WithProfiles(pf.Profiles...))
		if len(pf.Tertiles) > 0 {
			scoringOpts = append(scoringOpts, scoring.WithTertiles(pf.Tertiles))
		}
		s.logger.Info("loaded weight profiles",
			logging.String("path", cfg.Scoring.ProfilesPath),
			logging.Int("profiles", len(pf.Profiles)),
			logging.Int("tertiles", len(pf.Tertiles)),
		)
	}
	scorer, err := scoring.NewEngine(logger, scoringOpts...)
	if err != nil {
		return nil, err
	}
	s.scorer = scorer
	return s, nil
}

// Analyze runs every non-excluded module over req.Document and scores the
// predictions.  Module failures are reported in Analysis.Errors and do not
// fail the call; a deadline, an unknown profile or a scoring failure does.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (analysis *Analysis, err error) {
	start := time.Now()
	mode := s.mode(req)
	defer func() {
		pages := 0
		if req.Document != nil {
			pages = len(req.Document.Pages)
		}
		appmetrics.RecordAnalysis(s.appMetrics, mode, err == nil, time.Since(start), pages)
		if err != nil {
			appmetrics.RecordError(s.appMetrics, componentName, err)
		}
	}()

	if err := req.Document.Validate(); err != nil {
		return nil, err
	}
	profile := req.Profile
	if profile == "" {
		profile = s.scorer.DefaultProfileName()
	}
	if _, err := s.scorer.Profile(profile); err != nil {
		return nil, err
	}

	excluded := s.excluded(req.Exclude)
	run := func(ctx context.Context) (*Analysis, error) {
		return s.run(ctx, req, mode, profile, excluded, start)
	}
	if s.cache == nil || req.NoCache {
		return run(ctx)
	}
	return s.analyzeCached(ctx, req, cacheKey(req.Document.Fingerprint(), profile, excluded), start, run)
}

// analyzeCached serves req through Cache.GetOrSet, so concurrent requests for
// the same document, profile and exclusions run the modules once.  Module
// failures may be transient, so only clean runs are stored.
func (s *Service) analyzeCached(ctx context.Context, req AnalyzeRequest, key string, start time.Time,
	run func(context.Context) (*Analysis, error)) (*Analysis, error) {
	var fresh *Analysis
	var cached Analysis
	err := s.cache.GetOrSet(ctx, key, &cached, s.cacheTTL, func(ctx context.Context) (interface{}, error) {
		a, err := run(ctx)
		if err != nil {
			return nil, &uncached{err: err}
		}
		fresh = a
		if len(a.Errors) > 0 {
			return nil, &uncached{analysis: a}
		}
		return a, nil
	})
	if fresh != nil {
		s.metrics.RecordCacheAccess(ctx, false, cacheName)
		return fresh, nil
	}

	var u *uncached
	switch {
	case err == nil:
		s.metrics.RecordCacheAccess(ctx, true, cacheName)
		s.logger.Debug("analysis served from cache", logging.String("fingerprint", cached.Fingerprint))
		return s.reuse(&cached, req, start), nil
	case errors.As(err, &u):
		// Another request for the same key ran the modules.
		s.metrics.RecordCacheAccess(ctx, false, cacheName)
		if u.analysis == nil {
			return nil, u.err
		}
		cp := *u.analysis
		return s.reuse(&cp, req, start), nil
	default:
		s.metrics.RecordCacheAccess(ctx, false, cacheName)
		s.logger.Warn("cache unavailable, analysing without it", logging.String("key", key), logging.Err(err))
		return run(ctx)
	}
}

// reuse stamps a result produced for another run with this request's identity.
func (s *Service) reuse(a *Analysis, req AnalyzeRequest, start time.Time) *Analysis {
	a.RunID = uuid.NewString()
	a.DocumentID = req.Document.ID
	a.Cached = true
	a.DurationMs = msSince(start)
	return a
}

// run dispatches the modules and scores their predictions.
func (s *Service) run(ctx context.Context, req AnalyzeRequest, mode, profile string, excluded []string, start time.Time) (*Analysis, error) {
	result, err := s.dispatcher.RunAll(ctx, req.Document, dispatch.RunOptions{
		Exclude:  dispatch.ExcludeSet(excluded...),
		Parallel: mode == dispatch.ModeParallel,
	})
	if err != nil {
		return nil, err
	}
	for _, me := range result.Errors {
		appmetrics.RecordModuleError(s.appMetrics, me.Module, me.Err)
	}

	report, err := s.scorer.ScoreWithProfile(ctx, profile, result.Values())
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		RunID:       uuid.NewString(),
		DocumentID:  req.Document.ID,
		Fingerprint: req.Document.Fingerprint(),
		Mode:        mode,
		Predictions: result.Predictions,
		Errors:      result.Errors,
		Score:       report,
		Markers:     req.Document.Markers(),
		DurationMs:  msSince(start),
	}

	s.logger.Info("analysis completed",
		logging.String("run_id", analysis.RunID),
		logging.String("mode", mode),
		logging.String("profile", profile),
		logging.Int("modules", len(result.Predictions)),
		logging.Int("module_errors", len(result.Errors)),
		logging.Float64("cost_score", report.CostScore),
		logging.Float64("risk_score", report.RiskScore),
	)
	return analysis, nil
}

// AnalyzeBatch analyses reqs with at most the configured number of documents
// in flight.  The first failing request cancels the rest and its error is
// returned; results are in request order otherwise.
func (s *Service) AnalyzeBatch(ctx context.Context, reqs []AnalyzeRequest) ([]*Analysis, error) {
	start := time.Now()
	out := make([]*Analysis, len(reqs))
	var succeeded atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchWorkers)
	for i := range reqs {
		i := i
		g.Go(func() error {
			a, err := s.Analyze(gctx, reqs[i])
			if err != nil {
				return fmt.Errorf("document %d: %w", i, err)
			}
			out[i] = a
			succeeded.Add(1)
			return nil
		})
	}
	err := g.Wait()

	ok := int(succeeded.Load())
	elapsed := msSince(start)
	params := &common.BatchMetricParams{
		BatchName:       componentName,
		TotalItems:      len(reqs),
		SuccessItems:    ok,
		TotalDurationMs: elapsed,
		MaxConcurrency:  s.batchWorkers,
	}
	if err != nil {
		params.FailedItems = 1
		params.CancelledItems = len(reqs) - ok - 1
	}
	if len(reqs) > 0 {
		params.AvgItemDurationMs = elapsed / float64(len(reqs))
	}
	s.metrics.RecordBatchProcessing(ctx, params)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close stops the dispatch worker pool, waiting for parallel runs in flight
// until ctx ends.
func (s *Service) Close(ctx context.Context) error {
	return s.dispatcher.Close(ctx)
}

// Metadata returns the feature catalog in its stable order.
func (s *Service) Metadata() []protocol.Metadata {
	return s.dispatcher.GetModuleMetadata()
}

// ModuleNames returns the registered modules in registration order.
func (s *Service) ModuleNames() []string {
	return s.dispatcher.Names()
}

// ProfileNames returns the available weight profiles, sorted.
func (s *Service) ProfileNames() []string {
	return s.scorer.ProfileNames()
}

func (s *Service) mode(req AnalyzeRequest) string {
	parallel := s.parallel
	if req.Parallel != nil {
		parallel = *req.Parallel
	}
	if parallel {
		return dispatch.ModeParallel
	}
	return dispatch.ModeSequential
}

// excluded merges configured and requested exclusions, sorted and
// deduplicated.  Names that match no module are logged and kept.
func (s *Service) excluded(extra []string) []string {
	registered := make(map[string]bool)
	for _, n := range s.dispatcher.Names() {
		registered[n] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, n := range append(append([]string(nil), s.exclude...), extra...) {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		if !registered[n] {
			s.logger.Warn("excluded module is not registered", logging.String("module", n))
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func cacheKey(fingerprint, profile string, excluded []string) string {
	return cacheName + ":" + fingerprint + ":" + profile + ":" + strings.Join(excluded, ",")
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
