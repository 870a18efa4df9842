package feasibility

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/TrialScope/internal/config"
	"github.com/turtacn/TrialScope/internal/domain/protocol"
	"github.com/turtacn/TrialScope/internal/infrastructure/database/redis"
	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/internal/intelligence/common"
	extractor "github.com/turtacn/TrialScope/internal/intelligence/protocol_extractor"
	"github.com/turtacn/TrialScope/internal/testutil"
	"github.com/turtacn/TrialScope/pkg/errors"
)

const sampleProtocol = "A Phase 3, randomised, double-blind, placebo-controlled parallel group study " +
	"of semaglutide in adults aged 18 to 65 years with type 2 diabetes.\f" +
	"Approximately 600 participants will be enrolled at 40 sites in the United States and Germany. " +
	"An interim analysis is planned. Contact: +44 20 7946 0958."

type stubModule struct {
	name  string
	value interface{}
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (m *stubModule) Name() string { return m.name }

func (m *stubModule) Process(*protocol.Document) (extractor.PredictionResult, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return extractor.PredictionResult{}, m.err
	}
	return extractor.PredictionResult{Prediction: m.value}, nil
}

// mapCache stores JSON like the Redis cache does, so values lose their Go
// types on the way back.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) GetOrSet(ctx context.Context, key string, dest interface{}, _ time.Duration,
	loader func(context.Context) (interface{}, error)) error {
	c.mu.Lock()
	b, ok := c.data[key]
	c.mu.Unlock()
	if !ok {
		v, err := loader(ctx)
		if err != nil {
			return err
		}
		if b, err = json.Marshal(v); err != nil {
			return err
		}
		c.mu.Lock()
		c.data[key] = b
		c.sets++
		c.mu.Unlock()
	}
	return json.Unmarshal(b, dest)
}

// downCache fails every lookup without calling the loader.
type downCache struct{}

func (downCache) GetOrSet(context.Context, string, interface{}, time.Duration, func(context.Context) (interface{}, error)) error {
	return errors.New(errors.CodeCacheError, "connection refused")
}

func newMiniredisCache(t *testing.T) (redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&redis.RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewRedisCache(client, nil, redis.WithPrefix("ts:")), mr
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(config.NewDefaultConfig(), logging.NewNopLogger(), opts...)
	require.NoError(t, err)
	return svc
}

func boolPtr(b bool) *bool { return &b }

func TestNewService_DefaultModules(t *testing.T) {
	svc := newTestService(t)

	names := svc.ModuleNames()
	assert.Len(t, names, len(extractor.DefaultModules()))
	assert.Contains(t, names, extractor.ModulePhase)
	assert.NotEmpty(t, svc.Metadata())
	assert.Contains(t, svc.ProfileNames(), "default")
	assert.Contains(t, svc.ProfileNames(), "vaccine")
}

func TestNewService_DuplicateModule(t *testing.T) {
	_, err := NewService(nil, nil, WithModules(&stubModule{name: "a"}, &stubModule{name: "a"}))
	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateModule))
}

func TestNewService_MissingProfileFile(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Scoring.ProfilesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewService(cfg, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestNewService_ProfileFileMerged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - name: oncology
    weights:
      constant_cost: 50000
      constant_risk: -3
`), 0o644))
	cfg := config.NewDefaultConfig()
	cfg.Scoring.ProfilesPath = path
	cfg.Scoring.Profile = "oncology"

	svc, err := NewService(cfg, nil, WithModules(&stubModule{name: "x", value: 1}))
	require.NoError(t, err)
	assert.Contains(t, svc.ProfileNames(), "oncology")

	a, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("text")})
	require.NoError(t, err)
	assert.Equal(t, "oncology", a.Score.Profile)
}

func TestNewService_UnknownDefaultProfile(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Scoring.Profile = "nope"
	_, err := NewService(cfg, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownWeightProfile))
}

func TestAnalyze_DefaultModules(t *testing.T) {
	svc := newTestService(t)
	doc := protocol.ParseDocument(sampleProtocol)
	doc.ID = "NCT-TEST"

	for _, parallel := range []bool{true, false} {
		a, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: doc, Parallel: boolPtr(parallel)})
		require.NoError(t, err)

		assert.NotEmpty(t, a.RunID)
		assert.Equal(t, "NCT-TEST", a.DocumentID)
		assert.Equal(t, doc.Fingerprint(), a.Fingerprint)
		assert.Len(t, a.Predictions, len(extractor.DefaultModules()))
		assert.Empty(t, a.Errors)
		require.NotNil(t, a.Score)
		assert.Equal(t, "default", a.Score.Profile)
		assert.NotEmpty(t, a.Score.CostNodes)
		assert.NotEmpty(t, a.Markers)
		assert.False(t, a.Cached)
	}
}

func TestAnalyze_ModesAgree(t *testing.T) {
	svc := newTestService(t)
	par, err := svc.Analyze(context.Background(), AnalyzeRequest{
		Document: protocol.ParseDocument(sampleProtocol), Parallel: boolPtr(true),
	})
	require.NoError(t, err)
	seq, err := svc.Analyze(context.Background(), AnalyzeRequest{
		Document: protocol.ParseDocument(sampleProtocol), Parallel: boolPtr(false),
	})
	require.NoError(t, err)

	assert.Equal(t, "parallel", par.Mode)
	assert.Equal(t, "sequential", seq.Mode)
	assert.Equal(t, seq.Predictions, par.Predictions)
	assert.InDelta(t, seq.Score.CostScore, par.Score.CostScore, 1e-9)
	assert.InDelta(t, seq.Score.RiskScore, par.Score.RiskScore, 1e-9)
}

func TestAnalyze_Exclusions(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Dispatch.Exclude = []string{"b"}
	a, b, c := &stubModule{name: "a", value: 1}, &stubModule{name: "b", value: 2}, &stubModule{name: "c", value: 3}
	logger := testutil.NewMockLogger()
	svc, err := NewService(cfg, logger, WithModules(a, b, c))
	require.NoError(t, err)

	res, err := svc.Analyze(context.Background(), AnalyzeRequest{
		Document: protocol.NewDocument("x"),
		Exclude:  []string{"c", "unregistered", ""},
	})
	require.NoError(t, err)
	assert.Len(t, res.Predictions, 1)
	assert.Contains(t, res.Predictions, "a")
	assert.Equal(t, int32(0), b.calls.Load())
	assert.Equal(t, int32(0), c.calls.Load())

	warned := logger.Find(logging.LevelWarn, "not registered")
	require.Len(t, warned, 1)
	name, _ := warned[0].Field("module")
	assert.Equal(t, "unregistered", name)
}

func TestAnalyze_ModuleFailureReported(t *testing.T) {
	svc := newTestService(t, WithModules(
		&stubModule{name: "ok", value: 1},
		&stubModule{name: "bad", err: fmt.Errorf("boom")},
	))
	a, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("x")})
	require.NoError(t, err)
	assert.Contains(t, a.Predictions, "ok")
	require.Len(t, a.Errors, 1)
	assert.Equal(t, "bad", a.Errors[0].Module)
	assert.True(t, errors.IsCode(a.Errors[0].Err, errors.ErrCodeModuleExecution))
}

func TestAnalyze_InvalidRequests(t *testing.T) {
	m := &stubModule{name: "a", value: 1}
	svc := newTestService(t, WithModules(m))

	_, err := svc.Analyze(context.Background(), AnalyzeRequest{})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	withNilPage := &protocol.Document{Pages: []*protocol.Page{{Content: "x", PageNumber: 1}, nil}}
	assert.NotPanics(t, func() {
		_, err = svc.Analyze(context.Background(), AnalyzeRequest{Document: withNilPage})
	})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = svc.Analyze(context.Background(), AnalyzeRequest{
		Document: &protocol.Document{Pages: []*protocol.Page{{Content: "x"}}},
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodePageNumberInvalid))

	_, err = svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("x"), Profile: "nope"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownWeightProfile))
	assert.Equal(t, int32(0), m.calls.Load())
}

func TestAnalyze_Timeout(t *testing.T) {
	svc := newTestService(t, WithModules(&stubModule{name: "slow", value: 1, delay: 500 * time.Millisecond}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	a, err := svc.Analyze(ctx, AnalyzeRequest{Document: protocol.NewDocument("x")})
	assert.Nil(t, a)
	assert.True(t, errors.IsCode(err, errors.CodeTimeout))
}

func TestAnalyze_CacheHit(t *testing.T) {
	m := &stubModule{name: "phase", value: 3.0}
	cache := newMapCache()
	metrics := common.NewInMemoryIntelligenceMetrics()
	svc := newTestService(t, WithModules(m), WithCache(cache), WithIntelligenceMetrics(metrics))
	req := AnalyzeRequest{Document: protocol.NewDocument("phase 3 study")}

	first, err := svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.InDelta(t, first.Score.CostScore, second.Score.CostScore, 1e-9)
	assert.Equal(t, int32(1), m.calls.Load())
	assert.Equal(t, int64(1), metrics.CacheHits())
	assert.Equal(t, int64(1), metrics.CacheMisses())
}

func TestAnalyze_CacheKeyedByProfileAndExclusions(t *testing.T) {
	m := &stubModule{name: "phase", value: 3.0}
	cache := newMapCache()
	svc := newTestService(t, WithModules(m, &stubModule{name: "child", value: 0}), WithCache(cache))
	doc := protocol.NewDocument("phase 3 study")

	for _, req := range []AnalyzeRequest{
		{Document: doc},
		{Document: doc, Profile: "vaccine"},
		{Document: doc, Exclude: []string{"child"}},
	} {
		a, err := svc.Analyze(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, a.Cached)
	}
	assert.Equal(t, int32(3), m.calls.Load())
	assert.Equal(t, 3, cache.sets)
}

func TestAnalyze_NoCacheBypasses(t *testing.T) {
	m := &stubModule{name: "phase", value: 3.0}
	cache := newMapCache()
	svc := newTestService(t, WithModules(m), WithCache(cache))
	req := AnalyzeRequest{Document: protocol.NewDocument("x"), NoCache: true}

	_, err := svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), m.calls.Load())
	assert.Zero(t, cache.sets)
}

func TestAnalyze_FailedRunsNotCached(t *testing.T) {
	cache := newMapCache()
	svc := newTestService(t, WithCache(cache), WithModules(
		&stubModule{name: "ok", value: 1},
		&stubModule{name: "bad", err: fmt.Errorf("flaky")},
	))
	_, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("x")})
	require.NoError(t, err)
	assert.Zero(t, cache.sets)
}

func TestAnalyze_RedisCacheRoundTrip(t *testing.T) {
	cache, mr := newMiniredisCache(t)
	svc := newTestService(t, WithCache(cache))
	doc := protocol.ParseDocument(sampleProtocol)

	first, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: doc})
	require.NoError(t, err)
	second, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: doc})
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Len(t, second.Predictions, len(first.Predictions))
	assert.InDelta(t, first.Score.CostScore, second.Score.CostScore, 1e-9)
	assert.Equal(t, first.Markers, second.Markers)
	assert.NotEmpty(t, mr.Keys())
}

func TestAnalyze_CacheHitDecodedFromJSON(t *testing.T) {
	cache := newMapCache()
	svc := newTestService(t, WithCache(cache), WithModules(
		extractor.NewAgeModule(),
		&stubModule{name: "count", value: 3},
	))

	first, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("Adults aged 18 to 65 years.")})
	require.NoError(t, err)
	assert.IsType(t, extractor.AgeRange{}, first.Predictions[extractor.ModuleAge].Prediction)
	assert.Equal(t, 3, first.Predictions["count"].Prediction)

	doc := protocol.NewDocument("Adults aged 18 to 65 years.")
	second, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: doc})
	require.NoError(t, err)
	require.True(t, second.Cached)
	assert.IsType(t, map[string]interface{}{}, second.Predictions[extractor.ModuleAge].Prediction)
	assert.Equal(t, 3.0, second.Predictions["count"].Prediction)
	assert.Empty(t, doc.Markers())
	assert.Equal(t, first.Markers, second.Markers)
}

func TestAnalyze_CacheUnavailableRunsDirectly(t *testing.T) {
	m := &stubModule{name: "phase", value: 3.0}
	logger := testutil.NewMockLogger()
	svc, err := NewService(config.NewDefaultConfig(), logger, WithModules(m), WithCache(downCache{}))
	require.NoError(t, err)

	a, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("x")})
	require.NoError(t, err)
	assert.False(t, a.Cached)
	assert.Contains(t, a.Predictions, "phase")
	assert.Equal(t, int32(1), m.calls.Load())
	assert.True(t, logger.HasMessage(logging.LevelWarn, "cache unavailable, analysing without it"))
}

func TestAnalyzeBatch_IdenticalDocumentsRunOnce(t *testing.T) {
	cache, mr := newMiniredisCache(t)
	m := &stubModule{name: "phase", value: 3.0, delay: 50 * time.Millisecond}
	svc := newTestService(t, WithModules(m), WithCache(cache))

	first, second := protocol.NewDocument("phase 3 study"), protocol.NewDocument("phase 3 study")
	first.ID, second.ID = "first", "second"
	out, err := svc.AnalyzeBatch(context.Background(), []AnalyzeRequest{{Document: first}, {Document: second}})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, int32(1), m.calls.Load())
	assert.Equal(t, "first", out[0].DocumentID)
	assert.Equal(t, "second", out[1].DocumentID)
	assert.NotEqual(t, out[0].RunID, out[1].RunID)
	assert.Equal(t, out[0].Fingerprint, out[1].Fingerprint)
	assert.True(t, out[0].Cached != out[1].Cached, "exactly one request runs the modules")
	assert.Len(t, mr.Keys(), 1)
}

func TestAnalyzeBatch_IdenticalDocumentsShareFailedRun(t *testing.T) {
	cache, mr := newMiniredisCache(t)
	ok := &stubModule{name: "ok", value: 1, delay: 50 * time.Millisecond}
	svc := newTestService(t, WithCache(cache), WithModules(ok, &stubModule{name: "bad", err: fmt.Errorf("flaky")}))

	out, err := svc.AnalyzeBatch(context.Background(), []AnalyzeRequest{
		{Document: protocol.NewDocument("x")},
		{Document: protocol.NewDocument("x")},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int32(1), ok.calls.Load())
	for _, a := range out {
		require.Len(t, a.Errors, 1)
		assert.Equal(t, "bad", a.Errors[0].Module)
	}
	assert.NotEqual(t, out[0].RunID, out[1].RunID)
	assert.Empty(t, mr.Keys())
}

func TestService_Close(t *testing.T) {
	svc := newTestService(t, WithModules(&stubModule{name: "a", value: 1}))
	_, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("x"), Parallel: boolPtr(true)})
	require.NoError(t, err)

	require.NoError(t, svc.Close(context.Background()))
	_, err = svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("x"), Parallel: boolPtr(true)})
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))

	a, err := svc.Analyze(context.Background(), AnalyzeRequest{Document: protocol.NewDocument("x"), Parallel: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "sequential", a.Mode)
}

func TestAnalyzeBatch_Ordered(t *testing.T) {
	metrics := common.NewInMemoryIntelligenceMetrics()
	svc := newTestService(t, WithModules(&stubModule{name: "a", value: 1}),
		WithBatchWorkers(2), WithIntelligenceMetrics(metrics))

	reqs := make([]AnalyzeRequest, 6)
	for i := range reqs {
		doc := protocol.NewDocument(fmt.Sprintf("doc %d", i))
		doc.ID = fmt.Sprintf("doc-%d", i)
		reqs[i] = AnalyzeRequest{Document: doc}
	}

	out, err := svc.AnalyzeBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, out, 6)
	for i, a := range out {
		assert.Equal(t, fmt.Sprintf("doc-%d", i), a.DocumentID)
	}

	batches := metrics.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, 6, batches[0].TotalItems)
	assert.Equal(t, 6, batches[0].SuccessItems)
}

func TestAnalyzeBatch_FirstErrorAborts(t *testing.T) {
	svc := newTestService(t, WithModules(&stubModule{name: "a", value: 1}))
	reqs := []AnalyzeRequest{
		{Document: protocol.NewDocument("a")},
		{Document: protocol.NewDocument("b")},
		{},
	}
	out, err := svc.AnalyzeBatch(context.Background(), reqs)
	assert.Nil(t, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document 2")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestPhones(t *testing.T) {
	svc := newTestService(t, WithModules(&stubModule{name: "a", value: 1}))

	hits, err := svc.Phones(protocol.ParseDocument(sampleProtocol))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 2, hits[0].PageNumber)
	assert.Equal(t, "GB", hits[0].Country)

	hits, err = svc.Phones(protocol.NewDocument("no numbers here"))
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	_, err = svc.Phones(nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}
