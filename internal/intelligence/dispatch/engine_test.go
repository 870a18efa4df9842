package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
	"github.com/turtacn/TrialScope/internal/intelligence/common"
	extractor "github.com/turtacn/TrialScope/internal/intelligence/protocol_extractor"
	apperrors "github.com/turtacn/TrialScope/pkg/errors"
)

type stubModule struct {
	name  string
	fn    func(doc *protocol.Document) (extractor.PredictionResult, error)
	calls int
	mu    sync.Mutex
}

func (s *stubModule) Name() string { return s.name }

func (s *stubModule) Process(doc *protocol.Document) (extractor.PredictionResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(doc)
	}
	return extractor.PredictionResult{Prediction: s.name}, nil
}

type describedModule struct {
	stubModule
	md protocol.Metadata
}

func (d *describedModule) Metadata() protocol.Metadata { return d.md }

func constant(name string, v interface{}) *stubModule {
	return &stubModule{name: name, fn: func(*protocol.Document) (extractor.PredictionResult, error) {
		return extractor.PredictionResult{Prediction: v}, nil
	}}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return NewEngine(nil, opts...)
}

func keys(m map[string]extractor.PredictionResult) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestRegister_DuplicateRejected(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Register("age", constant("age", 1)))

	err := e.Register("age", constant("age", 2))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDuplicateModule))
	assert.Equal(t, []string{"age"}, e.Names())
}

func TestRegister_InvalidArguments(t *testing.T) {
	e := newTestEngine(t)
	assert.True(t, apperrors.IsCode(e.Register("", constant("x", 1)), apperrors.CodeInvalidParam))
	assert.True(t, apperrors.IsCode(e.Register("x", nil), apperrors.CodeInvalidParam))
}

func TestMustRegister_PanicsOnDuplicate(t *testing.T) {
	e := newTestEngine(t)
	e.MustRegister("age", constant("age", 1))
	assert.Panics(t, func() { e.MustRegister("age", constant("age", 1)) })
}

func TestGetModule(t *testing.T) {
	e := newTestEngine(t)
	m := constant("phase", 2.0)
	require.NoError(t, e.Register("phase", m))

	got, err := e.GetModule("phase")
	require.NoError(t, err)
	assert.Same(t, m, got)

	_, err = e.GetModule("missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnknownModule))
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRunAll_KeysAreRegisteredMinusExcluded(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		e := newTestEngine(t)
		for _, n := range []string{"a", "b", "c", "d"} {
			require.NoError(t, e.Register(n, constant(n, n)))
		}

		res, err := e.RunAll(context.Background(), protocol.NewDocument("text"), RunOptions{
			Exclude:  ExcludeSet("b", "zzz"),
			Parallel: parallel,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c", "d"}, keys(res.Predictions))
		assert.Empty(t, res.Errors)
	}
}

func TestRunAll_ParallelMatchesSequential(t *testing.T) {
	doc := protocol.NewDocument(
		"Participants aged 18 to 65 years will receive Axitinib.",
		"This is a randomised, double-blind, phase II trial in Kenya.",
	)
	build := func() *Engine {
		e := newTestEngine(t, WithMaxWorkers(4))
		require.NoError(t, e.RegisterModules(extractor.DefaultModules()...))
		return e
	}

	seq, err := build().RunAll(context.Background(), doc, RunOptions{})
	require.NoError(t, err)
	par, err := build().RunAll(context.Background(), doc, RunOptions{Parallel: true})
	require.NoError(t, err)

	require.Equal(t, keys(seq.Predictions), keys(par.Predictions))
	for name, want := range seq.Predictions {
		assert.Equal(t, want.Prediction, par.Predictions[name].Prediction, name)
	}
}

func TestRunAll_FailingModuleIsolated(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		e := newTestEngine(t)
		require.NoError(t, e.Register("ok", constant("ok", 1)))
		require.NoError(t, e.Register("bad", &stubModule{name: "bad", fn: func(*protocol.Document) (extractor.PredictionResult, error) {
			return extractor.PredictionResult{}, errors.New("regex exploded")
		}}))
		require.NoError(t, e.Register("panicky", &stubModule{name: "panicky", fn: func(*protocol.Document) (extractor.PredictionResult, error) {
			panic("index out of range")
		}}))

		res, err := e.RunAll(context.Background(), protocol.NewDocument("x"), RunOptions{Parallel: parallel})
		require.NoError(t, err)
		assert.Equal(t, []string{"ok"}, keys(res.Predictions))
		require.Len(t, res.Errors, 2)
		assert.Equal(t, "bad", res.Errors[0].Module)
		assert.Equal(t, "panicky", res.Errors[1].Module)
		for _, me := range res.Errors {
			assert.True(t, apperrors.IsCode(me, apperrors.ErrCodeModuleExecution))
		}
		assert.Contains(t, res.Errors[1].Err.(*apperrors.AppError).Cause.Error(), "index out of range")
	}
}

func TestRunAll_DeadlineReturnsTimeoutWithoutPartialResults(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		release := make(chan struct{})
		e := newTestEngine(t)
		require.NoError(t, e.Register("fast", constant("fast", 1)))
		require.NoError(t, e.Register("slow", &stubModule{name: "slow", fn: func(*protocol.Document) (extractor.PredictionResult, error) {
			<-release
			return extractor.PredictionResult{Prediction: 1}, nil
		}}))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		res, err := e.RunAll(ctx, protocol.NewDocument("x"), RunOptions{Parallel: parallel})
		cancel()
		close(release)

		require.Error(t, err)
		assert.Nil(t, res)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeTimeout))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
}

func TestRunAll_ModuleTimeoutFailsOnlyThatModule(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	e := newTestEngine(t, WithModuleTimeout(20*time.Millisecond))
	require.NoError(t, e.Register("fast", constant("fast", 1)))
	require.NoError(t, e.Register("stuck", &stubModule{name: "stuck", fn: func(*protocol.Document) (extractor.PredictionResult, error) {
		<-release
		return extractor.PredictionResult{}, nil
	}}))

	res, err := e.RunAll(context.Background(), protocol.NewDocument("x"), RunOptions{Parallel: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"fast"}, keys(res.Predictions))
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], context.DeadlineExceeded)
}

func TestRunAll_ParallelBoundedLikeSequential(t *testing.T) {
	// With one worker the three modules run back to back, so the parallel
	// run takes longer than a single module timeout.
	e := newTestEngine(t, WithModuleTimeout(100*time.Millisecond), WithMaxWorkers(1))
	for _, name := range []string{"a", "b", "c"} {
		name := name
		require.NoError(t, e.Register(name, &stubModule{name: name, fn: func(*protocol.Document) (extractor.PredictionResult, error) {
			time.Sleep(50 * time.Millisecond)
			return extractor.PredictionResult{Prediction: name}, nil
		}}))
	}

	for _, parallel := range []bool{false, true} {
		res, err := e.RunAll(context.Background(), protocol.NewDocument("x"), RunOptions{Parallel: parallel})
		require.NoError(t, err)
		assert.Empty(t, res.Errors, "parallel=%v", parallel)
		assert.Equal(t, []string{"a", "b", "c"}, keys(res.Predictions), "parallel=%v", parallel)
	}
}

func TestClose_StopsParallelRuns(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Register("a", constant("a", 1)))
	require.NoError(t, e.Close(context.Background()))
	assert.True(t, e.Sealed())

	_, err := e.RunAll(context.Background(), protocol.NewDocument("x"), RunOptions{Parallel: true})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeServiceUnavailable))

	res, err := e.RunAll(context.Background(), protocol.NewDocument("x"), RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, res.Predictions, "a")
}

func TestRunAll_InvalidPages(t *testing.T) {
	e := newTestEngine(t)
	m := constant("a", 1)
	require.NoError(t, e.Register("a", m))

	_, err := e.RunAll(context.Background(), &protocol.Document{Pages: []*protocol.Page{nil}}, RunOptions{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
	assert.Zero(t, m.calls)
}

func TestRunAll_SealsRegistry(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Register("a", constant("a", 1)))
	assert.False(t, e.Sealed())

	_, err := e.RunAll(context.Background(), protocol.NewDocument(), RunOptions{})
	require.NoError(t, err)
	assert.True(t, e.Sealed())

	err = e.Register("b", constant("b", 1))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRegistrySealed))
}

func TestRunAll_NilDocument(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RunAll(context.Background(), nil, RunOptions{})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
}

func TestRunAll_ConcurrentRunsShareEngine(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterModules(extractor.DefaultModules()...))
	doc := protocol.NewDocument("A phase III trial of Tenofovir in 1200 participants aged 18 years or older.")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(parallel bool) {
			defer wg.Done()
			res, err := e.RunAll(context.Background(), doc, RunOptions{Parallel: parallel})
			assert.NoError(t, err)
			assert.Len(t, res.Predictions, len(extractor.DefaultModules()))
		}(i%2 == 0)
	}
	wg.Wait()
}

func TestRunAll_RecordsModuleMetrics(t *testing.T) {
	m := common.NewInMemoryIntelligenceMetrics()
	e := newTestEngine(t, WithMetrics(m))
	require.NoError(t, e.Register("a", constant("a", 1)))
	require.NoError(t, e.Register("b", &stubModule{name: "b", fn: func(*protocol.Document) (extractor.PredictionResult, error) {
		return extractor.PredictionResult{}, errors.New("nope")
	}}))

	_, err := e.RunAll(context.Background(), protocol.NewDocument("x"), RunOptions{})
	require.NoError(t, err)

	runs := m.ModuleRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, ModeSequential, runs[0].Mode)
	assert.True(t, runs[0].Success)
	assert.False(t, runs[1].Success)
	assert.Equal(t, apperrors.ErrCodeModuleExecution.String(), runs[1].ErrorCode)
}

func TestGetModuleMetadata_OrderAndDedup(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Register("plain", constant("plain", 1)))
	require.NoError(t, e.Register("second", &describedModule{
		stubModule: stubModule{name: "second"},
		md:         protocol.Metadata{ID: "second", Name: "Second", FeatureType: protocol.FeatureNumeric},
	}))
	require.NoError(t, e.Register("first", &describedModule{
		stubModule: stubModule{name: "first"},
		md:         protocol.Metadata{ID: "num_arms", Name: "Arms from module", FeatureType: protocol.FeatureNumeric},
	}))

	md := e.GetModuleMetadata()
	external := protocol.ExternalMetadata()
	require.Len(t, md, 2+len(external)-1)
	assert.Equal(t, "second", md[0].ID)
	assert.Equal(t, "num_arms", md[1].ID)
	assert.Equal(t, "Arms from module", md[1].Name)

	ids := make(map[string]int)
	for _, m := range md {
		ids[m.ID]++
	}
	for id, n := range ids {
		assert.Equal(t, 1, n, id)
	}

	assert.Equal(t, md, e.GetModuleMetadata())
}

func TestModuleError_JSON(t *testing.T) {
	me := &ModuleError{Module: "drug", Err: apperrors.ModuleExecution("drug", errors.New("boom"))}
	raw, err := json.Marshal(me)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "drug", out["module"])
	assert.Equal(t, apperrors.ErrCodeModuleExecution.String(), out["code"])
	assert.Contains(t, out["error"], "name=drug")
}

func TestRunResult_Values(t *testing.T) {
	r := &RunResult{Predictions: map[string]extractor.PredictionResult{
		"phase": {Prediction: 3.0},
		"drug":  {Prediction: []string{"Axitinib"}, Evidence: []extractor.Evidence{{PageNumber: 1}}},
	}}
	assert.Equal(t, map[string]interface{}{"phase": 3.0, "drug": []string{"Axitinib"}}, r.Values())
}
