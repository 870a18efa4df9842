// Package dispatch owns the module registry and runs every registered
// extraction module over a Document, either sequentially or on the bounded
// worker pool from internal/intelligence/common.
package dispatch

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/TrialScope/internal/domain/protocol"
	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/internal/intelligence/common"
	extractor "github.com/turtacn/TrialScope/internal/intelligence/protocol_extractor"
	"github.com/turtacn/TrialScope/pkg/errors"
)

const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// DefaultModuleTimeout bounds a single module run when no option overrides it.
const DefaultModuleTimeout = 30 * time.Second

// RunOptions selects what RunAll executes.
type RunOptions struct {
	// Exclude names modules to skip.  Unknown names are ignored.
	Exclude map[string]struct{}
	// Parallel runs modules on the worker pool instead of the calling goroutine.
	Parallel bool
}

// ExcludeSet builds a RunOptions.Exclude value from names.
func ExcludeSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// ModuleError reports one module that failed during RunAll.
type ModuleError struct {
	Module string
	Err    error
}

func (e *ModuleError) Error() string { return e.Module + ": " + e.Err.Error() }
func (e *ModuleError) Unwrap() error { return e.Err }

// MarshalJSON renders the module, its error code and message.
func (e *ModuleError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Module string `json:"module"`
		Code   string `json:"code"`
		Error  string `json:"error"`
	}{e.Module, errors.GetCode(e.Err).String(), e.Err.Error()})
}

// RunResult holds the predictions of every module that succeeded and the
// errors of those that did not.  A module appears in exactly one of the two.
type RunResult struct {
	Predictions map[string]extractor.PredictionResult `json:"predictions"`
	Errors      []*ModuleError                        `json:"errors,omitempty"`
}

// Values flattens Predictions to their bare values, the shape the scoring
// engine consumes.
func (r *RunResult) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Predictions))
	for name, p := range r.Predictions {
		out[name] = p.Prediction
	}
	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records module runs to m.
func WithMetrics(m common.IntelligenceMetrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithMaxWorkers caps parallel runs.  Non-positive values keep the
// runtime.NumCPU() default.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) { e.maxWorkers = n }
}

// WithModuleTimeout bounds each module run.
func WithModuleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.moduleTimeout = d
		}
	}
}

// Engine is the module registry.  Registration is only allowed until the first
// RunAll seals the registry; after that the registry is read-only, so
// concurrent RunAll calls are safe.
type Engine struct {
	mu      sync.Mutex
	names   []string
	modules map[string]extractor.Module
	sealed  atomic.Bool

	logger        logging.Logger
	metrics       common.IntelligenceMetrics
	maxWorkers    int
	moduleTimeout time.Duration
	// pool is built when the registry is sealed.
	pool common.BatchProcessor[extractor.Module, extractor.PredictionResult]
}

// NewEngine builds an empty engine.
func NewEngine(logger logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	e := &Engine{
		modules:       make(map[string]extractor.Module),
		logger:        logger.Named("dispatch"),
		metrics:       common.NewNoopIntelligenceMetrics(),
		moduleTimeout: DefaultModuleTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Register adds m under name.
func (e *Engine) Register(name string, m extractor.Module) error {
	if name == "" {
		return errors.InvalidParam("module name must not be empty")
	}
	if m == nil {
		return errors.InvalidParam("module must not be nil").WithDetail("name=" + name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed.Load() {
		return errors.New(errors.ErrCodeRegistrySealed, errors.DefaultMessageForCode(errors.ErrCodeRegistrySealed)).
			WithDetail("name=" + name)
	}
	if _, exists := e.modules[name]; exists {
		return errors.DuplicateModule(name)
	}
	e.modules[name] = m
	e.names = append(e.names, name)
	e.logger.Debug("module registered", logging.String("module", name))
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (e *Engine) MustRegister(name string, m extractor.Module) {
	if err := e.Register(name, m); err != nil {
		panic(err)
	}
}

// RegisterModules registers each module under its own Name.
func (e *Engine) RegisterModules(mods ...extractor.Module) error {
	for _, m := range mods {
		if m == nil {
			return errors.InvalidParam("module must not be nil")
		}
		if err := e.Register(m.Name(), m); err != nil {
			return err
		}
	}
	return nil
}

// GetModule returns the module registered under name.
func (e *Engine) GetModule(name string) (extractor.Module, error) {
	e.mu.Lock()
	m, ok := e.modules[name]
	e.mu.Unlock()
	if !ok {
		return nil, errors.UnknownModule(name)
	}
	return m, nil
}

// Names returns registered module names in registration order.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Sealed reports whether the registry has been frozen by a run.
func (e *Engine) Sealed() bool { return e.sealed.Load() }

// seal freezes the registry and builds the worker pool.  A parallel run is
// bounded by one module timeout per registered module, the same worst case a
// sequential run has.
func (e *Engine) seal() {
	if e.sealed.Load() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed.Load() {
		return
	}
	e.pool = common.NewBatchProcessor[extractor.Module, extractor.PredictionResult](
		common.WithBatchName("dispatch"),
		common.WithMaxConcurrency(e.maxWorkers),
		common.WithItemTimeout(e.moduleTimeout),
		common.WithBatchTimeout(e.moduleTimeout*time.Duration(len(e.names))),
		common.WithBatchMetrics(e.metrics),
		common.WithBatchLogger(e.logger),
	)
	e.sealed.Store(true)
}

// Close seals the registry and stops the worker pool, waiting for parallel
// runs in flight until ctx ends.  Later parallel runs fail with
// ErrCodeServiceUnavailable; sequential runs are unaffected.
func (e *Engine) Close(ctx context.Context) error {
	e.seal()
	return e.pool.Shutdown(ctx)
}

// GetModuleMetadata returns the metadata of every registered module that
// describes itself, in registration order, followed by the curated external
// entries.  Entries are deduplicated by ID; the first occurrence wins.
func (e *Engine) GetModuleMetadata() []protocol.Metadata {
	names := e.Names()
	out := make([]protocol.Metadata, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		m, _ := e.GetModule(name)
		mp, ok := m.(extractor.MetadataProvider)
		if !ok {
			continue
		}
		md := mp.Metadata()
		if seen[md.ID] {
			continue
		}
		seen[md.ID] = true
		out = append(out, md)
	}
	for _, md := range protocol.ExternalMetadata() {
		if seen[md.ID] {
			continue
		}
		seen[md.ID] = true
		out = append(out, md)
	}
	return out
}

// RunAll runs every registered module not excluded by opts over doc.
//
// Module failures and panics are isolated: the module is reported in
// RunResult.Errors with an ErrCodeModuleExecution error and the others still
// report.  If ctx ends before every module has finished, RunAll returns a
// CodeTimeout error and no partial result.
func (e *Engine) RunAll(ctx context.Context, doc *protocol.Document, opts RunOptions) (*RunResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	e.seal()

	selected := make([]extractor.Module, 0, len(e.names))
	for _, name := range e.names {
		if _, skip := opts.Exclude[name]; skip {
			continue
		}
		selected = append(selected, e.modules[name])
	}

	mode := ModeSequential
	if opts.Parallel {
		mode = ModeParallel
	}
	start := time.Now()
	log := e.logger.With(logging.String("mode", mode), logging.Int("modules", len(selected)))
	log.Debug("run started", logging.Int("pages", len(doc.Pages)))

	if err := ctx.Err(); err != nil {
		return nil, abortError(err)
	}

	result := &RunResult{Predictions: make(map[string]extractor.PredictionResult, len(selected))}
	var err error
	if opts.Parallel {
		err = e.runParallel(ctx, doc, selected, result)
	} else {
		err = e.runSequential(ctx, doc, selected, result)
	}
	if err != nil {
		log.Warn("run aborted", logging.ErrFields(err)...)
		return nil, err
	}

	log.Info("run completed",
		logging.Int("predictions", len(result.Predictions)),
		logging.Int("errors", len(result.Errors)),
		logging.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return result, nil
}

func (e *Engine) runSequential(ctx context.Context, doc *protocol.Document, mods []extractor.Module, out *RunResult) error {
	for _, m := range mods {
		if err := ctx.Err(); err != nil {
			return abortError(err)
		}
		mctx, cancel := context.WithTimeout(ctx, e.moduleTimeout)
		res, err := e.invoke(mctx, m, doc, ModeSequential)
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return abortError(ctxErr)
		}
		e.collect(out, m.Name(), res, err)
	}
	return nil
}

func (e *Engine) runParallel(ctx context.Context, doc *protocol.Document, mods []extractor.Module, out *RunResult) error {
	br, err := e.pool.Process(ctx, mods, func(ictx context.Context, m extractor.Module) (extractor.PredictionResult, error) {
		return e.invoke(ictx, m, doc, ModeParallel)
	})
	if stderrors.Is(err, common.ErrShutdown) {
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, "dispatch engine is closed")
	}
	if err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return abortError(ctxErr)
	}
	for _, ir := range br.Results {
		e.collect(out, mods[ir.Index].Name(), ir.Result, ir.Error)
	}
	return nil
}

func (e *Engine) collect(out *RunResult, name string, res extractor.PredictionResult, err error) {
	if err == nil {
		out.Predictions[name] = res
		return
	}
	if !errors.IsCode(err, errors.ErrCodeModuleExecution) {
		err = errors.ModuleExecution(name, err)
	}
	e.logger.Warn("module failed", append([]logging.Field{logging.String("module", name)}, logging.ErrFields(err)...)...)
	out.Errors = append(out.Errors, &ModuleError{Module: name, Err: err})
}

type outcome struct {
	res extractor.PredictionResult
	err error
}

// invoke runs one module on its own goroutine so a module that ignores the
// deadline cannot hold up the run.  Such a module keeps running in the
// background until it returns; its result is discarded.
func (e *Engine) invoke(ctx context.Context, m extractor.Module, doc *protocol.Document, mode string) (extractor.PredictionResult, error) {
	name := m.Name()
	start := time.Now()
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("module panicked",
					logging.String("module", name),
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)
				done <- outcome{err: errors.ModuleExecution(name, fmt.Errorf("panic: %v", r))}
			}
		}()
		res, err := m.Process(doc)
		if err != nil {
			err = errors.ModuleExecution(name, err)
		}
		done <- outcome{res: res, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = outcome{err: errors.ModuleExecution(name, ctx.Err())}
	}

	params := &common.ModuleRunParams{
		Module:     name,
		Mode:       mode,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Success:    o.err == nil,
	}
	if o.err != nil {
		params.ErrorCode = errors.GetCode(o.err).String()
	}
	e.metrics.RecordModuleRun(ctx, params)
	return o.res, o.err
}

func abortError(err error) error {
	msg := "module run cancelled before completion"
	if stderrors.Is(err, context.DeadlineExceeded) {
		msg = "module run did not complete before the deadline"
	}
	return errors.Wrap(err, errors.CodeTimeout, msg)
}
