// Package common holds the concurrency and telemetry building blocks shared by
// the intelligence layer: a bounded generic worker pool and the metrics
// interface extraction runs report through.
package common

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/pkg/errors"
)

var (
	// ErrShutdown is returned by Process once Shutdown has been called.
	ErrShutdown = stdliberrors.New("batch processor is shutting down")
	// ErrPanic wraps a panic recovered from a ProcessFunc.
	ErrPanic = stdliberrors.New("item processing panicked")
)

// ItemStatus is the outcome of one item.
type ItemStatus int

const (
	ItemStatusSuccess ItemStatus = iota
	ItemStatusFailed
	ItemStatusTimeout
	ItemStatusCancelled
)

var itemStatusNames = [...]string{"SUCCESS", "FAILED", "TIMEOUT", "CANCELLED"}

func (s ItemStatus) String() string {
	if s >= 0 && int(s) < len(itemStatusNames) {
		return itemStatusNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// ProcessFunc handles one item.
type ProcessFunc[T, R any] func(ctx context.Context, item T) (R, error)

// ItemResult is the outcome of the item at Index in the input slice.
type ItemResult[R any] struct {
	Index      int        `json:"index"`
	Result     R          `json:"result"`
	Error      error      `json:"error,omitempty"`
	DurationMs float64    `json:"duration_ms"`
	Status     ItemStatus `json:"status"`
}

// BatchResult aggregates one Process call.  Results[i] belongs to items[i].
type BatchResult[R any] struct {
	Results           []*ItemResult[R] `json:"results"`
	TotalCount        int              `json:"total_count"`
	SuccessCount      int              `json:"success_count"`
	FailureCount      int              `json:"failure_count"`
	TimeoutCount      int              `json:"timeout_count"`
	CancelledCount    int              `json:"cancelled_count"`
	TotalDurationMs   float64          `json:"total_duration_ms"`
	AvgItemDurationMs float64          `json:"avg_item_duration_ms"`
}

// BatchProcessor is a bounded worker pool.
type BatchProcessor[T, R any] interface {
	// Process runs fn for every item with at most MaxConcurrency calls in
	// flight.  Item failures, timeouts and panics are recorded per item; the
	// returned error is reserved for rejected batches (nil fn, shutdown).
	Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error)

	// MaxConcurrency reports the worker count.
	MaxConcurrency() int

	// Shutdown rejects new batches and waits for running ones until ctx ends.
	Shutdown(ctx context.Context) error
}

type batchConfig struct {
	name           string
	maxConcurrency int
	itemTimeout    time.Duration
	batchTimeout   time.Duration
	metrics        IntelligenceMetrics
	logger         logging.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*batchConfig)

// WithBatchName labels the batch in logs and metrics.
func WithBatchName(name string) BatchOption {
	return func(c *batchConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithMaxConcurrency sets the worker count.  Non-positive values keep the
// runtime.NumCPU() default.
func WithMaxConcurrency(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithItemTimeout bounds each fn call.  The default is 30s.
func WithItemTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.itemTimeout = d
		}
	}
}

// WithBatchTimeout bounds a whole Process call.  Without it only the caller's
// context limits the batch.
func WithBatchTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.batchTimeout = d
		}
	}
}

func WithBatchMetrics(m IntelligenceMetrics) BatchOption {
	return func(c *batchConfig) { c.metrics = m }
}

func WithBatchLogger(l logging.Logger) BatchOption {
	return func(c *batchConfig) { c.logger = l }
}

type batchProcessor[T, R any] struct {
	cfg batchConfig

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup
}

// NewBatchProcessor builds a BatchProcessor from opts.
func NewBatchProcessor[T, R any](opts ...BatchOption) BatchProcessor[T, R] {
	cfg := batchConfig{
		name:           "batch",
		maxConcurrency: runtime.NumCPU(),
		itemTimeout:    30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = NewNoopIntelligenceMetrics()
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNopLogger()
	}
	return &batchProcessor[T, R]{cfg: cfg}
}

func (bp *batchProcessor[T, R]) MaxConcurrency() int { return bp.cfg.maxConcurrency }

func (bp *batchProcessor[T, R]) Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error) {
	if fn == nil {
		return nil, errors.InvalidParam("process function must not be nil")
	}
	bp.mu.Lock()
	if bp.closed {
		bp.mu.Unlock()
		return nil, ErrShutdown
	}
	bp.running.Add(1)
	bp.mu.Unlock()
	defer bp.running.Done()

	if len(items) == 0 {
		return &BatchResult[R]{Results: []*ItemResult[R]{}}, nil
	}

	start := time.Now()
	bctx, cancel := bp.batchContext(ctx)
	defer cancel()

	results := make([]*ItemResult[R], len(items))
	next := make(chan int)
	workers := bp.cfg.maxConcurrency
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				results[i] = bp.runItem(bctx, i, items[i], fn)
			}
		}()
	}

feed:
	for i := range items {
		select {
		case next <- i:
		case <-bctx.Done():
			// Items never handed to a worker inherit the batch outcome.
			for j := i; j < len(items); j++ {
				results[j] = &ItemResult[R]{Index: j, Error: bctx.Err(), Status: statusOf(bctx, bctx.Err())}
			}
			break feed
		}
	}
	close(next)
	wg.Wait()

	br := summarize(results, time.Since(start))
	bp.cfg.metrics.RecordBatchProcessing(ctx, &BatchMetricParams{
		BatchName:         bp.cfg.name,
		TotalItems:        br.TotalCount,
		SuccessItems:      br.SuccessCount,
		FailedItems:       br.FailureCount,
		TimeoutItems:      br.TimeoutCount,
		CancelledItems:    br.CancelledCount,
		TotalDurationMs:   br.TotalDurationMs,
		AvgItemDurationMs: br.AvgItemDurationMs,
		MaxConcurrency:    bp.cfg.maxConcurrency,
	})
	bp.cfg.logger.Debug("batch processed",
		logging.String("batch", bp.cfg.name),
		logging.Int("total", br.TotalCount),
		logging.Int("failed", br.FailureCount),
		logging.Float64("duration_ms", br.TotalDurationMs),
	)
	return br, nil
}

func (bp *batchProcessor[T, R]) batchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if bp.cfg.batchTimeout > 0 {
		return context.WithTimeout(ctx, bp.cfg.batchTimeout)
	}
	return context.WithCancel(ctx)
}

func (bp *batchProcessor[T, R]) Shutdown(ctx context.Context) error {
	bp.mu.Lock()
	bp.closed = true
	bp.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		bp.running.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (bp *batchProcessor[T, R]) runItem(bctx context.Context, idx int, item T, fn ProcessFunc[T, R]) (ir *ItemResult[R]) {
	start := time.Now()
	ictx, cancel := context.WithTimeout(bctx, bp.cfg.itemTimeout)
	defer cancel()

	ir = &ItemResult[R]{Index: idx}
	defer func() {
		if r := recover(); r != nil {
			bp.cfg.logger.Error("batch item panicked",
				logging.String("batch", bp.cfg.name),
				logging.Int("index", idx),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			ir.Error = fmt.Errorf("%w: %v", ErrPanic, r)
			ir.Status = ItemStatusFailed
		}
		ir.DurationMs = msSince(start)
	}()

	ir.Result, ir.Error = fn(ictx, item)
	ir.Status = statusOf(bctx, ir.Error)
	return ir
}

func summarize[R any](results []*ItemResult[R], elapsed time.Duration) *BatchResult[R] {
	br := &BatchResult[R]{
		Results:         results,
		TotalCount:      len(results),
		TotalDurationMs: float64(elapsed.Microseconds()) / 1000.0,
	}
	var itemMs float64
	for _, r := range results {
		itemMs += r.DurationMs
		switch r.Status {
		case ItemStatusSuccess:
			br.SuccessCount++
			continue
		case ItemStatusTimeout:
			br.TimeoutCount++
		case ItemStatusCancelled:
			br.CancelledCount++
		}
		br.FailureCount++
	}
	if br.TotalCount > 0 {
		br.AvgItemDurationMs = itemMs / float64(br.TotalCount)
	}
	return br
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

// statusOf classifies err, falling back to the state of the batch context
// for errors that do not wrap a context error themselves.
func statusOf(bctx context.Context, err error) ItemStatus {
	switch {
	case err == nil:
		return ItemStatusSuccess
	case stdliberrors.Is(err, context.DeadlineExceeded):
		return ItemStatusTimeout
	case stdliberrors.Is(err, context.Canceled):
		return ItemStatusCancelled
	}
	switch bctx.Err() {
	case context.DeadlineExceeded:
		return ItemStatusTimeout
	case context.Canceled:
		return ItemStatusCancelled
	}
	return ItemStatusFailed
}
