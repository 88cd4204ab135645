package renewal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aevon-lab/project-carryover/internal/core/period"
	"github.com/aevon-lab/project-carryover/internal/core/storage"
	"github.com/aevon-lab/project-carryover/internal/reliable"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRetryInterval = 24 * time.Hour
	// TokenRetryDelay is how soon a cycle skipped for lack of a token is retried.
	TokenRetryDelay = 5 * time.Second
)

// Options controls the renewal schedule and page shape.
type Options struct {
	RetryInterval   time.Duration
	PageSize        int
	Slack           period.Slack
	SecurityEnabled bool
}

func (o Options) normalized() Options {
	n := o
	if n.RetryInterval <= 0 {
		n.RetryInterval = DefaultRetryInterval
	}
	if n.PageSize <= 0 {
		n.PageSize = 100
	}
	if n.Slack.Width <= 0 {
		n.Slack = period.DefaultSlack
	}
	return n
}

// Engine resubmits last month's carry-over usage against the current month.
// It owns its statistics and a single cancellable timer.
type Engine struct {
	store     storage.CarryOverStore
	collector Collector
	tokens    reliable.TokenSource
	opts      Options
	stats     *Stats
	now       func() time.Time

	mu        sync.Mutex
	baseCtx   context.Context
	timer     *time.Timer
	nextDelay time.Duration
	started   bool

	running atomic.Bool
	// cycleMu is held for the whole of a cycle so Shutdown can wait for it.
	cycleMu sync.Mutex
}

// NewEngine creates an engine. tokens may be nil when security is disabled.
func NewEngine(store storage.CarryOverStore, collector Collector, tokens reliable.TokenSource, opts Options) *Engine {
	if store == nil {
		panic("renewal: store must not be nil")
	}
	if collector == nil {
		panic("renewal: collector must not be nil")
	}
	opts = opts.normalized()
	if opts.SecurityEnabled && tokens == nil {
		panic("renewal: token source required when security is enabled")
	}
	return &Engine{
		store:     store,
		collector: collector,
		tokens:    tokens,
		opts:      opts,
		stats:     NewStats(),
		now:       func() time.Time { return time.Now().UTC() },
		baseCtx:   context.Background(),
	}
}

// Stats returns the engine's statistics.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// Start schedules the first cycle immediately. Cycles reschedule themselves until Stop.
// ctx bounds the I/O of scheduled cycles.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	e.started = true
	e.mu.Unlock()

	slog.Info("[Renewal] Starting usage renewal",
		"retry_interval", e.opts.RetryInterval,
		"page_size", e.opts.PageSize,
		"slack", e.opts.Slack.String(),
		"security", e.opts.SecurityEnabled,
	)
	e.schedule(0)
}

// Stop cancels the pending timer. A cycle already running completes but does not reschedule.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.started = false
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	slog.Info("[Renewal] Stopped")
}

// Shutdown stops the engine and waits for a running cycle to complete or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Stop()

	done := make(chan struct{})
	go func() {
		e.cycleMu.Lock()
		e.cycleMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for renewal cycle: %w", ctx.Err())
	}
}

func (e *Engine) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// NextRun reports the delay of the pending timer, if any.
func (e *Engine) NextRun() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextDelay, e.timer != nil
}

// schedule replaces any pending timer. It is a no-op once the engine is stopped.
func (e *Engine) schedule(delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	ctx := e.baseCtx
	e.nextDelay = delay
	e.timer = time.AfterFunc(delay, func() {
		if !e.isStarted() {
			return
		}
		if err := e.RunCycle(ctx); err != nil {
			slog.Error("[Renewal] Cycle failed", "error", err)
		}
	})
	slog.Debug("[Renewal] Next cycle scheduled", "delay", delay)
}

// RunCycle executes one renewal pass over the previous month and reschedules the next one.
func (e *Engine) RunCycle(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		slog.Warn("[Renewal] Cycle already running, skipping")
		return nil
	}
	defer e.running.Store(false)
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if e.opts.SecurityEnabled && e.tokens.Token() == "" {
		e.stats.tokenMissing(e.now())
		slog.Warn("[Renewal] System token not available, retrying", "delay", TokenRetryDelay)
		e.schedule(TokenRetryDelay)
		return ErrTokenUnavailable
	}

	defer e.schedule(e.opts.RetryInterval)

	now := e.now()
	window := period.RenewalWindow(now, e.opts.Slack)
	cycleID := uuid.New().String()

	e.stats.cycleStarted(cycleID, now, window.StartKey, window.EndKey)
	slog.Info("[Renewal] Cycle started",
		"cycle_id", cycleID,
		"window_start", window.Start,
		"window_end", window.End,
		"start_key", window.StartKey,
		"end_key", window.EndKey,
	)

	err := e.renewWindow(ctx, window, now)
	e.stats.cycleFinished(err, e.now())

	snap := e.stats.Snapshot()
	if err != nil {
		slog.Error("[Renewal] Cycle aborted",
			"cycle_id", cycleID,
			"records_renewed", snap.Cycles.LastRecordsRenewed,
			"error", err,
		)
		return err
	}

	slog.Info("[Renewal] Cycle complete",
		"cycle_id", cycleID,
		"records_renewed", snap.Cycles.LastRecordsRenewed,
		"duration_ms", snap.Cycles.LastDurationMillis,
	)
	return nil
}

// renewWindow pages through the window. Pages are strictly sequential; records in a
// page are renewed concurrently and the page is joined before the next scan.
func (e *Engine) renewWindow(ctx context.Context, window period.Window, now time.Time) error {
	skip := 0
	for {
		page, err := e.store.ScanCarryOver(ctx, storage.RangeQuery{
			StartKey: window.StartKey,
			EndKey:   window.EndKey,
			Limit:    e.opts.PageSize,
			Skip:     skip,
		})
		if err != nil {
			return &CycleError{Op: OpScan, Err: fmt.Errorf("%w: %w", ErrStoreScan, err)}
		}
		e.stats.pageRead()

		if len(page) == 0 {
			return nil
		}

		slog.Debug("[Renewal] Renewing page", "skip", skip, "records", len(page))
		if err := e.renewPage(ctx, page, now); err != nil {
			return err
		}

		if len(page) < e.opts.PageSize {
			return nil
		}
		skip += len(page)
	}
}

// renewPage waits for every record in the page and returns the first failure.
func (e *Engine) renewPage(ctx context.Context, page []storage.CarryOverRecord, now time.Time) error {
	var g errgroup.Group
	var done atomic.Int64
	for _, rec := range page {
		g.Go(func() error {
			if err := e.renewRecord(ctx, rec, now); err != nil {
				return err
			}
			done.Add(1)
			return nil
		})
	}
	err := g.Wait()
	slog.Debug("[Renewal] Page finished", "completed", done.Load(), "records", len(page))
	return err
}

func (e *Engine) renewRecord(ctx context.Context, rec storage.CarryOverRecord, now time.Time) error {
	doc, status, err := e.collector.GetUsage(ctx, rec.CollectorID)
	if err != nil {
		cerr := &CycleError{Op: OpGet, DocID: rec.CollectorID, StatusCode: status, Err: fmt.Errorf("%w: %w", ErrUsageFetch, err)}
		e.stats.getFailed(cerr, e.now())
		return cerr
	}
	e.stats.getSucceeded()

	renewed, err := Renew(doc, now)
	if err != nil {
		cerr := &CycleError{Op: OpReport, DocID: rec.CollectorID, Err: fmt.Errorf("%w: %w", ErrUsageReport, err)}
		e.stats.reportFailed(cerr, e.now())
		return cerr
	}

	status, err = e.collector.ReportUsage(ctx, renewed)
	switch {
	case err != nil:
		cerr := &CycleError{Op: OpReport, DocID: rec.CollectorID, Err: fmt.Errorf("%w: %w", ErrUsageReport, err)}
		e.stats.reportFailed(cerr, e.now())
		return cerr
	case status == http.StatusCreated:
		e.stats.reportSucceeded()
	case status == http.StatusConflict:
		e.stats.reportConflicted()
		slog.Debug("[Renewal] Usage already reported", "doc_id", rec.CollectorID)
	default:
		cerr := &CycleError{Op: OpReport, DocID: rec.CollectorID, StatusCode: status, Err: fmt.Errorf("%w: unexpected status %d", ErrUsageReport, status)}
		e.stats.reportFailed(cerr, e.now())
		return cerr
	}

	e.stats.recordRenewed()
	return nil
}
