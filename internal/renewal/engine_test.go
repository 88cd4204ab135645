package renewal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	v1 "github.com/aevon-lab/project-carryover/internal/api/v1"
	"github.com/aevon-lab/project-carryover/internal/core/period"
	"github.com/aevon-lab/project-carryover/internal/core/storage"
	"github.com/aevon-lab/project-carryover/internal/core/storage/memory"
	"github.com/aevon-lab/project-carryover/internal/reliable"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

// mockCollector for testing
type mockCollector struct {
	mu           sync.Mutex
	docs         map[string]*v1.UsageDocument
	getFail      map[string]int
	reportStatus int
	reportErr    error
	reported     []*v1.UsageDocument
	gets         int
}

func newMockCollector() *mockCollector {
	return &mockCollector{
		docs:         make(map[string]*v1.UsageDocument),
		getFail:      make(map[string]int),
		reportStatus: http.StatusCreated,
	}
}

func (m *mockCollector) GetUsage(ctx context.Context, id string) (*v1.UsageDocument, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if status, ok := m.getFail[id]; ok {
		return nil, status, fmt.Errorf("unexpected status %d", status)
	}
	doc, ok := m.docs[id]
	if !ok {
		return nil, http.StatusNotFound, fmt.Errorf("unexpected status %d", http.StatusNotFound)
	}
	return doc.Clone(), http.StatusOK, nil
}

func (m *mockCollector) ReportUsage(ctx context.Context, doc *v1.UsageDocument) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reportErr != nil {
		return 0, m.reportErr
	}
	m.reported = append(m.reported, doc)
	return m.reportStatus, nil
}

// failingStore returns an error for every scan.
type failingStore struct{ err error }

func (f failingStore) ScanCarryOver(ctx context.Context, q storage.RangeQuery) ([]storage.CarryOverRecord, error) {
	return nil, f.err
}

type tokenFunc func() string

func (f tokenFunc) Token() string { return f() }

// seed puts n carry-over records inside February 2024 and their usage documents.
func seed(t *testing.T, n int) (*memory.Store, *mockCollector) {
	t.Helper()

	store := memory.NewStore()
	collector := newMockCollector()
	base := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i := 0; i < n; i++ {
		ts := base + int64(i)
		id := fmt.Sprintf("u-%03d", i)
		store.PutCarryOver(storage.CarryOverRecord{Key: period.EncodeTimeKey(ts), CollectorID: id})
		collector.docs[id] = &v1.UsageDocument{
			ID:                 id,
			Start:              ts,
			End:                ts,
			OrganizationID:     "org-1",
			SpaceID:            "space-1",
			ResourceID:         "object-storage",
			PlanID:             "basic",
			ResourceInstanceID: fmt.Sprintf("ins-%d", i),
			MeasuredUsage: []v1.MeasuredUsage{
				{Measure: "previous_storage", Quantity: decimal.NewFromInt(100)},
			},
		}
	}
	return store, collector
}

func newTestEngine(t *testing.T, store storage.CarryOverStore, collector Collector, opts Options) *Engine {
	t.Helper()
	e := NewEngine(store, collector, nil, opts)
	e.now = func() time.Time { return testNow }
	t.Cleanup(e.Stop)
	return e
}

// started marks the engine as running without firing the immediate first cycle.
func started(e *Engine) *Engine {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	return e
}

func TestRunCycle_FullPageNeedsSecondScan(t *testing.T) {
	const pageSize = 5
	store, collector := seed(t, pageSize)
	e := newTestEngine(t, store, collector, Options{PageSize: pageSize})

	require.NoError(t, e.RunCycle(context.Background()))

	assert.Equal(t, 2, store.Scans(), "one full page, one empty page")
	assert.Len(t, collector.reported, pageSize)

	snap := e.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Cycles.Succeeded)
	assert.Equal(t, int64(2), snap.Cycles.PagesRead)
	assert.Equal(t, int64(pageSize), snap.Cycles.LastRecordsRenewed)
}

func TestRunCycle_ShortPageEndsScan(t *testing.T) {
	const pageSize = 5
	store, collector := seed(t, pageSize-1)
	e := newTestEngine(t, store, collector, Options{PageSize: pageSize})

	require.NoError(t, e.RunCycle(context.Background()))

	assert.Equal(t, 1, store.Scans())
	assert.Len(t, collector.reported, pageSize-1)
}

func TestRunCycle_PagesThroughWindow(t *testing.T) {
	store, collector := seed(t, 7)
	e := newTestEngine(t, store, collector, Options{PageSize: 3})

	require.NoError(t, e.RunCycle(context.Background()))

	assert.Equal(t, 3, store.Scans(), "3 + 3 + 1")
	assert.Len(t, collector.reported, 7)
	assert.Equal(t, int64(7), e.Stats().Snapshot().Usage.ReportSuccess)
}

func TestRunCycle_IgnoresRecordsOutsideWindow(t *testing.T) {
	store, collector := seed(t, 2)
	// current month and two months ago
	store.PutCarryOver(storage.CarryOverRecord{Key: period.EncodeTime(testNow), CollectorID: "now"})
	store.PutCarryOver(storage.CarryOverRecord{Key: period.EncodeTime(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)), CollectorID: "old"})
	// inside the ten minute slack before February
	slackID := "slack"
	slackTS := time.Date(2024, 1, 31, 23, 55, 0, 0, time.UTC)
	store.PutCarryOver(storage.CarryOverRecord{Key: period.EncodeTime(slackTS), CollectorID: slackID})
	doc := *collector.docs["u-000"]
	doc.ID = slackID
	collector.docs[slackID] = &doc

	e := newTestEngine(t, store, collector, Options{PageSize: 10})
	require.NoError(t, e.RunCycle(context.Background()))

	assert.Len(t, collector.reported, 3)
	assert.Equal(t, 3, collector.gets)
}

func TestRunCycle_ConflictIsNotFailure(t *testing.T) {
	store, collector := seed(t, 4)
	collector.reportStatus = http.StatusConflict
	e := newTestEngine(t, store, collector, Options{PageSize: 2})

	require.NoError(t, e.RunCycle(context.Background()))

	snap := e.Stats().Snapshot()
	assert.Equal(t, int64(4), snap.Usage.ReportConflict)
	assert.Equal(t, int64(0), snap.Usage.ReportFailures)
	assert.Equal(t, int64(0), snap.Usage.ReportSuccess)
	assert.Equal(t, int64(0), snap.Errors.ConsecutiveReportFailures)
	assert.Equal(t, 3, store.Scans())
}

func TestRunCycle_UnrenewableDocumentAbortsCycle(t *testing.T) {
	store, collector := seed(t, 3)
	collector.docs["u-002"].MeasuredUsage = nil
	e := newTestEngine(t, store, collector, Options{PageSize: 3})

	err := e.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrUsageReport)
	require.ErrorIs(t, err, ErrInvalidUsage)

	var cerr *CycleError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, OpReport, cerr.Op)
	assert.Equal(t, "u-002", cerr.DocID)

	snap := e.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Usage.ReportFailures)
	assert.Equal(t, int64(1), snap.Cycles.Failed)
	assert.Contains(t, snap.Errors.LastError, "u-002")
	assert.Len(t, collector.reported, 2)
}

func TestRunCycle_FetchFailureAbortsCycle(t *testing.T) {
	store, collector := seed(t, 6)
	collector.getFail["u-001"] = http.StatusInternalServerError
	e := newTestEngine(t, store, collector, Options{PageSize: 3})

	err := e.RunCycle(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUsageFetch)

	var cerr *CycleError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, OpGet, cerr.Op)
	assert.Equal(t, "u-001", cerr.DocID)
	assert.Equal(t, http.StatusInternalServerError, cerr.StatusCode)

	assert.Equal(t, 1, store.Scans(), "second page is never read")
	assert.Len(t, collector.reported, 2, "the rest of the page still completes")

	snap := e.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Cycles.Failed)
	assert.Equal(t, int64(1), snap.Usage.GetFailures)
	assert.Equal(t, int64(1), snap.Errors.ConsecutiveCycleFailures)
	assert.Contains(t, snap.Errors.LastError, "u-001")
	assert.Equal(t, testNow, snap.Errors.LastErrorAt)
}

func TestRunCycle_ReportFailureAbortsCycle(t *testing.T) {
	store, collector := seed(t, 3)
	collector.reportStatus = http.StatusBadRequest
	e := newTestEngine(t, store, collector, Options{PageSize: 3})

	err := e.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrUsageReport)

	var cerr *CycleError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, OpReport, cerr.Op)
	assert.Equal(t, http.StatusBadRequest, cerr.StatusCode)

	snap := e.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.Usage.ReportFailures)
	assert.Equal(t, int64(3), snap.Errors.ConsecutiveReportFailures)
	assert.Equal(t, int64(0), snap.Cycles.LastRecordsRenewed)
	assert.Equal(t, 1, store.Scans())
}

func TestRunCycle_ReportTransportErrorAbortsCycle(t *testing.T) {
	store, collector := seed(t, 1)
	collector.reportErr = reliable.ErrCircuitOpen
	e := newTestEngine(t, store, collector, Options{PageSize: 3})

	err := e.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrUsageReport)
	require.ErrorIs(t, err, reliable.ErrCircuitOpen)
}

func TestRunCycle_ScanFailure(t *testing.T) {
	scanErr := errors.New("db down")
	e := newTestEngine(t, failingStore{err: scanErr}, newMockCollector(), Options{})

	err := e.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrStoreScan)
	require.ErrorIs(t, err, scanErr)

	var cerr *CycleError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, OpScan, cerr.Op)
	assert.Equal(t, int64(1), e.Stats().Snapshot().Cycles.Failed)
}

func TestRunCycle_ReschedulesAfterRetryInterval(t *testing.T) {
	store, collector := seed(t, 1)
	e := started(newTestEngine(t, store, collector, Options{RetryInterval: time.Hour}))

	require.NoError(t, e.RunCycle(context.Background()))

	delay, scheduled := e.NextRun()
	assert.True(t, scheduled)
	assert.Equal(t, time.Hour, delay)
}

func TestRunCycle_ReschedulesAfterFailure(t *testing.T) {
	e := started(newTestEngine(t, failingStore{err: errors.New("db down")}, newMockCollector(), Options{}))

	require.Error(t, e.RunCycle(context.Background()))

	delay, scheduled := e.NextRun()
	assert.True(t, scheduled)
	assert.Equal(t, DefaultRetryInterval, delay)
}

func TestRunCycle_MissingTokenRetriesSoon(t *testing.T) {
	store, collector := seed(t, 1)
	e := NewEngine(store, collector, tokenFunc(func() string { return "" }), Options{SecurityEnabled: true})
	e.now = func() time.Time { return testNow }
	t.Cleanup(e.Stop)
	started(e)

	err := e.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrTokenUnavailable)

	delay, scheduled := e.NextRun()
	assert.True(t, scheduled)
	assert.Equal(t, TokenRetryDelay, delay)
	assert.Equal(t, 0, store.Scans(), "no I/O without a token")
	assert.Equal(t, 0, collector.gets)

	snap := e.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Usage.MissingToken)
	assert.True(t, snap.Errors.MissingToken)
}

func TestRunCycle_NotStartedDoesNotSchedule(t *testing.T) {
	store, collector := seed(t, 1)
	e := newTestEngine(t, store, collector, Options{})

	require.NoError(t, e.RunCycle(context.Background()))

	_, scheduled := e.NextRun()
	assert.False(t, scheduled)
}

func TestStop_CancelsPendingRun(t *testing.T) {
	store, collector := seed(t, 1)
	e := started(newTestEngine(t, store, collector, Options{RetryInterval: time.Hour}))
	require.NoError(t, e.RunCycle(context.Background()))

	e.Stop()
	e.Stop() // safe without a pending timer

	_, scheduled := e.NextRun()
	assert.False(t, scheduled)
}

// blockingCollector holds every GetUsage until release is closed.
type blockingCollector struct {
	*mockCollector
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingCollector) GetUsage(ctx context.Context, id string) (*v1.UsageDocument, int, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.mockCollector.GetUsage(ctx, id)
}

func TestShutdown_WaitsForRunningCycle(t *testing.T) {
	store, mock := seed(t, 1)
	collector := &blockingCollector{mockCollector: mock, entered: make(chan struct{}), release: make(chan struct{})}
	e := started(newTestEngine(t, store, collector, Options{RetryInterval: time.Hour}))

	cycleErr := make(chan error, 1)
	go func() { cycleErr <- e.RunCycle(context.Background()) }()
	<-collector.entered

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- e.Shutdown(context.Background()) }()

	select {
	case <-shutdownErr:
		t.Fatal("Shutdown returned while a cycle was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(collector.release)
	require.NoError(t, <-cycleErr)
	require.NoError(t, <-shutdownErr)

	assert.Len(t, mock.reported, 1, "the running cycle completes")
	_, scheduled := e.NextRun()
	assert.False(t, scheduled, "no reschedule after shutdown")
}

func TestShutdown_GivesUpWhenContextEnds(t *testing.T) {
	store, mock := seed(t, 1)
	collector := &blockingCollector{mockCollector: mock, entered: make(chan struct{}), release: make(chan struct{})}
	e := started(newTestEngine(t, store, collector, Options{}))

	go e.RunCycle(context.Background())
	<-collector.entered
	defer close(collector.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, e.Shutdown(ctx), context.DeadlineExceeded)
}

func TestStart_RunsFirstCycleImmediately(t *testing.T) {
	store, collector := seed(t, 2)
	e := newTestEngine(t, store, collector, Options{RetryInterval: time.Hour})

	e.Start(context.Background())

	require.Eventually(t, func() bool {
		return e.Stats().Snapshot().Cycles.Succeeded == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		delay, scheduled := e.NextRun()
		return scheduled && delay == time.Hour
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunCycle_EndToEndThroughHTTPCollector(t *testing.T) {
	t0 := time.Date(2024, 2, 20, 8, 30, 0, 0, time.UTC).UnixMilli()

	var (
		mu     sync.Mutex
		posted []map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/metering/collected/usage/U1":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{
				"id": "U1",
				"start": %d, "end": %d,
				"organization_id": "org-1", "space_id": "space-1",
				"resource_id": "object-storage", "plan_id": "basic",
				"resource_instance_id": "ins-1",
				"measured_usage": [{"measure": "previous_storage", "quantity": 100}],
				"processed": 1
			}`, t0, t0)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/metering/collected/usage":
			body, _ := io.ReadAll(r.Body)
			var doc map[string]interface{}
			if err := json.Unmarshal(body, &doc); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			mu.Lock()
			posted = append(posted, doc)
			mu.Unlock()
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := memory.NewStore()
	store.PutCarryOver(storage.CarryOverRecord{Key: period.EncodeTimeKey(t0), CollectorID: "U1"})

	client := reliable.NewClient(reliable.Options{Throttle: 4}, nil)
	e := started(newTestEngine(t, store, NewHTTPCollector(srv.URL, client), Options{
		PageSize:      client.Throttle(),
		RetryInterval: 24 * time.Hour,
	}))

	require.NoError(t, e.RunCycle(context.Background()))

	require.Len(t, posted, 1)
	doc := posted[0]
	monthStart := float64(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	assert.Equal(t, monthStart, doc["start"])
	assert.Equal(t, monthStart, doc["end"])
	assert.NotContains(t, doc, "id")
	assert.NotContains(t, doc, "processed")

	measures := doc["measured_usage"].([]interface{})
	require.Len(t, measures, 1)
	m := measures[0].(map[string]interface{})
	assert.Equal(t, "previous_storage", m["measure"])
	assert.Equal(t, float64(0), m["quantity"])

	snap := e.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Usage.GetSuccess)
	assert.Equal(t, int64(1), snap.Usage.ReportSuccess)
	assert.False(t, snap.Errors.NoReportEverHappened)

	delay, scheduled := e.NextRun()
	assert.True(t, scheduled)
	assert.Equal(t, 24*time.Hour, delay)
}
