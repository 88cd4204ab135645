package renewal

import (
	"sync"
	"time"
)

// Stats holds the engine's counters and last-error state. It is not persisted.
type Stats struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of Stats, shaped for the status endpoint.
type StatsSnapshot struct {
	Cycles CycleCounters `json:"cycles"`
	Usage  UsageCounters `json:"usage"`
	Errors ErrorState    `json:"errors"`
}

type CycleCounters struct {
	Started             int64     `json:"started"`
	Succeeded           int64     `json:"succeeded"`
	Failed              int64     `json:"failed"`
	PagesRead           int64     `json:"pages_read"`
	LastCycleID         string    `json:"last_cycle_id,omitempty"`
	LastStartedAt       time.Time `json:"last_started_at"`
	LastFinishedAt      time.Time `json:"last_finished_at"`
	LastDurationMillis  int64     `json:"last_duration_ms"`
	LastWindowStartKey  string    `json:"last_window_start_key,omitempty"`
	LastWindowEndKey    string    `json:"last_window_end_key,omitempty"`
	LastRecordsRenewed  int64     `json:"last_records_renewed"`
	TotalRecordsRenewed int64     `json:"total_records_renewed"`
}

type UsageCounters struct {
	MissingToken   int64 `json:"missing_token"`
	GetSuccess     int64 `json:"get_success"`
	GetFailures    int64 `json:"get_failures"`
	ReportSuccess  int64 `json:"report_success"`
	ReportConflict int64 `json:"report_conflict"`
	ReportFailures int64 `json:"report_failures"`
}

type ErrorState struct {
	MissingToken              bool      `json:"missing_token"`
	NoGetEverHappened         bool      `json:"no_get_ever_happened"`
	NoReportEverHappened      bool      `json:"no_report_ever_happened"`
	ConsecutiveGetFailures    int64     `json:"consecutive_get_failures"`
	ConsecutiveReportFailures int64     `json:"consecutive_report_failures"`
	ConsecutiveCycleFailures  int64     `json:"consecutive_cycle_failures"`
	LastError                 string    `json:"last_error,omitempty"`
	LastErrorAt               time.Time `json:"last_error_at"`
}

// NewStats returns zeroed statistics.
func NewStats() *Stats {
	return &Stats{s: StatsSnapshot{Errors: ErrorState{
		NoGetEverHappened:    true,
		NoReportEverHappened: true,
	}}}
}

// Snapshot returns a copy of the current state.
func (st *Stats) Snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

func (st *Stats) update(fn func(s *StatsSnapshot)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
}

func (st *Stats) tokenMissing(at time.Time) {
	st.update(func(s *StatsSnapshot) {
		s.Usage.MissingToken++
		s.Errors.MissingToken = true
		s.Errors.LastError = ErrTokenUnavailable.Error()
		s.Errors.LastErrorAt = at
	})
}

func (st *Stats) cycleStarted(id string, at time.Time, startKey, endKey string) {
	st.update(func(s *StatsSnapshot) {
		s.Errors.MissingToken = false
		s.Cycles.Started++
		s.Cycles.LastCycleID = id
		s.Cycles.LastStartedAt = at
		s.Cycles.LastWindowStartKey = startKey
		s.Cycles.LastWindowEndKey = endKey
		s.Cycles.LastRecordsRenewed = 0
	})
}

func (st *Stats) pageRead() {
	st.update(func(s *StatsSnapshot) { s.Cycles.PagesRead++ })
}

func (st *Stats) recordRenewed() {
	st.update(func(s *StatsSnapshot) {
		s.Cycles.LastRecordsRenewed++
		s.Cycles.TotalRecordsRenewed++
	})
}

func (st *Stats) getSucceeded() {
	st.update(func(s *StatsSnapshot) {
		s.Usage.GetSuccess++
		s.Errors.NoGetEverHappened = false
		s.Errors.ConsecutiveGetFailures = 0
	})
}

func (st *Stats) getFailed(err error, at time.Time) {
	st.update(func(s *StatsSnapshot) {
		s.Usage.GetFailures++
		s.Errors.ConsecutiveGetFailures++
		s.Errors.LastError = err.Error()
		s.Errors.LastErrorAt = at
	})
}

func (st *Stats) reportSucceeded() {
	st.update(func(s *StatsSnapshot) {
		s.Usage.ReportSuccess++
		s.Errors.NoReportEverHappened = false
		s.Errors.ConsecutiveReportFailures = 0
	})
}

// reportConflicted counts a 409 apart from successes and failures; the streak is left alone.
func (st *Stats) reportConflicted() {
	st.update(func(s *StatsSnapshot) {
		s.Usage.ReportConflict++
		s.Errors.NoReportEverHappened = false
	})
}

func (st *Stats) reportFailed(err error, at time.Time) {
	st.update(func(s *StatsSnapshot) {
		s.Usage.ReportFailures++
		s.Errors.ConsecutiveReportFailures++
		s.Errors.LastError = err.Error()
		s.Errors.LastErrorAt = at
	})
}

func (st *Stats) cycleFinished(err error, at time.Time) {
	st.update(func(s *StatsSnapshot) {
		s.Cycles.LastFinishedAt = at
		if !s.Cycles.LastStartedAt.IsZero() {
			s.Cycles.LastDurationMillis = at.Sub(s.Cycles.LastStartedAt).Milliseconds()
		}
		if err == nil {
			s.Cycles.Succeeded++
			s.Errors.ConsecutiveCycleFailures = 0
			return
		}
		s.Cycles.Failed++
		s.Errors.ConsecutiveCycleFailures++
		s.Errors.LastError = err.Error()
		s.Errors.LastErrorAt = at
	})
}
