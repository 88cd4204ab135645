package renewal

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenUnavailable means security is enabled and no bearer token has been obtained yet.
	ErrTokenUnavailable = errors.New("system token unavailable")
	// ErrStoreScan wraps a failed carry-over range scan.
	ErrStoreScan = errors.New("carry-over scan failed")
	// ErrUsageFetch wraps a transport error or non-200 response fetching a usage document.
	ErrUsageFetch = errors.New("usage fetch failed")
	// ErrUsageReport wraps a transport error or a response other than 201/409 reporting usage.
	ErrUsageReport = errors.New("usage report failed")
	// ErrInvalidUsage marks a usage document the renewal path cannot work with.
	ErrInvalidUsage = errors.New("invalid usage document")
)

// Op names the cycle step that failed.
type Op string

const (
	OpScan   Op = "scan"
	OpGet    Op = "get"
	OpReport Op = "report"
)

// CycleError aborts a renewal cycle. It carries the failing step, the document
// involved and the collector's status code when there was a response.
type CycleError struct {
	Op         Op
	DocID      string
	StatusCode int
	Err        error
}

func (e *CycleError) Error() string {
	if e.DocID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Op, e.DocID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.DocID, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
