package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document id is not present in the store.
var ErrNotFound = errors.New("document not found")

// CarryOverRecord is a time-keyed pointer to a usage document pending monthly renewal.
// Key is "t/" + Pad16(timestamp ms); CollectorID is the collector's usage document id.
type CarryOverRecord struct {
	Key         string `json:"key"`
	CollectorID string `json:"collector_id"`
}

// RangeQuery selects carry-over records with StartKey <= key < EndKey in key order,
// skipping the first Skip matches and returning at most Limit.
type RangeQuery struct {
	StartKey string
	EndKey   string
	Limit    int
	Skip     int
}

// CarryOverStore is the ordered key space written by the upstream metering pipeline.
// The renewal engine only reads it.
type CarryOverStore interface {
	ScanCarryOver(ctx context.Context, q RangeQuery) ([]CarryOverRecord, error)
}

// DocumentStore persists plan and mapping documents keyed by (kind, id).
type DocumentStore interface {
	// GetDocument returns the raw JSON body. Returns ErrNotFound if absent.
	GetDocument(ctx context.Context, kind, id string) ([]byte, error)

	// PutDocument writes the body under (kind, id). An existing document is overwritten.
	PutDocument(ctx context.Context, kind, id string, body []byte) error
}
