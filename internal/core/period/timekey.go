package period

import (
	"fmt"
	"time"
)

// TimeKeyPrefix namespaces time-bucketed keys in the carry-over store.
const TimeKeyPrefix = "t/"

// Pad16 renders a millisecond timestamp as a fixed-width, zero-padded 16 digit string.
// Negative timestamps are clamped to zero; carry-over records never predate the epoch.
func Pad16(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%016d", ms)
}

// EncodeTimeKey converts a millisecond timestamp into a lexicographically sortable key.
// For any a < b, EncodeTimeKey(a) < EncodeTimeKey(b), so a key range scan answers a time range query.
func EncodeTimeKey(ms int64) string {
	return TimeKeyPrefix + Pad16(ms)
}

// EncodeTime is EncodeTimeKey for a time.Time.
func EncodeTime(t time.Time) string {
	return EncodeTimeKey(t.UnixMilli())
}
