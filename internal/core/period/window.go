package period

import (
	"fmt"
	"time"
)

// Scale is the unit of a slack duration.
type Scale string

const (
	ScaleMonth  Scale = "M"
	ScaleDay    Scale = "D"
	ScaleHour   Scale = "h"
	ScaleMinute Scale = "m"
	ScaleSecond Scale = "s"
)

// scaleMillis maps each scale to its length in milliseconds.
// A month is counted as 31 days so a month of slack always covers a full calendar month.
var scaleMillis = map[Scale]int64{
	ScaleMonth:  31 * 24 * 60 * 60 * 1000,
	ScaleDay:    24 * 60 * 60 * 1000,
	ScaleHour:   60 * 60 * 1000,
	ScaleMinute: 60 * 1000,
	ScaleSecond: 1000,
}

// Slack widens the renewal window on the left to catch documents
// recorded slightly before the month boundary.
type Slack struct {
	Scale Scale
	Width int
}

// DefaultSlack is ten minutes.
var DefaultSlack = Slack{Scale: ScaleMinute, Width: 10}

// ParseSlack validates a (scale, width) pair.
// Accepts the short scale tags plus their long names (month, day, hour, minute, second).
func ParseSlack(scale string, width int) (Slack, error) {
	s, ok := normalizeScale(scale)
	if !ok {
		return Slack{}, fmt.Errorf("invalid slack scale %q (must be one of M, D, h, m, s)", scale)
	}
	if width <= 0 {
		return Slack{}, fmt.Errorf("slack width must be positive, got %d", width)
	}
	return Slack{Scale: s, Width: width}, nil
}

func normalizeScale(scale string) (Scale, bool) {
	switch scale {
	case "M", "month":
		return ScaleMonth, true
	case "D", "day":
		return ScaleDay, true
	case "h", "hour":
		return ScaleHour, true
	case "m", "minute":
		return ScaleMinute, true
	case "s", "second":
		return ScaleSecond, true
	}
	return "", false
}

// Millis returns width × scale in milliseconds.
func (s Slack) Millis() int64 {
	return int64(s.Width) * scaleMillis[s.Scale]
}

// Duration returns the slack as a time.Duration.
func (s Slack) Duration() time.Duration {
	return time.Duration(s.Millis()) * time.Millisecond
}

func (s Slack) String() string {
	return fmt.Sprintf("%d%s", s.Width, s.Scale)
}

// MonthStart returns the first instant of t's calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// PreviousMonth returns the first and last millisecond of the calendar month before t, in UTC.
func PreviousMonth(t time.Time) (start, end time.Time) {
	current := MonthStart(t)
	start = current.AddDate(0, -1, 0)
	end = current.Add(-time.Millisecond)
	return start, end
}

// Window is the time range scanned by one renewal cycle.
type Window struct {
	Start    time.Time // slack-adjusted start
	End      time.Time
	StartKey string
	EndKey   string
}

// RenewalWindow computes the previous UTC month, widened on the left by slack,
// and the carry-over keys bounding it.
func RenewalWindow(now time.Time, slack Slack) Window {
	start, end := PreviousMonth(now)
	start = start.Add(-slack.Duration())
	return Window{
		Start:    start,
		End:      end,
		StartKey: EncodeTime(start),
		EndKey:   EncodeTime(end),
	}
}
