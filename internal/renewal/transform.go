package renewal

import (
	"fmt"
	"time"

	v1 "github.com/aevon-lab/project-carryover/internal/api/v1"
	"github.com/aevon-lab/project-carryover/internal/core/period"
	"github.com/shopspring/decimal"
)

// Renew derives the opening usage document of the current month from a fetched document.
//
// Carried measures (prefix "previous") are zeroed so the prior period's cumulative
// quantity is not counted twice, start and end both move to the first instant of
// now's UTC month, and fields outside the canonical usage schema are dropped.
// The result must conform to that schema. The input document is not modified.
func Renew(doc *v1.UsageDocument, now time.Time) (*v1.UsageDocument, error) {
	out := doc.Clone()

	for i := range out.MeasuredUsage {
		if out.MeasuredUsage[i].IsCarried() {
			out.MeasuredUsage[i].Quantity = decimal.Zero
		}
	}

	monthStart := period.MonthStart(now).UnixMilli()
	out.SetWindow(monthStart, monthStart)

	clean, err := out.Sanitize()
	if err != nil {
		return nil, err
	}
	if err := clean.ValidateSchema(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUsage, err)
	}
	return clean, nil
}
