package v1

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PreviousMeasurePrefix marks measures that carry the cumulative quantity of the prior period.
const PreviousMeasurePrefix = "previous"

// MeasuredUsage is one measured quantity in a usage document.
type MeasuredUsage struct {
	Measure  string          `json:"measure"`
	Quantity decimal.Decimal `json:"quantity"`
}

// MarshalJSON emits the quantity as a JSON number, which is what collectors expect.
func (m MeasuredUsage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Measure  string      `json:"measure"`
		Quantity json.Number `json:"quantity"`
	}{
		Measure:  m.Measure,
		Quantity: json.Number(m.Quantity.String()),
	})
}

// IsCarried reports whether the measure carries quantity forward from the previous period.
func (m MeasuredUsage) IsCarried() bool {
	return strings.HasPrefix(m.Measure, PreviousMeasurePrefix)
}

// UsageDocument is a resource usage document owned by the collector service.
// Start and End are epoch milliseconds.
type UsageDocument struct {
	// ID is the collector's document id. It is store bookkeeping, not part of the usage schema.
	ID string `json:"id,omitempty"`

	Start              int64           `json:"start"`
	End                int64           `json:"end"`
	OrganizationID     string          `json:"organization_id"`
	SpaceID            string          `json:"space_id"`
	ConsumerID         string          `json:"consumer_id,omitempty"`
	ResourceID         string          `json:"resource_id"`
	PlanID             string          `json:"plan_id"`
	ResourceInstanceID string          `json:"resource_instance_id"`
	MeasuredUsage      []MeasuredUsage `json:"measured_usage"`

	// Extra keeps every field outside the typed envelope (processed stamps, store revisions, ...).
	Extra map[string]json.RawMessage `json:"-"`

	// present records the typed fields a decoded document carried. Nil for documents
	// built in code, which encode every typed field.
	present map[string]struct{}
}

// usageEnvelope breaks the MarshalJSON/UnmarshalJSON recursion.
type usageEnvelope UsageDocument

var typedUsageFields = map[string]struct{}{
	"id":                   {},
	"start":                {},
	"end":                  {},
	"organization_id":      {},
	"space_id":             {},
	"consumer_id":          {},
	"resource_id":          {},
	"plan_id":              {},
	"resource_instance_id": {},
	"measured_usage":       {},
}

// UnmarshalJSON decodes the typed envelope and keeps the remaining fields in Extra.
func (d *UsageDocument) UnmarshalJSON(data []byte) error {
	var env usageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	env.present = make(map[string]struct{}, len(typedUsageFields))
	for k, v := range raw {
		if _, typed := typedUsageFields[k]; typed {
			env.present[k] = struct{}{}
			continue
		}
		if env.Extra == nil {
			env.Extra = make(map[string]json.RawMessage)
		}
		env.Extra[k] = v
	}

	*d = UsageDocument(env)
	return nil
}

// MarshalJSON encodes the typed envelope merged with Extra. A decoded document
// only emits the typed fields it was decoded with.
func (d UsageDocument) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(usageEnvelope(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 && d.present == nil {
		return body, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	if d.present != nil {
		for k := range typedUsageFields {
			if _, ok := d.present[k]; !ok {
				delete(merged, k)
			}
		}
	}
	for k, v := range d.Extra {
		if _, typed := typedUsageFields[k]; typed {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy; the renewal path never mutates a fetched document.
func (d *UsageDocument) Clone() *UsageDocument {
	c := *d
	if d.MeasuredUsage != nil {
		c.MeasuredUsage = make([]MeasuredUsage, len(d.MeasuredUsage))
		copy(c.MeasuredUsage, d.MeasuredUsage)
	}
	if d.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	if d.present != nil {
		c.present = make(map[string]struct{}, len(d.present))
		for k := range d.present {
			c.present[k] = struct{}{}
		}
	}
	return &c
}

// SetWindow sets start and end, adding them to a decoded document that lacked them.
func (d *UsageDocument) SetWindow(start, end int64) {
	d.Start = start
	d.End = end
	if d.present != nil {
		d.present["start"] = struct{}{}
		d.present["end"] = struct{}{}
	}
}

// Validate checks the fields the renewal path depends on.
func (d *UsageDocument) Validate() error {
	if d.ResourceInstanceID == "" {
		return fmt.Errorf("resource_instance_id is required")
	}
	if len(d.MeasuredUsage) == 0 {
		return fmt.Errorf("measured_usage is required")
	}
	for i, m := range d.MeasuredUsage {
		if m.Measure == "" {
			return fmt.Errorf("measured_usage[%d].measure is required", i)
		}
	}
	return nil
}
