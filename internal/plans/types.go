package plans

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind names a resolvable document family. It doubles as the document store kind.
type Kind string

const (
	KindMeteringPlan Kind = "metering_plan"
	KindRatingPlan   Kind = "rating_plan"
	KindPricingPlan  Kind = "pricing_plan"
	KindPlanMapping  Kind = "plan_mapping"
	KindResourceType Kind = "resource_type"
)

// MappingKind selects which plan family a mapping points to.
type MappingKind string

const (
	MappingMetering MappingKind = "metering"
	MappingRating   MappingKind = "rating"
	MappingPricing  MappingKind = "pricing"
)

// MappingKinds lists every mapping kind in seeding order.
var MappingKinds = []MappingKind{MappingMetering, MappingRating, MappingPricing}

// ParseMappingKind validates a mapping kind from a request path.
func ParseMappingKind(s string) (MappingKind, error) {
	switch k := MappingKind(s); k {
	case MappingMetering, MappingRating, MappingPricing:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMappingKind, s)
	}
}

// Measure is a raw quantity a metering plan accepts from usage documents.
type Measure struct {
	Name string `json:"name"`
	Unit string `json:"unit"`
}

// MeteringMetric derives a billable metric from measures. The function
// fields hold the formulas evaluated by the metering pipeline.
type MeteringMetric struct {
	Name       string `json:"name"`
	Unit       string `json:"unit"`
	Type       string `json:"type,omitempty"`
	Meter      string `json:"meter,omitempty"`
	Accumulate string `json:"accumulate,omitempty"`
	Aggregate  string `json:"aggregate,omitempty"`
	Summarize  string `json:"summarize,omitempty"`
}

type MeteringPlan struct {
	PlanID   string           `json:"plan_id"`
	Measures []Measure        `json:"measures"`
	Metrics  []MeteringMetric `json:"metrics"`
}

type RatingMetric struct {
	Name   string `json:"name"`
	Rate   string `json:"rate,omitempty"`
	Charge string `json:"charge,omitempty"`
}

type RatingPlan struct {
	PlanID  string         `json:"plan_id"`
	Metrics []RatingMetric `json:"metrics"`
}

// Price is the unit price of a metric in one country.
type Price struct {
	Country string          `json:"country"`
	Price   decimal.Decimal `json:"price"`
}

// MarshalJSON writes the price as a JSON number.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Country string      `json:"country"`
		Price   json.Number `json:"price"`
	}{
		Country: p.Country,
		Price:   json.Number(p.Price.String()),
	})
}

type PricingMetric struct {
	Name   string  `json:"name"`
	Prices []Price `json:"prices"`
}

type PricingPlan struct {
	PlanID  string          `json:"plan_id"`
	Metrics []PricingMetric `json:"metrics"`
}

// PlanMapping resolves a (resource type, plan name) pair to a plan id.
type PlanMapping struct {
	Kind         MappingKind `json:"kind"`
	ResourceType string      `json:"resource_type"`
	PlanName     string      `json:"plan_name"`
	PlanID       string      `json:"plan_id"`
}

// Key is the canonical id of the mapping in the document store.
func (m PlanMapping) Key() string {
	return MappingKey(m.Kind, m.ResourceType, m.PlanName)
}

// MappingKey builds the canonical mapping id.
func MappingKey(kind MappingKind, resourceType, planName string) string {
	return string(kind) + "/" + resourceType + "/" + planName
}

// ResourceType classifies a resource id for plan mapping.
type ResourceType struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}
