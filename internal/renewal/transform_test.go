package renewal

import (
	"encoding/json"
	"testing"
	"time"

	v1 "github.com/aevon-lab/project-carryover/internal/api/v1"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() *v1.UsageDocument {
	return &v1.UsageDocument{
		ID:                 "k/org-1/ins-1/t/0001707523200000",
		Start:              1707523200000,
		End:                1707523200000,
		OrganizationID:     "org-1",
		SpaceID:            "space-1",
		ConsumerID:         "app-1",
		ResourceID:         "linux-container",
		PlanID:             "standard",
		ResourceInstanceID: "ins-1",
		MeasuredUsage: []v1.MeasuredUsage{
			{Measure: "previous_instances", Quantity: decimal.NewFromInt(5)},
			{Measure: "current_instances", Quantity: decimal.NewFromInt(2)},
		},
		Extra: map[string]json.RawMessage{
			"processed_id": json.RawMessage(`"0001707523200500-0-0-1"`),
		},
	}
}

func TestRenew_ZeroesCarriedMeasures(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	out, err := Renew(sampleDoc(), now)
	require.NoError(t, err)

	require.Len(t, out.MeasuredUsage, 2)
	assert.Equal(t, "previous_instances", out.MeasuredUsage[0].Measure)
	assert.True(t, out.MeasuredUsage[0].Quantity.IsZero())
	assert.Equal(t, "current_instances", out.MeasuredUsage[1].Measure)
	assert.True(t, out.MeasuredUsage[1].Quantity.Equal(decimal.NewFromInt(2)))

	assert.Equal(t, "org-1", out.OrganizationID)
	assert.Equal(t, "space-1", out.SpaceID)
	assert.Equal(t, "app-1", out.ConsumerID)
	assert.Equal(t, "linux-container", out.ResourceID)
	assert.Equal(t, "standard", out.PlanID)
	assert.Equal(t, "ins-1", out.ResourceInstanceID)
}

func TestRenew_RefreshesWindow(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	out, err := Renew(sampleDoc(), now)
	require.NoError(t, err)
	assert.Equal(t, want, out.Start)
	assert.Equal(t, want, out.End)
}

func TestRenew_Sanitizes(t *testing.T) {
	out, err := Renew(sampleDoc(), time.Now())
	require.NoError(t, err)

	assert.Empty(t, out.ID)
	assert.Empty(t, out.Extra)

	body, err := json.Marshal(out)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.NotContains(t, fields, "id")
	assert.NotContains(t, fields, "processed_id")
	require.NoError(t, out.ValidateSchema())
}

func TestRenew_KeepsAbsentFieldsAbsent(t *testing.T) {
	var in v1.UsageDocument
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": "k/ins-1/t/0001707523200000",
		"start": 1707523200000,
		"end": 1707523200000,
		"resource_id": "object-storage",
		"resource_instance_id": "ins-1",
		"measured_usage": [{"measure": "previous_storage", "quantity": 7}]
	}`), &in))

	out, err := Renew(&in, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	body, err := json.Marshal(out)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &fields))

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"start", "end", "resource_id", "resource_instance_id", "measured_usage"}, keys)
}

func TestRenew_RejectsNonConformingDocument(t *testing.T) {
	doc := sampleDoc()
	doc.MeasuredUsage = nil

	_, err := Renew(doc, time.Now())
	require.ErrorIs(t, err, ErrInvalidUsage)
}

func TestRenew_DoesNotMutateInput(t *testing.T) {
	in := sampleDoc()
	_, err := Renew(in, time.Now())
	require.NoError(t, err)

	assert.True(t, in.MeasuredUsage[0].Quantity.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int64(1707523200000), in.Start)
	assert.Equal(t, "k/org-1/ins-1/t/0001707523200000", in.ID)
	assert.Contains(t, in.Extra, "processed_id")
}
