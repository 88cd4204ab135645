package plans

import (
	"embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed bundle/*.yaml
var bundleFS embed.FS

const (
	bundleMeteringPlans   = "metering_plans.yaml"
	bundleRatingPlans     = "rating_plans.yaml"
	bundlePricingPlans    = "pricing_plans.yaml"
	bundleResourceTypes   = "resource_types.yaml"
	bundleDefaultMappings = "default_mappings.yaml"
)

// loadBundleList decodes a bundled YAML list into T. Entries go through JSON so the
// json tags and custom unmarshalers apply, and each one is checked against the kind's schema.
func loadBundleList[T any](name string, kind Kind, v *Validator) ([]T, error) {
	raw, err := bundleFS.ReadFile("bundle/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %w", name, err)
	}

	var entries []interface{}
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse bundle %s: %w", name, err)
	}

	out := make([]T, 0, len(entries))
	for i, entry := range entries {
		body, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("bundle %s[%d]: %w", name, i, err)
		}
		var item T
		if err := json.Unmarshal(body, &item); err != nil {
			return nil, fmt.Errorf("bundle %s[%d]: %w", name, i, err)
		}
		if err := v.Validate(kind, item); err != nil {
			return nil, fmt.Errorf("bundle %s[%d]: %w", name, i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// loadBundle indexes a bundled list by key.
func loadBundle[T any](name string, kind Kind, v *Validator, key func(T) string) (map[string]T, error) {
	items, err := loadBundleList[T](name, kind, v)
	if err != nil {
		return nil, err
	}
	m := make(map[string]T, len(items))
	for _, item := range items {
		m[key(item)] = item
	}
	return m, nil
}
