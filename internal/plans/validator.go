package plans

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/singleflight"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://carryover.schemas.local/v1/plans/"

// Validator checks documents against the static schema of their kind.
type Validator struct {
	mu           sync.RWMutex
	compiled     map[Kind]*jsonschema.Schema
	compileGroup singleflight.Group // Dedupe concurrent compilation
}

// NewValidator creates a validator. Schemas are compiled on first use.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[Kind]*jsonschema.Schema)}
}

// Validate marshals v and checks it against the schema for kind.
// Violations are returned as *ValidationError or *MultiValidationError.
func (v *Validator) Validate(kind Kind, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return v.ValidateJSON(kind, body)
}

// ValidateJSON checks a raw JSON document against the schema for kind, so fields
// a typed decode would drop are still seen.
func (v *Validator) ValidateJSON(kind Kind, body []byte) error {
	s, err := v.getOrCompile(kind)
	if err != nil {
		return err
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", kind, err)
	}

	if err := s.Validate(doc); err != nil {
		return fromSchemaError(string(kind), err)
	}
	return nil
}

func (v *Validator) getOrCompile(kind Kind) (*jsonschema.Schema, error) {
	v.mu.RLock()
	if s, ok := v.compiled[kind]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	result, err, _ := v.compileGroup.Do(string(kind), func() (interface{}, error) {
		v.mu.RLock()
		if s, ok := v.compiled[kind]; ok {
			v.mu.RUnlock()
			return s, nil
		}
		v.mu.RUnlock()

		s, err := compileSchema(kind)
		if err != nil {
			return nil, err
		}

		v.mu.Lock()
		v.compiled[kind] = s
		v.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*jsonschema.Schema), nil
}

func compileSchema(kind Kind) (*jsonschema.Schema, error) {
	name := string(kind) + ".json"
	raw, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, fmt.Errorf("no schema for %s: %w", kind, err)
	}

	url := schemaBaseURL + name
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema load failed for %s: %w", kind, err)
	}
	s, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed for %s: %w", kind, err)
	}
	return s, nil
}
