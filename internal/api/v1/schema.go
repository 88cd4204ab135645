package v1

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/usage.json
var usageSchemaJSON []byte

const usageSchemaURL = "https://carryover.schemas.local/v1/usage.schema.json"

var (
	usageSchemaOnce sync.Once
	usageSchema     *jsonschema.Schema
	usageSchemaErr  error
)

// UsageSchema returns the compiled canonical usage document schema.
func UsageSchema() (*jsonschema.Schema, error) {
	usageSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(usageSchemaURL, bytes.NewReader(usageSchemaJSON)); err != nil {
			usageSchemaErr = fmt.Errorf("usage schema load failed: %w", err)
			return
		}
		usageSchema, usageSchemaErr = c.Compile(usageSchemaURL)
		if usageSchemaErr != nil {
			usageSchemaErr = fmt.Errorf("usage schema compile failed: %w", usageSchemaErr)
		}
	})
	return usageSchema, usageSchemaErr
}

// UsageProperties lists the top-level properties declared by the canonical usage schema, sorted.
func UsageProperties() ([]string, error) {
	s, err := UsageSchema()
	if err != nil {
		return nil, err
	}
	props := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		props = append(props, name)
	}
	sort.Strings(props)
	return props, nil
}

// Sanitize projects the document onto the canonical usage schema, dropping every
// field the schema does not declare. Fields the receiver lacks stay absent.
// The receiver is not modified.
func (d *UsageDocument) Sanitize() (*UsageDocument, error) {
	props, err := UsageProperties()
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]struct{}, len(props))
	for _, p := range props {
		allowed[p] = struct{}{}
	}

	out := d.Clone()
	if _, ok := allowed["id"]; !ok {
		out.ID = ""
	}
	if _, ok := allowed["consumer_id"]; !ok {
		out.ConsumerID = ""
	}
	for k := range out.present {
		if _, ok := allowed[k]; !ok {
			delete(out.present, k)
		}
	}
	for k := range out.Extra {
		if _, ok := allowed[k]; !ok {
			delete(out.Extra, k)
		}
	}
	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out, nil
}

// ValidateSchema checks the document against the canonical usage schema.
func (d *UsageDocument) ValidateSchema() error {
	s, err := UsageSchema()
	if err != nil {
		return err
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal usage document: %w", err)
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("failed to decode usage document: %w", err)
	}
	return s.Validate(v)
}
