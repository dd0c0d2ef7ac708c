// Package extraction decodes receipt-analysis results and checks them against the
// result schema before they reach the claim store.
package extraction

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/xpense/internal/core/domain"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "extraction-event.json"

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add extraction schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Decode validates raw against the schema and returns the event.
func (v *Validator) Decode(raw []byte) (domain.ExtractionEvent, error) {
	const op = "decode extraction event"

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.ExtractionEvent{}, domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return domain.ExtractionEvent{}, domain.WrapError(domain.ErrInvalidInput, op, err)
	}

	var event domain.ExtractionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return domain.ExtractionEvent{}, domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	return event, nil
}
