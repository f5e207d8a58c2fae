package llm

import (
	"fmt"
	"strings"

	"github.com/raphaelgruber/quizproc-go/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

// Stage tags accepted from category_tags responses.
var stageTags = []string{"both", "provisional", "regular"}

const textPayloadSchema = `{
  "type": "object",
  "required": ["content"],
  "properties": {
    "content": {"type": "string", "minLength": 1},
    "options": {"type": "array", "items": {"type": "string"}},
    "explanation": {"type": "string"}
  }
}`

const fillPayloadSchema = `{
  "type": "object",
  "minProperties": 1,
  "properties": {
    "content": {"type": "string"},
    "options": {"type": "array", "items": {"type": "string"}},
    "explanation": {"type": "string"}
  }
}`

const tagsPayloadSchema = `{
  "type": "object",
  "required": ["category", "stage_tag"],
  "properties": {
    "category": {"type": "string", "minLength": 1},
    "stage_tag": {"enum": ["both", "provisional", "regular"]},
    "topic_tags": {"type": "array", "items": {"type": "string"}}
  }
}`

// Validator checks model responses against a JSON schema per operation.
type Validator struct {
	schemas map[models.Operation]*gojsonschema.Schema
}

// NewValidator compiles the response schemas.
func NewValidator() (*Validator, error) {
	sources := map[models.Operation]string{
		models.OpTranslate:    textPayloadSchema,
		models.OpPolish:       textPayloadSchema,
		models.OpFillMissing:  fillPayloadSchema,
		models.OpCategoryTags: tagsPayloadSchema,
	}
	v := &Validator{schemas: make(map[models.Operation]*gojsonschema.Schema, len(sources))}
	for op, src := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", op, err)
		}
		v.schemas[op] = schema
	}
	return v, nil
}

// Validate checks a JSON document produced for op. The returned error lists
// every violation.
func (v *Validator) Validate(op models.Operation, data []byte) error {
	schema, ok := v.schemas[op]
	if !ok {
		return fmt.Errorf("no schema for operation %q", op)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate response: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, formatViolation(desc))
	}
	return fmt.Errorf("response does not match schema: %s", strings.Join(msgs, "; "))
}

func formatViolation(desc gojsonschema.ResultError) string {
	switch desc.Type() {
	case "required":
		return fmt.Sprintf("missing required field: %v", desc.Details()["property"])
	case "enum":
		return fmt.Sprintf("field %s: must be one of %s", desc.Field(), strings.Join(stageTags, ", "))
	case "invalid_type":
		return fmt.Sprintf("field %s: expected %v, got %v", desc.Field(), desc.Details()["expected"], desc.Details()["given"])
	}
	return desc.String()
}
