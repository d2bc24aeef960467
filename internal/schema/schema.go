// Package schema validates JSON values against a small subset of JSON
// Schema draft-07 (type, properties, required, enum, items) — enough to
// cover the request/response payloads of the RPC method catalogue and the
// user-supplied trigger event schema. It deliberately does not attempt
// full draft-07 coverage (oneOf/allOf/pattern/format/etc.); the orchestrator
// and the user's own trigger library own the authoritative schema, this is
// a fast client-side pre-check.
package schema

import (
	"encoding/json"
	"fmt"
)

// Schema is a JSON Schema document represented as a decoded map, the same
// shape a user or the RPC catalogue would hand in after json.Unmarshal.
type Schema map[string]any

// ValidationError describes a single schema violation, anchored to a JSON
// path so failures can be reported back to the orchestrator or the caller.
type ValidationError struct {
	Path    string
	Keyword string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Path, e.Keyword, e.Message)
}

// ValidationErrors is a non-empty slice of ValidationError, returned by
// Validate whenever at least one violation is found, even a single one.
type ValidationErrors []*ValidationError

func (es ValidationErrors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	return fmt.Sprintf("%d validation errors, first: %s", len(es), es[0].Error())
}

// Validate checks data against s, collecting every violation rather than
// stopping at the first one — callers that flatten the result into a single
// user-facing message (spec's event-validation-error path) want the full
// list, not just the first mismatch.
func Validate(s Schema, data any) error {
	var errs ValidationErrors
	validate(s, data, "$", &errs)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateJSON decodes raw into a generic value and validates it against s.
// Used when the payload arrives as json.RawMessage straight off the wire.
func ValidateJSON(s Schema, raw json.RawMessage) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return &ValidationError{Path: "$", Keyword: "type", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return Validate(s, data)
}

func validate(s Schema, data any, path string, errs *ValidationErrors) {
	if s == nil {
		return
	}

	schemaType, _ := s["type"].(string)
	if schemaType != "" {
		if !checkType(schemaType, data) {
			*errs = append(*errs, &ValidationError{
				Path: path, Keyword: "type",
				Message: fmt.Sprintf("expected %s, got %T", schemaType, data),
			})
			return
		}
	}

	switch schemaType {
	case "object":
		validateObject(s, data, path, errs)
	case "array":
		validateArray(s, data, path, errs)
	case "string":
		validateString(s, data, path, errs)
	case "":
		// No type constraint: still recurse into properties/items if present
		// so a schema composed only of "properties" (no "type":"object") is
		// still enforced, matching how loosely-specified trigger schemas in
		// the wild tend to be written.
		if _, ok := data.(map[string]any); ok {
			validateObject(s, data, path, errs)
		}
		if _, ok := data.([]any); ok {
			validateArray(s, data, path, errs)
		}
	}
}

func checkType(schemaType string, data any) bool {
	switch schemaType {
	case "object":
		_, ok := data.(map[string]any)
		return ok
	case "array":
		_, ok := data.([]any)
		return ok
	case "string":
		_, ok := data.(string)
		return ok
	case "number":
		switch data.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := data.(type) {
		case float64:
			return v == float64(int64(v))
		case int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := data.(bool)
		return ok
	case "null":
		return data == nil
	default:
		return true
	}
}

func validateObject(s Schema, data any, path string, errs *ValidationErrors) {
	obj, ok := data.(map[string]any)
	if !ok {
		*errs = append(*errs, &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected object, got %T", data)})
		return
	}

	if required, ok := s["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := obj[name]; !present {
				*errs = append(*errs, &ValidationError{Path: path, Keyword: "required", Message: "missing required field: " + name})
			}
		}
	}

	if props, ok := s["properties"].(map[string]any); ok {
		for field, value := range obj {
			propSchemaRaw, ok := props[field]
			if !ok {
				continue // extra fields are allowed, silently ignored
			}
			propSchema, ok := propSchemaRaw.(map[string]any)
			if !ok {
				continue
			}
			validate(Schema(propSchema), value, path+"."+field, errs)
		}
	}
}

func validateArray(s Schema, data any, path string, errs *ValidationErrors) {
	arr, ok := data.([]any)
	if !ok {
		*errs = append(*errs, &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected array, got %T", data)})
		return
	}
	items, ok := s["items"].(map[string]any)
	if !ok {
		return
	}
	for i, item := range arr {
		validate(Schema(items), item, fmt.Sprintf("%s[%d]", path, i), errs)
	}
}

func validateString(s Schema, data any, path string, errs *ValidationErrors) {
	str, ok := data.(string)
	if !ok {
		*errs = append(*errs, &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected string, got %T", data)})
		return
	}
	enum, ok := s["enum"].([]any)
	if !ok {
		return
	}
	for _, allowed := range enum {
		if a, ok := allowed.(string); ok && a == str {
			return
		}
	}
	enumJSON, _ := json.Marshal(enum)
	*errs = append(*errs, &ValidationError{Path: path, Keyword: "enum", Message: fmt.Sprintf("value %q not in allowed values: %s", str, enumJSON)})
}

// Flatten renders a ValidationErrors (or any error) as a single
// human-readable string, for embedding in SEND_WORKFLOW_ERROR messages.
func Flatten(err error) string {
	if err == nil {
		return ""
	}
	errs, ok := err.(ValidationErrors)
	if !ok {
		return err.Error()
	}
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return msg
}
