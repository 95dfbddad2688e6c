package nlu

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidResponse is returned when a model answer is not the JSON object
// the prompt asked for.
var ErrInvalidResponse = errors.New("invalid model response")

const interpretationSchema = `{
  "type": "object",
  "required": ["ops"],
  "properties": {
    "ops": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["op"],
        "properties": {
          "op":    {"type": "string", "minLength": 1},
          "field": {"type": "string"},
          "value": {"type": "string"},
          "area":  {"type": "string"},
          "areas": {"type": "array", "items": {"type": "string"}},
          "text":  {"type": "string"}
        }
      }
    },
    "analysis": {"type": "string"},
    "meta": {
      "type": "object",
      "properties": {
        "is_new_incident_candidate": {"type": "boolean"},
        "is_place_correction_only":  {"type": "boolean"}
      }
    }
  }
}`

const visionSchema = `{
  "type": "object",
  "required": ["interpretation"],
  "properties": {
    "interpretation": {"type": "string"},
    "tags":       {"type": "array", "items": {"type": "string"}},
    "safety":     {"type": "array", "items": {"type": "string"}},
    "area_hints": {"type": "array", "items": {"type": "string"}}
  }
}`

const areaSchema = `{
  "type": "object",
  "required": ["area"],
  "properties": {
    "area": {"type": "string"}
  }
}`

const placeSchema = `{
  "type": "object",
  "required": ["found"],
  "properties": {
    "found":      {"type": "boolean"},
    "label":      {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var (
	interpretationValidator = mustSchema(interpretationSchema)
	visionValidator         = mustSchema(visionSchema)
	areaValidator           = mustSchema(areaSchema)
	placeValidator          = mustSchema(placeSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return s
}

// decodeJSON validates a model answer against schema and decodes it into v.
// Markdown code fences around the object are tolerated.
func decodeJSON(content string, schema *gojsonschema.Schema, v any) error {
	raw := extractObject(content)
	if raw == "" {
		return fmt.Errorf("%w: no JSON object in %q", ErrInvalidResponse, truncate(content, 120))
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidResponse, strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func extractObject(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
