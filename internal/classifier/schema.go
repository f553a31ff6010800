// internal/classifier/schema.go
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qri-io/jsonschema"
)

const commitSchemaJSON = `{
  "type": "object",
  "required": ["tech_tags", "work_category"],
  "properties": {
    "tech_tags": {
      "type": "array",
      "maxItems": 10,
      "items": {"type": "string", "minLength": 1, "maxLength": 40}
    },
    "work_category": {
      "type": "string",
      "enum": ["feature", "bugfix", "refactor", "test", "docs", "ci", "style", "performance", "security", "dependency"]
    }
  }
}`

const repositorySchemaJSON = `{
  "type": "object",
  "required": ["domain", "frameworks", "project_type"],
  "properties": {
    "domain": {"type": "string", "minLength": 1},
    "domain_detail": {"type": "string"},
    "frameworks": {"type": "array", "items": {"type": "string"}},
    "tools": {"type": "array", "items": {"type": "string"}},
    "infrastructure": {"type": "array", "items": {"type": "string"}},
    "project_type": {"type": "string", "minLength": 1}
  }
}`

var errMalformed = errors.New("malformed model output")

func mustSchema(raw string) *jsonschema.Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(raw), rs); err != nil {
		panic(fmt.Sprintf("invalid embedded schema: %v", err))
	}
	return rs
}

var (
	commitSchema     = mustSchema(commitSchemaJSON)
	repositorySchema = mustSchema(repositorySchemaJSON)
)

// decode validates raw model output against schema and unmarshals it into out.
func decode(ctx context.Context, schema *jsonschema.Schema, raw string, out any) error {
	data := []byte(stripFences(raw))
	keyErrs, err := schema.ValidateBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if len(keyErrs) > 0 {
		return fmt.Errorf("%w: %s", errMalformed, keyErrs[0].Error())
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	return nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
