package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// documentSchema validates the stable wire shape of a snapshot document
// before any of its contents are interpreted.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "created_at", "user_id", "tables"],
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "created_at": {"type": "string"},
    "user_id": {"type": "string", "minLength": 1},
    "tables": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {"type": "object"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse snapshot schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("snapshot.json", doc); err != nil {
			schemaErr = fmt.Errorf("failed to register snapshot schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile("snapshot.json")
	})
	return schema, schemaErr
}

// Decode parses and validates raw bytes into a Document. Validation
// failures are reported as ErrMalformedInput so callers can map them to
// a client error.
func Decode(data []byte) (*Document, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedInput, err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return &doc, nil
}
