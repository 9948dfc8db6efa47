package protocol

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaURL = "markit://envelope.json"

// envelopeSchema describes every frame a view may send. Frames coming off a
// socket are validated before they are decoded.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "position": {
      "type": "object",
      "properties": {
        "line": {"type": "integer", "minimum": 0},
        "character": {"type": "integer", "minimum": 0}
      },
      "required": ["line", "character"]
    },
    "marker": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "content": {"type": "string"},
        "fileName": {"type": "string"},
        "range": {
          "type": "object",
          "properties": {
            "start": {"$ref": "#/$defs/position"},
            "end": {"$ref": "#/$defs/position"}
          },
          "required": ["start", "end"]
        },
        "isRoot": {"type": "boolean"},
        "parentId": {"type": "string"},
        "childIds": {"type": "array", "items": {"type": "string"}}
      },
      "required": ["id", "fileName", "range"]
    }
  },
  "type": "object",
  "properties": {
    "action": {
      "enum": ["init", "requestOpenDocument", "requestRemoveMarker", "requestActivateMarker"]
    }
  },
  "required": ["action"],
  "allOf": [
    {
      "if": {"properties": {"action": {"const": "requestOpenDocument"}}},
      "then": {"properties": {"data": {"$ref": "#/$defs/marker"}}, "required": ["data"]}
    },
    {
      "if": {"properties": {"action": {"enum": ["requestRemoveMarker", "requestActivateMarker"]}}},
      "then": {"properties": {"data": {"type": "string", "minLength": 1}}, "required": ["data"]}
    },
    {
      "if": {"properties": {"action": {"const": "init"}}},
      "then": {"properties": {"data": {"type": "null"}}}
    }
  ]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func viewSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile(envelopeSchemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateViewFrame checks a raw frame received from a view against the
// envelope schema.
func ValidateViewFrame(data []byte) error {
	sch, err := viewSchema()
	if err != nil {
		return fmt.Errorf("compile envelope schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse frame: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("invalid frame: %w", err)
	}
	return nil
}

// DecodeFromView validates and decodes a frame sent by a view.
func DecodeFromView(data []byte) (Message, error) {
	if err := ValidateViewFrame(data); err != nil {
		return nil, err
	}
	return Decode(data)
}
