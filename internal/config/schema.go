package config

import (
	"encoding/json"
	"strings"

	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema is the structural contract for drops.yaml. Semantic rules
// (replica ordering, pair symmetry) live in Definition.Validate.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["pairs"],
  "properties": {
    "version": {"type": "integer"},
    "pairs": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["primary", "recovery", "service"],
        "properties": {
          "primary": {"$ref": "#/definitions/environment"},
          "recovery": {"$ref": "#/definitions/environment"},
          "service": {"type": "string", "minLength": 1},
          "image": {"type": "string"},
          "port": {"type": "integer", "minimum": 1, "maximum": 65535},
          "namespace": {"type": "string"},
          "routing": {
            "type": "object",
            "properties": {
              "provider": {"type": "string", "enum": ["route53", "static"]},
              "hostedZoneId": {"type": "string"},
              "recordName": {"type": "string"},
              "ttlSeconds": {"type": "integer", "minimum": 1}
            }
          }
        }
      }
    },
    "orchestrator": {
      "type": "object",
      "properties": {
        "failThreshold": {"type": "integer", "minimum": 1},
        "pollIntervalSeconds": {"type": "integer", "minimum": 1},
        "rtoBudgetSeconds": {"type": "integer", "minimum": 1},
        "rollbackGraceSeconds": {"type": "integer", "minimum": 1},
        "canaryReplicas": {"type": "integer", "minimum": 1},
        "fullReplicas": {"type": "integer", "minimum": 1},
        "validationSampleCount": {"type": "integer", "minimum": 1},
        "validationMinSuccess": {"type": "number", "minimum": 0, "maximum": 1},
        "stageBudgetSeconds": {
          "type": "object",
          "additionalProperties": {"type": "integer", "minimum": 1}
        }
      }
    },
    "notifications": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "url"],
        "properties": {
          "type": {"type": "string", "enum": ["webhook", "slack"]},
          "url": {"type": "string", "minLength": 1},
          "channel": {"type": "string"},
          "eventTypes": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "storage": {
      "type": "object",
      "properties": {
        "dir": {"type": "string"}
      }
    }
  },
  "definitions": {
    "environment": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "region": {"type": "string"},
        "checks": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "type", "endpoint"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "type": {"type": "string"},
              "endpoint": {"type": "string", "minLength": 1},
              "timeout_ms": {"type": "integer", "minimum": 1}
            }
          }
        }
      }
    }
  }
}`

func validateSchema(def *Definition) error {
	jsonData, err := json.Marshal(def)
	if err != nil {
		return droerrors.UserError{
			Message: "Failed to prepare configuration for validation",
			Details: err.Error(),
			Err:     err,
		}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return droerrors.UserError{
			Message: "Schema validation error",
			Details: err.Error(),
			Err:     err,
		}
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		return droerrors.ConfigError{
			Message:    "configuration does not match the expected structure:\n  - " + strings.Join(messages, "\n  - "),
			Suggestion: "Compare your drops.yaml against the documented format",
		}
	}

	return nil
}
