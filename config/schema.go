package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/yejue/liteboty/errors"
)

// documentSchema accepts both schema versions.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "version": {"type": "string", "enum": ["1.0", "2.0"]},
    "REDIS": {
      "type": "object",
      "properties": {
        "driver": {"type": "string", "enum": ["redis", "nats", "memory"]},
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 0, "maximum": 65535},
        "password": {"type": ["string", "null"]},
        "db": {"type": "integer", "minimum": 0},
        "socket_timeout": {"type": ["number", "null"], "minimum": 0},
        "socket_connect_timeout": {"type": ["number", "null"], "minimum": 0},
        "decode_responses": {"type": "boolean"},
        "url": {"type": "string"}
      }
    },
    "LOGGING": {
      "type": "object",
      "properties": {
        "level": {"type": "string"},
        "format": {"type": "string"},
        "log_dir": {"type": ["string", "null"]},
        "max_bytes": {"type": "integer", "minimum": 0},
        "backup_count": {"type": "integer", "minimum": 0}
      }
    },
    "METRICS": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "addr": {"type": "string"}
      }
    },
    "BOT": {
      "type": "object",
      "properties": {
        "roster_interval": {"type": "number", "minimum": 0},
        "reload_debounce": {"type": "number", "minimum": 0},
        "stop_timeout": {"type": "number", "minimum": 0}
      }
    },
    "SERVICES": {
      "oneOf": [
        {"type": "array", "items": {"type": "string", "minLength": 1}},
        {"type": "object", "additionalProperties": {"$ref": "#/definitions/service"}}
      ]
    },
    "SERVICE_CONFIG": {"type": "object", "additionalProperties": {"type": "object"}},
    "SERVICE_PRIORITIES": {"type": "object", "additionalProperties": {"type": "integer"}}
  },
  "definitions": {
    "service": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "priority": {"type": "integer"},
        "config": {"type": "object"},
        "isolation": {"type": "string", "enum": ["", "inline", "process"]},
        "service_entry": {"type": "string"}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// validateDocument checks a JSON document against documentSchema.
func validateDocument(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; "))
}
