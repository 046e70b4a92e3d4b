// Package validation checks cron job documents against an embedded JSON schema
// before they reach the scheduler.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"missioncontrol/internal/core"
)

const cronJobSchemaURL = "cron_job.json"

const cronJobSchema = `{
  "type": "object",
  "required": ["name", "schedule", "payload"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 200},
    "enabled": {"type": "boolean"},
    "schedule": {
      "type": "object",
      "required": ["kind"],
      "additionalProperties": false,
      "properties": {
        "kind": {"enum": ["cron", "every", "at"]},
        "expr": {"type": "string", "minLength": 1},
        "every_ms": {"type": "integer", "minimum": 1},
        "at": {"type": "string", "minLength": 1},
        "tz": {"type": "string"}
      },
      "allOf": [
        {"if": {"properties": {"kind": {"const": "cron"}}}, "then": {"required": ["expr"]}},
        {"if": {"properties": {"kind": {"const": "every"}}}, "then": {"required": ["every_ms"]}},
        {"if": {"properties": {"kind": {"const": "at"}}}, "then": {"required": ["at"]}}
      ]
    },
    "session_target": {"enum": ["main", "isolated"]},
    "agent_id": {"type": ["string", "null"]},
    "agent": {"type": "string"},
    "payload": {
      "type": "object",
      "required": ["kind", "message"],
      "additionalProperties": false,
      "properties": {
        "kind": {"enum": ["agentTurn", "systemEvent"]},
        "message": {"type": "string", "minLength": 1}
      }
    },
    "delivery": {
      "type": ["object", "null"],
      "required": ["mode"],
      "additionalProperties": false,
      "properties": {
        "mode": {"enum": ["announce", "none"]},
        "channel": {"type": "string"},
        "to": {"type": "string"}
      }
    }
  }
}`

var compileCronJobSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(cronJobSchemaURL, strings.NewReader(cronJobSchema)); err != nil {
		return nil, fmt.Errorf("add cron job schema: %w", err)
	}
	sch, err := compiler.Compile(cronJobSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile cron job schema: %w", err)
	}
	return sch, nil
})

// CronJobDocument validates a JSON cron job document and decodes it.
func CronJobDocument(data []byte) (core.JobDefinition, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.JobDefinition{}, fmt.Errorf("%w: invalid JSON: %v", core.ErrInvalidArgument, err)
	}
	if err := validate(doc); err != nil {
		return core.JobDefinition{}, err
	}
	var def core.JobDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return core.JobDefinition{}, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return def, nil
}

// CronJobValue validates a decoded document, such as one read from YAML.
func CronJobValue(v any) (core.JobDefinition, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return core.JobDefinition{}, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return CronJobDocument(data)
}

// MergeCronJob overlays a partial JSON document on an existing definition and validates the result.
func MergeCronJob(current core.JobDefinition, patch []byte) (core.JobDefinition, error) {
	base, err := toObject(current)
	if err != nil {
		return core.JobDefinition{}, err
	}
	var overlay map[string]any
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return core.JobDefinition{}, fmt.Errorf("%w: invalid JSON: %v", core.ErrInvalidArgument, err)
	}
	for key, value := range overlay {
		if nested, ok := value.(map[string]any); ok && key == "schedule" {
			// A new kind replaces the whole schedule; otherwise fields are merged.
			if existing, ok := base[key].(map[string]any); ok && nested["kind"] == nil {
				for k, v := range nested {
					existing[k] = v
				}
				continue
			}
		}
		base[key] = value
	}
	return CronJobValue(base)
}

func validate(doc any) error {
	sch, err := compileCronJobSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("%w: %s", core.ErrInvalidArgument, describe(ve))
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return nil
}

// describe flattens the innermost causes into one line.
func describe(ve *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}

func toObject(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
