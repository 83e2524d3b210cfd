package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/windlass-dev/windlass/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies. Type-specific node
// and trigger configs are validated separately against the schemas below.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://windlass.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "trigger_type", "nodes"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string", "minLength": 1 },
    "version": { "type": "integer", "minimum": 0 },
    "trigger_type": {
      "type": "string",
      "enum": ["manual", "schedule", "webhook", "event", "email"]
    },
    "trigger_config": {},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "is_active": { "type": "boolean" },
    "max_retries": { "type": "integer", "minimum": 0 },
    "timeout": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type", "position"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["action", "condition", "loop", "httpRequest", "dataTransform", "notification"]
        },
        "name": { "type": "string" },
        "config": {},
        "position": { "type": "integer", "minimum": 0 },
        "retry": { "$ref": "#/$defs/retry" }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "required": ["max"],
      "properties": {
        "max": { "type": "integer", "minimum": 0 },
        "backoff": {
          "type": "string",
          "enum": ["constant", "exponential"]
        },
        "delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "max_delay": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        }
      },
      "additionalProperties": false
    }
  }
}`

// nodeConfigSchemas validates the config payload of each node type.
var nodeConfigSchemas = map[schema.NodeType]string{
	schema.NodeAction: `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "params": { "type": "object" }
  },
  "additionalProperties": false
}`,
	schema.NodeCondition: `{
  "type": "object",
  "required": ["expression"],
  "properties": {
    "expression": { "type": "string", "minLength": 1 },
    "language": { "type": "string", "enum": ["cel", "expr"] },
    "else_target": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": false
}`,
	schema.NodeLoop: `{
  "type": "object",
  "required": ["collection", "body_start", "body_end"],
  "properties": {
    "collection": { "type": "string", "minLength": 1 },
    "language": { "type": "string", "enum": ["cel", "expr"] },
    "body_start": { "type": "integer", "minimum": 0 },
    "body_end": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": false
}`,
	schema.NodeHTTPRequest: `{
  "type": "object",
  "required": ["url"],
  "properties": {
    "method": { "type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"] },
    "url": { "type": "string", "minLength": 1 },
    "headers": { "type": "object", "additionalProperties": { "type": "string" } },
    "body": {},
    "timeout": { "type": "string", "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$" },
    "fail_on_error_status": { "type": "boolean" }
  },
  "additionalProperties": false
}`,
	schema.NodeDataTransform: `{
  "type": "object",
  "required": ["expression"],
  "properties": {
    "expression": { "type": "string", "minLength": 1 },
    "target": { "type": "string" }
  },
  "additionalProperties": false
}`,
	schema.NodeNotification: `{
  "type": "object",
  "required": ["channel", "message"],
  "properties": {
    "channel": { "type": "string", "minLength": 1 },
    "recipients": { "type": "array", "items": { "type": "string" } },
    "subject": { "type": "string" },
    "message": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`,
}

// triggerConfigSchemas validates the trigger_config payload of each trigger type.
var triggerConfigSchemas = map[schema.TriggerType]string{
	schema.TriggerManual: `{}`,
	schema.TriggerSchedule: `{
  "type": "object",
  "required": ["cron"],
  "properties": {
    "cron": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`,
	schema.TriggerWebhook: `{
  "type": "object",
  "properties": {
    "token": { "type": "string" },
    "secret": { "type": "string" }
  },
  "additionalProperties": false
}`,
	schema.TriggerEvent: `{
  "type": "object",
  "required": ["event_type"],
  "properties": {
    "event_type": { "type": "string", "minLength": 1 },
    "source": { "type": "string" }
  },
  "additionalProperties": false
}`,
	schema.TriggerEmail: `{
  "type": "object",
  "required": ["mailbox"],
  "properties": {
    "mailbox": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`,
}

// structuralValidator validates definitions against the embedded JSON Schemas.
// It is safe for concurrent use; all schemas are compiled once at construction.
type structuralValidator struct {
	workflow *jsonschema.Schema
	nodes    map[schema.NodeType]*jsonschema.Schema
	triggers map[schema.TriggerType]*jsonschema.Schema
}

func newStructuralValidator() (*structuralValidator, error) {
	wf, err := compileSchema("https://windlass.dev/schemas/workflow.json", workflowSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	v := &structuralValidator{
		workflow: wf,
		nodes:    make(map[schema.NodeType]*jsonschema.Schema, len(nodeConfigSchemas)),
		triggers: make(map[schema.TriggerType]*jsonschema.Schema, len(triggerConfigSchemas)),
	}
	for typ, raw := range nodeConfigSchemas {
		compiled, err := compileSchema(fmt.Sprintf("windlass://node-config/%s", typ), raw)
		if err != nil {
			return nil, fmt.Errorf("compile %s node schema: %w", typ, err)
		}
		v.nodes[typ] = compiled
	}
	for typ, raw := range triggerConfigSchemas {
		compiled, err := compileSchema(fmt.Sprintf("windlass://trigger-config/%s", typ), raw)
		if err != nil {
			return nil, fmt.Errorf("compile %s trigger schema: %w", typ, err)
		}
		v.triggers[typ] = compiled
	}
	return v, nil
}

func compileSchema(url, raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// validate runs the structural stage: the definition shape, then each node's
// config against its type schema, then the trigger config.
func (v *structuralValidator) validate(def *schema.WorkflowDefinition, result *schema.ValidationResult) {
	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError("", schema.ErrCodeValidation, "definition is not serializable: "+err.Error())
		return
	}
	if err := v.workflow.Validate(doc); err != nil {
		for _, violation := range collectViolations(err) {
			result.AddError(violation.path, schema.ErrCodeValidation, violation.message)
		}
		return
	}

	for i, node := range def.Nodes {
		path := fmt.Sprintf("nodes[%d].config", i)
		compiled, ok := v.nodes[node.Type]
		if !ok {
			continue
		}
		cfgDoc, err := rawToJSONValue(node.Config)
		if err != nil {
			result.AddError(path, schema.ErrCodeValidation, "config is not valid JSON: "+err.Error())
			continue
		}
		if err := compiled.Validate(cfgDoc); err != nil {
			for _, violation := range collectViolations(err) {
				result.AddError(path+violation.path, schema.ErrCodeValidation, violation.message)
			}
		}
	}

	if compiled, ok := v.triggers[def.TriggerType]; ok {
		cfgDoc, err := rawToJSONValue(def.TriggerConfig)
		if err != nil {
			result.AddError("trigger_config", schema.ErrCodeValidation, "trigger_config is not valid JSON: "+err.Error())
			return
		}
		if err := compiled.Validate(cfgDoc); err != nil {
			for _, violation := range collectViolations(err) {
				result.AddError("trigger_config"+violation.path, schema.ErrCodeValidation, violation.message)
			}
		}
	}
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// rawToJSONValue parses a raw config payload, treating empty as an empty object.
func rawToJSONValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf errors with
// their instance locations.
func collectViolations(err error) []violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []violation{{path: "", message: err.Error()}}
	}
	if len(verr.Causes) == 0 {
		loc := ""
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
