package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/routecodex/routecodex/pkg/types"
)

// Validator checks tool definitions and tool calls against the JSON-schema-
// style parameters a request declares, grounded on pkg/toolvalidator's
// Validator, adapted here from the teacher's Tool.InputSchema/
// ToolCall.Function.Name/.Function.Arguments nested shape onto this
// project's flat Tool.Parameters/ToolCall.Name/.Arguments fields.
type Validator struct {
	// StrictMode rejects tool-call arguments containing properties not
	// declared in the tool's parameters schema.
	StrictMode bool
}

// NewValidator builds a Validator with the given strictness.
func NewValidator(strict bool) *Validator {
	return &Validator{StrictMode: strict}
}

// ValidateToolDefinition checks that a Tool's parameters schema is
// well-formed enough to validate calls against: if present, "type" must be
// "object" and "properties" (if present) must be a map.
func (v *Validator) ValidateToolDefinition(tool types.Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool definition missing name")
	}
	if tool.Parameters == nil {
		return nil
	}
	if t, ok := tool.Parameters["type"]; ok {
		if s, ok := t.(string); !ok || s != "object" {
			return fmt.Errorf("tool %q: parameters.type must be \"object\"", tool.Name)
		}
	}
	if props, ok := tool.Parameters["properties"]; ok {
		if _, ok := props.(map[string]interface{}); !ok {
			return fmt.Errorf("tool %q: parameters.properties must be an object", tool.Name)
		}
	}
	return nil
}

// ValidateToolCall checks a ToolCall's arguments against the matching
// tool's declared parameters schema: required fields present, declared
// types respected, enums honored, and — in strict mode — no unexpected
// top-level properties.
func (v *Validator) ValidateToolCall(call types.ToolCall, tools []types.Tool) error {
	var def *types.Tool
	for i := range tools {
		if tools[i].Name == call.Name {
			def = &tools[i]
			break
		}
	}
	if def == nil {
		return fmt.Errorf("tool call references undeclared tool %q", call.Name)
	}

	var args map[string]interface{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Errorf("tool call %q: arguments is not valid JSON: %w", call.Name, err)
		}
	}

	if def.Parameters == nil {
		return nil
	}
	return v.validateAgainstSchema(call.Name, args, def.Parameters)
}

func (v *Validator) validateAgainstSchema(toolName string, args map[string]interface{}, schema map[string]interface{}) error {
	if err := v.validateRequiredFields(toolName, args, schema); err != nil {
		return err
	}
	properties, _ := schema["properties"].(map[string]interface{})
	if properties == nil {
		return nil
	}
	if v.StrictMode {
		if err := v.checkUnexpectedFields(toolName, args, properties); err != nil {
			return err
		}
	}
	return v.validateProperties(toolName, args, properties)
}

func (v *Validator) validateRequiredFields(toolName string, args map[string]interface{}, schema map[string]interface{}) error {
	required, ok := schema["required"].([]interface{})
	if !ok {
		return nil
	}
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := args[name]; !present {
			return fmt.Errorf("tool call %q: missing required field %q", toolName, name)
		}
	}
	return nil
}

func (v *Validator) checkUnexpectedFields(toolName string, args map[string]interface{}, properties map[string]interface{}) error {
	for name := range args {
		if _, declared := properties[name]; !declared {
			return fmt.Errorf("tool call %q: unexpected field %q (strict mode)", toolName, name)
		}
	}
	return nil
}

func (v *Validator) validateProperties(toolName string, args map[string]interface{}, properties map[string]interface{}) error {
	for name, value := range args {
		fieldSchema, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		if err := v.validateFieldSchema(toolName, name, value, fieldSchema); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateFieldSchema(toolName, field string, value interface{}, schema map[string]interface{}) error {
	if t, ok := schema["type"].(string); ok {
		if err := v.validateType(toolName, field, value, t); err != nil {
			return err
		}
	}
	if enum, ok := schema["enum"].([]interface{}); ok {
		if err := v.validateEnum(toolName, field, value, enum); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateType(toolName, field string, value interface{}, want string) error {
	switch want {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("tool call %q: field %q must be a string", toolName, field)
		}
	case "number", "integer":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("tool call %q: field %q must be a number", toolName, field)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("tool call %q: field %q must be a boolean", toolName, field)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("tool call %q: field %q must be an array", toolName, field)
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("tool call %q: field %q must be an object", toolName, field)
		}
	}
	return nil
}

func (v *Validator) validateEnum(toolName, field string, value interface{}, enum []interface{}) error {
	for _, e := range enum {
		if e == value {
			return nil
		}
	}
	return fmt.Errorf("tool call %q: field %q value %v not in enum", toolName, field, value)
}
