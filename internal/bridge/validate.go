package bridge

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// validateArguments checks tool arguments against the schema subset the
// backend publishes: required keys must be present, and arguments whose
// schema declares a primitive type must match it. Unknown keys pass
// through untouched; the backend owns full validation.
func validateArguments(schema mcp.ToolInputSchema, args map[string]interface{}) error {
	for _, key := range schema.Required {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required argument %q", key)
		}
	}

	for key, value := range args {
		propRaw, ok := schema.Properties[key]
		if !ok {
			continue
		}
		prop, ok := propRaw.(map[string]interface{})
		if !ok {
			continue
		}
		declaredType, ok := prop["type"].(string)
		if !ok {
			continue
		}
		if err := checkType(key, declaredType, value); err != nil {
			return err
		}
	}

	return nil
}

func checkType(key, declaredType string, value interface{}) error {
	if value == nil {
		return nil
	}

	ok := true
	switch declaredType {
	case "string":
		_, ok = value.(string)
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			ok = false
		}
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			ok = v == float64(int64(v))
		case float32:
			ok = v == float32(int64(v))
		default:
			ok = false
		}
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]interface{})
	case "object":
		_, ok = value.(map[string]interface{})
	}

	if !ok {
		return fmt.Errorf("argument %q must be of type %s", key, declaredType)
	}
	return nil
}
