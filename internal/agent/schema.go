package agent

import "strconv"

// Schema builders for tool parameters. Tools declare flat object schemas;
// optional parameters carry sentinel defaults instead of union types so
// every provider dialect accepts them.

// ObjectSchema builds the JSON Schema object for one tool's parameters.
func ObjectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringParam describes a string parameter.
func StringParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// IntParam describes an integer parameter.
func IntParam(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

// SanitizeSchema returns a deep copy of schema with every "title" key
// removed. Some providers reject titles anywhere inside tool parameters.
func SanitizeSchema(schema map[string]any) map[string]any {
	out, _ := stripTitles(schema).(map[string]any)
	return out
}

func stripTitles(node any) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if key == "title" {
				continue
			}
			out[key] = stripTitles(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = stripTitles(value)
		}
		return out
	default:
		return v
	}
}

// StringArg reads a string argument, empty when absent.
func StringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}

// IntArg reads an integer argument. JSON numbers decode as float64, and
// some models quote numbers as strings.
func IntArg(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
