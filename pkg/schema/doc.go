// Package schema checks tool call arguments against the parameters a tool
// declares.
//
// Tool parameters use the JSON schema "properties" shape that is shown to
// the model:
//
//	params := map[string]any{
//	    "to":      map[string]any{"type": "string"},
//	    "retries": map[string]any{"type": "integer"},
//	    "tags":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
//	}
//
//	s, err := schema.FromParameters(params)
//	if err != nil {
//	    // unsupported parameter type
//	}
//	if err := schema.Validate(s, []string{"to"}, args); err != nil {
//	    // report the problems back to the model
//	}
//
// Only the types a model can produce through JSON are supported. Properties
// without a "type" accept any value.
package schema
