package dream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"dreamsense/internal/domain"
)

// outputSchema is the structured result the model must return. Some models
// emit image_output as a nested object instead of a JSON string; both are
// accepted and the object is re-encoded.
var outputSchema = map[string]any{
	"type":     "object",
	"required": []any{"message_output", "image_output"},
	"properties": map[string]any{
		"message_output": map[string]any{"type": "string", "minLength": 1},
		"image_output": map[string]any{
			"anyOf": []any{
				map[string]any{"type": "string", "minLength": 1},
				map[string]any{"type": "object", "minProperties": 1},
			},
		},
	},
}

var schemaLoader = gojsonschema.NewGoLoader(outputSchema)

// parseInterpretation validates raw model output and converts it.
func parseInterpretation(raw string) (*Interpretation, error) {
	body := stripCodeFence(raw)
	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: model output is not a JSON object: %v", domain.ErrProviderFailure, err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: validate model output: %v", domain.ErrProviderFailure, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("%w: invalid response format from model: %v", domain.ErrProviderFailure, errs)
	}

	out := &Interpretation{Message: strings.TrimSpace(doc["message_output"].(string))}
	switch v := doc["image_output"].(type) {
	case string:
		out.ImageProfile = strings.TrimSpace(v)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("%w: encode image profile: %v", domain.ErrProviderFailure, err)
		}
		out.ImageProfile = strings.TrimSpace(buf.String())
	}
	if out.Message == "" || out.ImageProfile == "" {
		return nil, fmt.Errorf("%w: invalid response format from model: empty field", domain.ErrProviderFailure)
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
