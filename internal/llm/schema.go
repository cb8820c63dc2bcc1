package llm

const (
	datePattern   = `^\d{4}-\d{2}-\d{2}$`
	amountPattern = `^\d+(\.\d{1,2})?$`
)

// BuildDocumentJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model as the structured output constraint and used locally to validate.
// No field is required: a partial answer is still a valid answer and the
// completeness gate decides what happens to it.
func BuildDocumentJSONSchema(allowedCategories []string) map[string]any {
	props := map[string]any{
		"date":        map[string]any{"type": "string", "pattern": datePattern},
		"amount":      map[string]any{"type": "string", "pattern": amountPattern},
		"category":    map[string]any{"type": "string", "minLength": 1},
		"description": map[string]any{"type": "string", "maxLength": MaxDescriptionRunes},
	}

	if len(allowedCategories) > 0 {
		props["category"] = map[string]any{
			"type": "string",
			"enum": allowedCategories,
		}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}
