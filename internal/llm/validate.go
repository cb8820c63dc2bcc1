package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
)

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// DecodeFields turns model content into DocumentFields. Content is validated
// strictly first; with lenient set, a failing answer is sanitized and
// validated again before giving up. Every failure wraps ErrInvalidOutput.
func DecodeFields(content string, schema map[string]any, kind constants.Kind, lenient bool, logger *zap.SugaredLogger) (DocumentFields, []byte, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	raw := []byte(CleanModelJSON(content))

	if err := ValidateJSONAgainstSchema(schema, raw); err != nil {
		if !lenient {
			return DocumentFields{}, raw, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		cleaned, dropped, sErr := NormalizeAndSanitizeJSON(raw, kind, logger)
		if sErr != nil {
			return DocumentFields{}, raw, fmt.Errorf("%w: %v", ErrInvalidOutput, sErr)
		}
		if vErr := ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			return DocumentFields{}, cleaned, fmt.Errorf("%w: %v", ErrInvalidOutput, vErr)
		}
		logger.Warnw("llm.extract.lenient_sanitize_applied", "dropped", dropped)
		raw = cleaned
	}

	var out DocumentFields
	if err := json.Unmarshal(raw, &out); err != nil {
		return DocumentFields{}, raw, fmt.Errorf("%w: unmarshal fields: %v", ErrInvalidOutput, err)
	}
	return out, raw, nil
}
