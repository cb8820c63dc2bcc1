package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/delmenhorst/Buchhaltung/internal/llm"
)

// ExtractFields implements llm.FieldExtractor using text-only chat/completions
// with a JSON schema response format.
func (c *Client) ExtractFields(ctx context.Context, req llm.ExtractRequest) (llm.DocumentFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Debugw("llm.extract.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"kind", req.Kind,
		"text_len", len(req.Text),
		"allowed_categories", len(req.AllowedCategories),
	)

	schema := llm.BuildDocumentJSONSchema(req.AllowedCategories)
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "document_fields",
				"schema": schema,
			},
		},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req)},
			{"role": "user", "content": llm.BuildUserPrompt(req, c.cfg.MaxTextChars)},
		},
	}

	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, _, httpErr := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.log)
	if httpErr != nil {
		c.log.Warnw("llm.extract.http_error",
			"req_id", rid, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.DocumentFields{}, nil, httpErr
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Warnw("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.DocumentFields{}, raw, fmt.Errorf("%w: decode chat response: %v", llm.ErrInvalidOutput, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Warnw("llm.extract.no_choices",
			"req_id", rid, "raw", string(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.DocumentFields{}, raw, fmt.Errorf("%w: no choices in response", llm.ErrInvalidOutput)
	}

	out, content, err := llm.DecodeFields(cc.Choices[0].Message.Content, schema, req.Kind, c.cfg.LenientOptional, c.log)
	if err != nil {
		c.log.Warnw("llm.extract.schema_validation_failed",
			"req_id", rid, "error", err, "content", string(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.DocumentFields{}, content, err
	}

	c.log.Infow("llm.extract.ok",
		"req_id", rid,
		"model", c.cfg.Model,
		"date", out.Date,
		"amount", out.Amount,
		"category", out.Category,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, content, nil
}
