// Package gemini implements llm.FieldExtractor on the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/delmenhorst/Buchhaltung/internal/llm"
)

const DefaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey          string
	Model           string
	BaseURL         string // override for tests and proxies
	Temperature     float32
	MaxTextChars    int
	LenientOptional bool
}

type Client struct {
	cfg    Config
	models *genai.Models
	log    *zap.SugaredLogger
}

// NewClient creates a Gemini API client. An empty APIKey lets genai read
// GOOGLE_API_KEY / GEMINI_API_KEY from the environment.
func NewClient(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{cfg: cfg, models: client.Models, log: logger}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

// ExtractFields implements llm.FieldExtractor.
func (c *Client) ExtractFields(ctx context.Context, req llm.ExtractRequest) (llm.DocumentFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	schema := llm.BuildDocumentJSONSchema(req.AllowedCategories)
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(llm.BuildSystemPrompt(req), genai.RoleUser),
		Temperature:       genai.Ptr(c.cfg.Temperature),
		ResponseMIMEType:  "application/json",
	}

	resp, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(llm.BuildUserPrompt(req, c.cfg.MaxTextChars)), gc)
	if err != nil {
		c.log.Warnw("llm.gemini.generate_error",
			"req_id", rid, "model", c.cfg.Model, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.DocumentFields{}, nil, fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return llm.DocumentFields{}, nil, fmt.Errorf("%w: empty response from model", llm.ErrInvalidOutput)
	}

	out, content, err := llm.DecodeFields(text, schema, req.Kind, c.cfg.LenientOptional, c.log)
	if err != nil {
		c.log.Warnw("llm.gemini.schema_validation_failed",
			"req_id", rid, "error", err, "content", string(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.DocumentFields{}, content, err
	}

	c.log.Infow("llm.gemini.ok",
		"req_id", rid,
		"model", c.cfg.Model,
		"date", out.Date,
		"amount", out.Amount,
		"category", out.Category,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, content, nil
}
