package openai

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "gemma3:27b"
)

// Config for the OpenAI-compatible client. The defaults target a local Ollama.
type Config struct {
	APIKey          string        // if empty, falls back to env OPENAI_API_KEY; Ollama ignores it
	BaseURL         string        // default http://localhost:11434/v1
	Model           string        // e.g., "gemma3:27b", "llama3.2:3b"
	Temperature     float32       // 0..2
	Timeout         time.Duration // http client timeout
	MaxTextChars    int           // document text placed into the prompt
	LenientOptional bool
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.SugaredLogger
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

func (c *Client) Model() string { return c.cfg.Model }
