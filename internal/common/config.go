package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// BUCHHALTUNG_DATABASE_DSN or BUCHHALTUNG_SCANNER_INTERVAL.
const EnvPrefix = "BUCHHALTUNG"

// PrefixLength is the fixed length of a business prefix.
const PrefixLength = 2

// Config holds all application configuration
type Config struct {
	RootDir    string           `mapstructure:"root_dir"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	OCR        OCRConfig        `mapstructure:"ocr"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Businesses []BusinessConfig `mapstructure:"businesses"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `mapstructure:"driver"`
	DSN              string        `mapstructure:"dsn"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `mapstructure:"max_conn_idle_time"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// ScannerConfig controls the background intake loop.
type ScannerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Autostart bool          `mapstructure:"autostart"`
	SettleAge time.Duration `mapstructure:"settle_age"`
	Watch     bool          `mapstructure:"watch"`
	Debounce  time.Duration `mapstructure:"debounce"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	TesseractPath    string `mapstructure:"tesseract_path"`
	PdftoppmPath     string `mapstructure:"pdftoppm_path"`
	Language         string `mapstructure:"language"`
	DPI              int    `mapstructure:"dpi"`
	MaxPages         int    `mapstructure:"max_pages"`
	TessdataDir      string `mapstructure:"tessdata_dir"`
	HeicConverter    string `mapstructure:"heic_converter"`
	ArtifactCacheDir string `mapstructure:"artifact_cache_dir"`
}

// LLMConfig holds configuration of the model-based extraction strategy.
type LLMConfig struct {
	Provider        string        `mapstructure:"provider"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	APIKey          string        `mapstructure:"api_key"`
	Temperature     float32       `mapstructure:"temperature"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxTextChars    int           `mapstructure:"max_text_chars"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	LenientOptional bool          `mapstructure:"lenient_optional"`
}

// GeminiConfig is used when llm.provider is "gemini".
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HealthAddr string `mapstructure:"health_addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// BusinessConfig seeds a business record on startup.
type BusinessConfig struct {
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"`
}

// IntakeDir is the root of all intake folders.
func (c *Config) IntakeDir() string { return filepath.Join(c.RootDir, "Intake") }

// ArchiveDir is the root of all archive folders.
func (c *Config) ArchiveDir() string { return filepath.Join(c.RootDir, "Archive") }

// LoadConfig reads .env (if present), then the optional YAML file at path,
// then environment overrides on top of defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper does not map env vars onto slices of structs.
	if raw := os.Getenv(EnvPrefix + "_BUSINESSES"); raw != "" {
		seeds, err := ParseBusinessList(raw)
		if err != nil {
			return nil, err
		}
		cfg.Businesses = seeds
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root_dir", "./FINANZEN")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:buchhaltung.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", 0)

	v.SetDefault("scanner.interval", 10*time.Second)
	v.SetDefault("scanner.autostart", true)
	v.SetDefault("scanner.settle_age", 30*time.Second)
	v.SetDefault("scanner.watch", true)
	v.SetDefault("scanner.debounce", 2*time.Second)

	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.language", "deu+eng")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.max_pages", 5)
	v.SetDefault("ocr.heic_converter", "magick")
	v.SetDefault("ocr.artifact_cache_dir", "./tmp")

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.model", "gemma3:27b")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_text_chars", 2000)
	v.SetDefault("llm.rate_per_second", 1.0)
	v.SetDefault("llm.burst", 1)
	v.SetDefault("llm.breaker_failures", 3)
	v.SetDefault("llm.breaker_cooldown", time.Minute)
	v.SetDefault("llm.lenient_optional", true)

	v.SetDefault("gemini.model", "gemini-2.5-flash")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.health_addr", ":8081")
	v.SetDefault("metrics.addr", ":9090")
}

// ParseBusinessList parses "Name:PX,Other:OT".
func ParseBusinessList(raw string) ([]BusinessConfig, error) {
	var out []BusinessConfig
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, prefix, ok := strings.Cut(item, ":")
		if !ok {
			return nil, NewAppError(CodeConfig, fmt.Sprintf("business %q must be Name:PREFIX", item), ErrInvalidInput)
		}
		out = append(out, BusinessConfig{
			Name:   strings.TrimSpace(name),
			Prefix: strings.ToUpper(strings.TrimSpace(prefix)),
		})
	}
	return out, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("root_dir", c.RootDir, Required)
	v.Field("database.dsn", c.Database.DSN, Required)
	v.Field("scanner.interval", c.Scanner.Interval, Positive)

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		v.Add("database.driver", c.Database.Driver, "must be sqlite or postgres")
	}

	switch c.LLM.Provider {
	case "ollama", "openai":
		v.Field("llm.base_url", c.LLM.BaseURL, Required)
		v.Field("llm.model", c.LLM.Model, Required)
		v.Field("llm.timeout", c.LLM.Timeout, Positive)
	case "gemini":
		v.Field("gemini.api_key", c.Gemini.APIKey, Required)
		v.Field("llm.timeout", c.LLM.Timeout, Positive)
	case "none":
	default:
		v.Add("llm.provider", c.LLM.Provider, "must be ollama, openai, gemini or none")
	}

	names := make(map[string]struct{}, len(c.Businesses))
	prefixes := make(map[string]struct{}, len(c.Businesses))
	for i, b := range c.Businesses {
		field := fmt.Sprintf("businesses[%d]", i)
		v.Field(field+".name", b.Name, Required)
		v.Field(field+".prefix", b.Prefix, ExactLength(PrefixLength), BusinessPrefix)
		if strings.ContainsAny(b.Name, `/\`) {
			v.Add(field+".name", b.Name, "must not contain path separators")
		}
		if _, dup := names[b.Name]; dup {
			v.Add(field+".name", b.Name, "is not unique")
		}
		if _, dup := prefixes[b.Prefix]; dup {
			v.Add(field+".prefix", b.Prefix, "is not unique")
		}
		names[b.Name] = struct{}{}
		prefixes[b.Prefix] = struct{}{}
	}

	if v.HasErrors() {
		return NewAppError(CodeConfig, v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
