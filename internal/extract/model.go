package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/llm"
)

type ModelConfig struct {
	Timeout         time.Duration // per request, default 60s
	RatePerSecond   float64       // 0 = unlimited
	Burst           int
	BreakerFailures uint32        // consecutive failures that open the breaker, default 3
	BreakerCooldown time.Duration // open -> half-open, default 2m
}

// ModelExtractor adapts an llm.FieldExtractor to a Strategy. Every request
// is bounded by a timeout; a circuit breaker stops hammering a dead service.
type ModelExtractor struct {
	fe      llm.FieldExtractor
	cfg     ModelConfig
	breaker *gobreaker.CircuitBreaker[llm.DocumentFields]
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

func NewModelExtractor(fe llm.FieldExtractor, cfg ModelConfig, log *zap.SugaredLogger) *ModelExtractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	m := &ModelExtractor{fe: fe, cfg: cfg, limiter: rate.NewLimiter(limit, burst), log: log}
	m.breaker = gobreaker.NewCircuitBreaker[llm.DocumentFields](gobreaker.Settings{
		Name:    "llm:" + fe.Model(),
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A malformed answer still proves the service is up.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, llm.ErrInvalidOutput)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("llm.breaker.state_change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return m
}

func (m *ModelExtractor) Name() string { return string(ProvenanceModel) }

// State exposes the breaker state for health reporting.
func (m *ModelExtractor) State() gobreaker.State { return m.breaker.State() }

func (m *ModelExtractor) Extract(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, common.NewInvalidInputError("no text to send to the model")
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	if err := m.limiter.Wait(ctx); err != nil {
		return Result{}, common.NewUnavailableError("model rate limit wait", err)
	}

	lreq := llm.ExtractRequest{
		Text:              req.Text,
		Kind:              req.Kind,
		AllowedCategories: constants.AsStringSlice(req.Kind),
		FilenameHint:      filepath.Base(req.Path),
		FolderHint:        req.Kind.Folder(),
		BusinessName:      req.BusinessName,
	}
	fields, err := m.breaker.Execute(func() (llm.DocumentFields, error) {
		f, _, err := m.fe.ExtractFields(ctx, lreq)
		return f, err
	})
	if err != nil {
		if errors.Is(err, llm.ErrInvalidOutput) {
			return Result{}, common.NewUnavailableError("model returned malformed output", err)
		}
		return Result{}, common.NewUnavailableError(fmt.Sprintf("model %s unavailable", m.fe.Model()), err)
	}
	return m.toResult(req.Kind, fields), nil
}

// toResult keeps only values that parse; anything else is absent.
func (m *ModelExtractor) toResult(kind constants.Kind, f llm.DocumentFields) Result {
	res := Result{Provenance: ProvenanceModel, Strategy: m.Name(), ModelName: m.fe.Model()}
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(f.Date)); err == nil {
		res.Date = &t
	}
	if a, err := common.ParseAmount(f.Amount); err == nil && a.IsPositive() {
		res.Amount = &a
	}
	if c, ok := constants.Canonicalize(kind, f.Category); ok {
		res.Category = &c
	}
	if d := cut(strings.Join(strings.Fields(f.Description), " "), maxDescriptionRunes); d != "" {
		res.Description = &d
	}
	return res
}
