// Package ingest runs the background intake loop: it discovers files in the
// intake folders of every business, registers untracked ones and hands them to
// the per-document pipeline.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/delmenhorst/Buchhaltung/constants"
	"github.com/delmenhorst/Buchhaltung/internal/common"
	"github.com/delmenhorst/Buchhaltung/internal/entity"
	"github.com/delmenhorst/Buchhaltung/internal/pipeline"
	"github.com/delmenhorst/Buchhaltung/internal/repository"
)

// Processor runs one document through the pipeline; pipeline.Processor
// satisfies it.
type Processor interface {
	ProcessDocument(ctx context.Context, id int64, force bool) pipeline.Outcome
	File(ctx context.Context, id int64) pipeline.Outcome
}

// LeftoverRemover clears intake copies of files that were already archived;
// archive.Renamer satisfies it.
type LeftoverRemover interface {
	RemoveLeftover(ctx context.Context, path string) (bool, error)
}

// CycleObserver receives the summary of every completed cycle.
type CycleObserver interface {
	ObserveCycle(stats CycleStats, elapsed time.Duration)
}

// Config holds scanner configuration
type Config struct {
	Interval  time.Duration // time between cycles, default 10s
	SettleAge time.Duration // a file older than this counts as stable, default 30s
}

// CycleStats summarizes one scan cycle.
type CycleStats struct {
	Seen        int
	Unstable    int
	Registered  int
	Leftovers   int
	Archived    int
	NeedsReview int
	Retry       int
	Skipped     int
	Errors      int
}

func (s *CycleStats) count(k pipeline.OutcomeKind) {
	switch k {
	case pipeline.OutcomeArchived:
		s.Archived++
	case pipeline.OutcomeNeedsReview:
		s.NeedsReview++
	case pipeline.OutcomeRetry:
		s.Retry++
	default:
		s.Skipped++
	}
}

// Scanner is the single background worker of the intake loop. Cycles run one
// at a time and process files one at a time. Start and Stop toggle whether
// cycles run; a stop takes effect at the next cycle boundary.
type Scanner struct {
	cfg        Config
	businesses repository.BusinessRepository
	docs       repository.DocumentRepository
	proc       Processor
	leftovers  LeftoverRemover
	stability  *stabilityTracker
	observer   CycleObserver
	listeners  []func(running bool)
	log        *zap.SugaredLogger

	mu      sync.RWMutex
	running bool
	wake    chan struct{}
	cycle   sync.Mutex
}

type Option func(*Scanner)

func WithCycleObserver(o CycleObserver) Option {
	return func(s *Scanner) { s.observer = o }
}

// WithLeftoverRemover makes every cycle check untracked files against the
// archive before registering them.
func WithLeftoverRemover(r LeftoverRemover) Option {
	return func(s *Scanner) { s.leftovers = r }
}

// WithStateListener registers fn to be called with the new state on every
// Start and Stop.
func WithStateListener(fn func(running bool)) Option {
	return func(s *Scanner) { s.listeners = append(s.listeners, fn) }
}

func NewScanner(
	cfg Config,
	businesses repository.BusinessRepository,
	docs repository.DocumentRepository,
	proc Processor,
	log *zap.SugaredLogger,
	opts ...Option,
) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.SettleAge <= 0 {
		cfg.SettleAge = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Scanner{
		cfg:        cfg,
		businesses: businesses,
		docs:       docs,
		proc:       proc,
		stability:  newStabilityTracker(cfg.SettleAge),
		log:        log,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start enables cycles. It is a no-op when already running.
func (s *Scanner) Start() {
	s.setRunning(true)
}

// Stop disables cycles. A cycle in progress runs to completion.
func (s *Scanner) Stop() {
	s.setRunning(false)
}

func (s *Scanner) setRunning(v bool) {
	s.mu.Lock()
	changed := s.running != v
	s.running = v
	listeners := s.listeners
	s.mu.Unlock()
	if !changed {
		return
	}
	if v {
		s.log.Infow("scanner.started", "interval", s.cfg.Interval.String())
		s.Trigger()
	} else {
		s.log.Infow("scanner.stopped")
	}
	for _, fn := range listeners {
		fn(v)
	}
}

// Running returns whether cycles are enabled.
func (s *Scanner) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Trigger asks for a cycle as soon as the current one is over. Requests made
// while one is already pending are merged.
func (s *Scanner) Trigger() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the worker loop. It returns when ctx is cancelled, after the cycle
// in progress (if any) has finished.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Infow("scanner.loop.start", "interval", s.cfg.Interval.String(), "running", s.Running())
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scanner.loop.exit")
			return
		case <-ticker.C:
		case <-s.wake:
		}
		if !s.Running() {
			continue
		}
		s.ScanOnce(ctx)
	}
}

// ScanOnce runs a single cycle over every business and kind. Cancelling ctx
// stops the cycle between files; a file that has started always finishes.
func (s *Scanner) ScanOnce(ctx context.Context) CycleStats {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	start := time.Now()
	ctx, cycleID := common.NewCycleContext(ctx)
	log := s.log.With("cycle_id", cycleID)
	var stats CycleStats

	defer func() {
		elapsed := time.Since(start)
		if s.observer != nil {
			s.observer.ObserveCycle(stats, elapsed)
		}
		if stats.Registered+stats.Leftovers+stats.Archived+stats.NeedsReview+stats.Retry+stats.Errors > 0 {
			log.Infow("scanner.cycle.done",
				"seen", stats.Seen,
				"unstable", stats.Unstable,
				"registered", stats.Registered,
				"leftovers", stats.Leftovers,
				"archived", stats.Archived,
				"needs_review", stats.NeedsReview,
				"retry", stats.Retry,
				"errors", stats.Errors,
				"elapsed_ms", elapsed.Milliseconds(),
			)
		}
	}()

	businesses, err := s.businesses.List(ctx)
	if err != nil {
		stats.Errors++
		log.Errorw("scanner.cycle.list_businesses_failed", "error", err)
		return stats
	}

	seen := make(map[string]struct{})
	defer s.stability.Forget(seen)

	for _, biz := range businesses {
		for _, kind := range constants.Kinds() {
			candidates, err := Discover(biz, kind)
			if err != nil {
				stats.Errors++
				log.Warnw("scanner.discover.failed", "business", biz.Name, "kind", kind, "error", err)
				continue
			}
			for _, c := range candidates {
				if ctx.Err() != nil {
					return stats
				}
				seen[c.Path] = struct{}{}
				stats.Seen++
				s.handle(ctx, log, c, &stats)
			}
		}
	}
	return stats
}

func (s *Scanner) handle(ctx context.Context, log *zap.SugaredLogger, c Candidate, stats *CycleStats) {
	if !s.stability.Observe(c) {
		stats.Unstable++
		log.Debugw("scanner.file.unstable", "path", c.Path, "size", c.Size)
		return
	}

	if s.leftovers != nil {
		removed, err := s.leftovers.RemoveLeftover(ctx, c.Path)
		if err != nil {
			stats.Errors++
			log.Warnw("scanner.file.leftover_check_failed", "path", c.Path, "error", err)
			return
		}
		if removed {
			stats.Leftovers++
			return
		}
	}

	doc, created, err := s.docs.Register(ctx, entity.NewDocument{
		BusinessID: c.Business.ID,
		Kind:       c.Kind,
		Path:       c.Path,
	})
	if err != nil {
		stats.Errors++
		log.Errorw("scanner.file.register_failed", "path", c.Path, "business", c.Business.Name, "error", err)
		return
	}
	if created {
		stats.Registered++
		log.Infow("scanner.file.registered",
			"document_id", doc.ID, "path", c.Path, "business", c.Business.Name, "kind", c.Kind)
	}

	// Processing of a started file is not cancelled by a shutdown.
	var out pipeline.Outcome
	switch {
	case doc.Archived:
		return
	case doc.Reviewed:
		// complete but still in intake: the archive step never finished
		log.Infow("scanner.file.resume_archive", "document_id", doc.ID, "path", c.Path)
		out = s.proc.File(context.WithoutCancel(ctx), doc.ID)
	case doc.Processed:
		return
	default:
		out = s.proc.ProcessDocument(context.WithoutCancel(ctx), doc.ID, false)
	}
	stats.count(out.Kind)
}
