package ingest

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type WatchConfig struct {
	Dirs     []string      // intake folders to watch (not recursive)
	Debounce time.Duration // coalesce bursts of events into one notification
}

// StartWatcher watches the intake folders and calls notify once per burst of
// changes to eligible files. Folders that do not exist are created. The
// watcher stops when ctx is cancelled.
func StartWatcher(ctx context.Context, cfg WatchConfig, notify func(), log *zap.SugaredLogger) error {
	if len(cfg.Dirs) == 0 {
		return errors.New("no intake folders to watch")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Errorw("watcher.create_failed", "error", err)
		return err
	}
	for _, dir := range cfg.Dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = w.Close()
			return err
		}
		if err := w.Add(dir); err != nil {
			log.Errorw("watcher.add_failed", "dir", dir, "error", err)
			_ = w.Close()
			return err
		}
	}
	log.Infow("watcher.started", "dirs", len(cfg.Dirs), "debounce", cfg.Debounce.String())

	go func() {
		defer func() {
			if err := w.Close(); err != nil {
				log.Warnw("watcher.close_failed", "error", err)
			}
		}()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 || !Eligible(e.Name) {
					continue
				}
				log.Debugw("watcher.event", "path", e.Name, "op", e.Op.String())
				if cfg.Debounce <= 0 {
					notify()
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(cfg.Debounce, notify)
				} else {
					timer.Reset(cfg.Debounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnw("watcher.error", "error", err)
			}
		}
	}()
	return nil
}
