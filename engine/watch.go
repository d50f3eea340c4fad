package engine

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// configWatcher hot-reloads the runtime-tunable knobs (request rate)
// from the YAML overlay while a crawl runs.
type configWatcher struct {
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// WatchConfig re-reads path on every write and applies max_reqs_per_sec
// to the live throttle. Structural options (scope, budgets, transport)
// stay fixed for the lifetime of the crawl.
func (e *Engine) WatchConfig(path string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return err
	}
	w := &configWatcher{fsw: fsw, done: make(chan struct{})}
	e.watcher = w

	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				overlay := e.cfg
				if err := overlay.LoadFile(path); err != nil {
					e.logger.WarnCtx(context.Background(), "config reload failed", "path", path, "err", err)
					continue
				}
				if overlay.MaxReqsPerSec != e.cfg.MaxReqsPerSec && overlay.MaxReqsPerSec > 0 {
					e.throttle.SetRate(overlay.MaxReqsPerSec)
					e.cfg.MaxReqsPerSec = overlay.MaxReqsPerSec
					e.logger.InfoCtx(context.Background(), "request rate updated", "max_reqs_per_sec", overlay.MaxReqsPerSec)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				e.logger.WarnCtx(context.Background(), "config watcher error", "err", err)
			}
		}
	}()
	return nil
}

func (w *configWatcher) stop() {
	close(w.done)
	_ = w.fsw.Close()
}
