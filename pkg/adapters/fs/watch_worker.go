package fs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/docsync/pkg/core"
)

// Change operations reported by Watch.
const (
	ChangeWrite  = "write"
	ChangeRemove = "remove"
)

// Change is the payload of a watch event.
type Change struct {
	Key  string `json:"key"`
	Op   string `json:"op"`
	Path string `json:"path"`
}

type watchWorker struct {
	*worker.BaseWorker
	store     *Store
	pattern   string
	events    chan<- core.Event
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	cancel    context.CancelFunc
}

func newWatchWorker(store *Store, pattern string, events chan<- core.Event) *watchWorker {
	return &watchWorker{
		BaseWorker: worker.NewBaseWorker("fs-watcher"),
		store:      store,
		pattern:    pattern,
		events:     events,
	}
}

func (w *watchWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("watcher already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.store.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.store.dir, err)
	}

	w.watcher = watcher
	w.debouncer = newDebouncer(50 * time.Millisecond)
	w.store.setWatcherActive(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *watchWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *watchWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"pattern":           w.pattern,
		}
	})
}

// change maps a raw fsnotify event onto a snapshot change, or reports false
// for events that do not concern a snapshot matching the pattern.
func (w *watchWorker) change(event fsnotify.Event) (Change, bool) {
	if isTempFile(event.Name) {
		return Change{}, false
	}
	key, ok := w.store.keyOf(event.Name)
	if !ok {
		return Change{}, false
	}
	if w.pattern != "" {
		if matched, err := doublestar.Match(w.pattern, key); err != nil || !matched {
			return Change{}, false
		}
	}

	var op string
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = ChangeRemove
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		op = ChangeWrite
	default:
		return Change{}, false
	}
	return Change{Key: key, Op: op, Path: event.Name}, true
}

func (w *watchWorker) process(ctx context.Context, event fsnotify.Event) {
	w.store.logger.Debug("event received", "name", event.Name, "op", event.Op.String())

	c, ok := w.change(event)
	if !ok {
		return
	}
	w.send(ctx, core.Event{
		Name:      c.Key + "_" + c.Op,
		Payload:   c,
		Timestamp: time.Now().UnixMilli(),
	})
}

// send enqueues through the debouncer. Delivery after the consumer closed
// the channel is swallowed.
func (w *watchWorker) send(ctx context.Context, event core.Event) {
	w.debouncer.add(event, func(e core.Event) {
		defer func() {
			_ = recover()
		}()
		select {
		case w.events <- e:
		case <-ctx.Done():
		}
	})
}

func (w *watchWorker) run(ctx context.Context) (err error) {
	logger := w.store.logger
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("watcher panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("watcher panic", "error", err, "stack", string(debug.Stack()))
			} else {
				logger.Error("watcher panic", "error", err)
			}
		}
	}()
	defer w.store.setWatcherActive(false)
	defer w.watcher.Close()

	err = w.loop(ctx)
	w.debouncer.stopAndWait(5 * time.Second)
	return err
}

func (w *watchWorker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			w.process(ctx, event)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			w.store.logger.Error("fsnotify error", "error", wErr)
		}
	}
}
