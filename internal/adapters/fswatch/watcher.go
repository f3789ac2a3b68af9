// Package fswatch implements ports.Watcher with a recursive fsnotify watcher.
package fswatch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/internal/ports"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// Options configures which directories are watched.
type Options struct {
	// Exclusions are substrings; a directory whose path contains one is not
	// watched, nor is anything below it.
	Exclusions []string
}

// Factory creates one recursive watcher per cartridge.
type Factory struct {
	opts   Options
	logger log.Logger
}

var _ ports.WatcherFactory = (*Factory)(nil)

// NewFactory creates a watcher factory.
func NewFactory(opts Options, logger log.Logger) *Factory {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Factory{opts: opts, logger: logger}
}

// Watch registers every directory of the cartridge tree. Failure to
// register any of them returns a *domain.WatchRegistrationError.
func (f *Factory) Watch(ctx context.Context, c domain.Cartridge) (ports.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &domain.WatchRegistrationError{Cartridge: c.Name, Path: c.Path, Err: err}
	}

	w := &Watcher{
		cartridge: c,
		opts:      f.opts,
		logger:    log.With(f.logger, log.Cartridge(c.Name)),
		fsw:       fsw,
		events:    make(chan domain.WatchEvent, 64),
		errors:    make(chan error, 8),
		done:      make(chan struct{}),
	}

	if _, err := w.addTree(c.Path); err != nil {
		fsw.Close()
		return nil, &domain.WatchRegistrationError{Cartridge: c.Name, Path: c.Path, Err: err}
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return w, nil
}

// Watcher delivers change events for one cartridge tree.
type Watcher struct {
	cartridge domain.Cartridge
	opts      Options
	logger    log.Logger
	fsw       *fsnotify.Watcher

	events chan domain.WatchEvent
	errors chan error

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Events returns the event stream. It is closed after Close or when the
// watch context ends.
func (w *Watcher) Events() <-chan domain.WatchEvent { return w.events }

// Errors returns non-fatal watch errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = w.fsw.Close()
	})
	w.wg.Wait()
	return w.closeErr
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.events)
	defer close(w.errors)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			out, ok := w.translate(ev)
			if !ok {
				continue
			}
			select {
			case w.events <- out:
			case <-ctx.Done():
				return
			case <-w.done:
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

// translate maps an fsnotify event onto a domain event. Chmod-only events
// are dropped. Newly created directories are added to the watch set, and
// whatever they already contain is reported as created after them.
func (w *Watcher) translate(ev fsnotify.Event) (domain.WatchEvent, bool) {
	var kind domain.EventKind
	paths := []string{ev.Name}
	switch {
	case ev.Has(fsnotify.Create):
		kind = domain.EventCreated
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !w.excluded(ev.Name) {
			found, err := w.addTree(ev.Name)
			if err != nil {
				w.report(&domain.WatchRegistrationError{Cartridge: w.cartridge.Name, Path: ev.Name, Err: err})
			}
			paths = append(paths, found...)
		}
	case ev.Has(fsnotify.Write):
		kind = domain.EventModified
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = domain.EventRemoved
	default:
		return domain.WatchEvent{}, false
	}
	if w.excluded(ev.Name) {
		return domain.WatchEvent{}, false
	}

	w.logger.Debug("filesystem event",
		log.String("kind", kind.String()),
		log.Path(ev.Name),
		log.Int("paths", len(paths)),
	)
	return domain.WatchEvent{Kind: kind, Paths: paths}, true
}

// addTree watches root and every directory below it. It returns the files
// and directories found below root, parents ahead of their contents.
func (w *Watcher) addTree(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && w.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path != root {
			found = append(found, path)
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
	return found, err
}

func (w *Watcher) excluded(path string) bool {
	for _, ex := range w.opts.Exclusions {
		if ex != "" && strings.Contains(path, ex) {
			return true
		}
	}
	return false
}

// report forwards an error without blocking the event loop.
func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
		w.logger.Warn("watch error dropped", log.Err(err))
	}
}
