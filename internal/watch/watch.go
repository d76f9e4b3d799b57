// Package watch triggers upload passes when the recordings directory changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chmdznr/recsync/internal/recording"
)

// PassFunc runs one upload pass
type PassFunc func(ctx context.Context) error

// Options tune the event loop
type Options struct {
	Extension      string
	Debounce       time.Duration
	RescanInterval time.Duration
}

// Watcher runs passes on directory activity, on a timer and on demand.
// Passes run on the loop goroutine, so they never overlap.
type Watcher struct {
	dir     string
	opts    Options
	fsw     *fsnotify.Watcher
	trigger chan struct{}
}

// New starts watching dir
func New(dir string, opts Options) (*Watcher, error) {
	if opts.Extension == "" {
		opts.Extension = recording.DefaultExtension
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.RescanInterval <= 0 {
		opts.RescanInterval = time.Minute
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch recordings directory: %w", err)
	}

	return &Watcher{
		dir:     dir,
		opts:    opts,
		fsw:     fsw,
		trigger: make(chan struct{}, 1),
	}, nil
}

// Trigger requests an immediate pass
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Close stops the underlying watcher
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// relevant keeps events for files appearing or going away. Writes from the
// live capture would keep resetting the debounce, so they are ignored; a new
// file appearing is what marks the previous one finished.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !recording.Candidate(filepath.Base(event.Name), w.opts.Extension) {
		return false
	}
	return event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Rename) ||
		event.Has(fsnotify.Remove)
}

// Run performs an initial pass and then loops until ctx is cancelled
func (w *Watcher) Run(ctx context.Context, pass PassFunc) error {
	run := func(reason string) {
		if ctx.Err() != nil {
			return
		}
		log.Printf("Starting pass (%s)", reason)
		if err := pass(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Pass error: %v", err)
		}
	}

	run("startup")

	debounce := time.NewTimer(w.opts.Debounce)
	debounce.Stop()
	defer debounce.Stop()
	ticker := time.NewTicker(w.opts.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			// our own renames and deletes land here too; the debounce absorbs them
			debounce.Reset(w.opts.Debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("Watcher error: %v", err)

		case <-debounce.C:
			run("file changes")

		case <-ticker.C:
			run("rescan")

		case <-w.trigger:
			run("manual")

		case <-ctx.Done():
			return nil
		}
	}
}
