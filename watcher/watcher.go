// Package watcher triggers work when a file changes.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher calls a function once a burst of changes to Path has settled.
//
// A change (re)arms a Debounce timer; when the timer fires the watcher waits
// a further Settle period so the writer can finish, then runs the function.
// With Poll > 0 the file is polled for modification time changes instead;
// with Poll > 0 and an empty Path the function runs on every tick.
type Watcher struct {
	Path     string
	Debounce time.Duration
	Settle   time.Duration
	Poll     time.Duration
	Log      *zap.Logger
}

// Run blocks until ctx is cancelled. Errors returned by fn are logged and
// do not stop the loop.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context) error) error {
	if w.Poll > 0 {
		return w.poll(ctx, fn)
	}
	return w.watch(ctx, fn)
}

func (w *Watcher) watch(ctx context.Context, fn func(context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory: editors and games often replace the file, which
	// drops a watch placed on the file itself.
	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	w.Log.Info("monitoring", zap.String("path", target))

	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	defer timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			w.Log.Debug("change noticed", zap.String("op", ev.Op.String()))
			timer.Reset(w.Debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			if !sleep(ctx, w.Settle) {
				return nil
			}
			w.trigger(ctx, fn)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Log.Error("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) poll(ctx context.Context, fn func(context.Context) error) error {
	ticker := time.NewTicker(w.Poll)
	defer ticker.Stop()
	w.Log.Info("polling", zap.String("path", w.Path), zap.Duration("interval", w.Poll))

	var last time.Time
	if w.Path != "" {
		if fi, err := os.Stat(w.Path); err == nil {
			last = fi.ModTime()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if w.Path != "" {
			fi, err := os.Stat(w.Path)
			if err != nil {
				w.Log.Warn("stat failed", zap.String("path", w.Path), zap.Error(err))
				continue
			}
			if !fi.ModTime().After(last) {
				continue
			}
			last = fi.ModTime()
			if !sleep(ctx, w.Settle) {
				return nil
			}
		}
		w.trigger(ctx, fn)
	}
}

func (w *Watcher) trigger(ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		w.Log.Error("pass failed", zap.Error(err))
	}
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
