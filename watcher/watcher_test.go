package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func runWatcher(t *testing.T, w *Watcher, fn func(context.Context) error) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, fn) }()

	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop after cancel")
		}
	}
}

func TestWatchCoalescesBurst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AuroraDB.db")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var calls atomic.Int32
	w := &Watcher{Path: path, Debounce: 150 * time.Millisecond, Settle: 20 * time.Millisecond, Log: zaptest.NewLogger(t)}
	cancel := runWatcher(t, w, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	defer cancel()

	// let the watch register before writing
	time.Sleep(100 * time.Millisecond)
	for i := range 5 {
		if err := os.WriteFile(path, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call for the burst, got %d", got)
	}
}

func TestWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AuroraDB.db")

	var calls atomic.Int32
	w := &Watcher{Path: path, Debounce: 50 * time.Millisecond, Log: zaptest.NewLogger(t)}
	cancel := runWatcher(t, w, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	defer cancel()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no calls, got %d", got)
	}
}

func TestWatchKeepsRunningAfterError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AuroraDB.db")

	var calls atomic.Int32
	w := &Watcher{Path: path, Debounce: 30 * time.Millisecond, Log: zaptest.NewLogger(t)}
	cancel := runWatcher(t, w, func(context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	})
	defer cancel()

	time.Sleep(100 * time.Millisecond)
	for i := range 2 {
		if err := os.WriteFile(path, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(250 * time.Millisecond)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestPollDetectsModification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AuroraDB.db")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var calls atomic.Int32
	w := &Watcher{Path: path, Poll: 20 * time.Millisecond, Log: zaptest.NewLogger(t)}
	cancel := runWatcher(t, w, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	defer cancel()

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no calls before a change, got %d", got)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 call after the change, got %d", got)
	}
}

func TestPollWithoutPathRunsEveryTick(t *testing.T) {
	var calls atomic.Int32
	w := &Watcher{Poll: 20 * time.Millisecond, Log: zaptest.NewLogger(t)}
	cancel := runWatcher(t, w, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	time.Sleep(150 * time.Millisecond)
	cancel()

	if got := calls.Load(); got < 2 {
		t.Fatalf("expected several calls, got %d", got)
	}
}

func TestRunStopsDuringSettle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AuroraDB.db")

	var calls atomic.Int32
	w := &Watcher{Path: path, Debounce: 10 * time.Millisecond, Settle: time.Hour, Log: zaptest.NewLogger(t)}
	cancel := runWatcher(t, w, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()

	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no calls, got %d", got)
	}
}
