package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"aurora-analytics/collector"
)

// SnapshotLog is the NDJSON snapshot log at Path.
type SnapshotLog struct {
	Path string
	log  *zap.Logger
}

// NewSnapshotLog returns a log stored at path. The file is created on the
// first append.
func NewSnapshotLog(path string, log *zap.Logger) *SnapshotLog {
	return &SnapshotLog{Path: path, log: log}
}

// Append implements Log.
func (l *SnapshotLog) Append(snap collector.Snapshot) error {
	line, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", ErrWrite, err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return fmt.Errorf("%w: create log dir: %v", ErrWrite, err)
	}
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrWrite, l.Path, err)
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: append %s: %v", ErrWrite, l.Path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrWrite, l.Path, err)
	}

	if size, err := l.Size(); err == nil {
		l.log.Info("snapshot appended",
			zap.String("path", l.Path),
			zap.Int("games", len(snap.Games)),
			zap.Int("populations", snap.PopulationCount()),
			zap.String("log_size", humanize.Bytes(uint64(size))),
		)
	}
	return nil
}

// Replay implements Log. Blank lines are skipped.
func (l *SnapshotLog) Replay(fn func(line int, snap collector.Snapshot) error) error {
	f, err := os.Open(l.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("snapshot log %s: %w", l.Path, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("open snapshot log: %w", err)
	}
	defer f.Close()

	// Lines can be large for long games; ReadBytes has no line limit.
	r := bufio.NewReader(f)
	for n := 1; ; n++ {
		raw, err := r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read snapshot log: %w", err)
		}
		eof := err != nil

		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
			var snap collector.Snapshot
			if err := json.Unmarshal(trimmed, &snap); err != nil {
				return &ParseError{Path: l.Path, Line: n, Err: err}
			}
			if err := fn(n, snap); err != nil {
				return err
			}
		}

		if eof {
			return nil
		}
	}
}

// ReadAll returns every recorded snapshot in order.
func (l *SnapshotLog) ReadAll() ([]collector.Snapshot, error) {
	var snaps []collector.Snapshot
	err := l.Replay(func(_ int, snap collector.Snapshot) error {
		snaps = append(snaps, snap)
		return nil
	})
	return snaps, err
}

// Size returns the size of the log file in bytes.
func (l *SnapshotLog) Size() (int64, error) {
	fi, err := os.Stat(l.Path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
