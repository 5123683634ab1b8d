// Package storage persists the raw snapshot log and the aggregated model.
//
// The snapshot log is newline-delimited JSON, one collector.Snapshot per
// line, only ever appended to. The model is a single JSON document replaced
// atomically on every save.
package storage

import (
	"errors"
	"fmt"

	"aurora-analytics/collector"
	"aurora-analytics/dashboard"
)

var (
	// ErrNotFound is returned when the log or model document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrParse matches every *ParseError.
	ErrParse = errors.New("parse error")

	// ErrWrite is returned when a log append or model save fails. The
	// caller's in-memory state is untouched.
	ErrWrite = errors.New("write failure")
)

// ParseError reports a malformed snapshot log line or model document.
// Line is 1-based; it is 0 for the model document.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParse) true for any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Log abstracts the append-only snapshot log.
type Log interface {
	// Append writes one snapshot as a single line. Either the whole line is
	// written or the call fails with ErrWrite.
	Append(snap collector.Snapshot) error

	// Replay calls fn for every recorded snapshot in recording order. The
	// first malformed line stops the replay with a *ParseError.
	Replay(fn func(line int, snap collector.Snapshot) error) error
}

// Models abstracts load/save of the aggregated model document.
type Models interface {
	Load() (*dashboard.Dashboard, error)
	Save(d *dashboard.Dashboard) error
}

// RebuildFromLog regenerates the model by replaying the whole log in
// recording order.
func RebuildFromLog(l Log) (*dashboard.Dashboard, error) {
	d := dashboard.New()
	err := l.Replay(func(_ int, snap collector.Snapshot) error {
		d.Append(snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}
