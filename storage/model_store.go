package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"aurora-analytics/dashboard"
)

// ModelStore loads and saves the aggregated model document at Path.
type ModelStore struct {
	Path string
	log  *zap.Logger
}

// NewModelStore returns a store for the document at path.
func NewModelStore(path string, log *zap.Logger) *ModelStore {
	return &ModelStore{Path: path, log: log}
}

// Load implements Models. It fails with ErrNotFound when the document does
// not exist and with a *ParseError when it is malformed.
func (s *ModelStore) Load() (*dashboard.Dashboard, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("model %s: %w", s.Path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var d dashboard.Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &ParseError{Path: s.Path, Err: err}
	}
	if err := d.Check(); err != nil {
		return nil, &ParseError{Path: s.Path, Err: err}
	}
	d.Normalize()
	return &d, nil
}

// Raw returns the stored document bytes without decoding them.
func (s *ModelStore) Raw() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("model %s: %w", s.Path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return data, nil
}

// Save implements Models. The document is written to a temporary file in
// the target directory, synced and renamed over Path, so a crash leaves
// either the previous document or the new one.
func (s *ModelStore) Save(d *dashboard.Dashboard) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode model: %v", ErrWrite, err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create model dir: %v", ErrWrite, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp model: %v", ErrWrite, err)
	}
	tmpPath := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp model: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: replace model: %v", ErrWrite, err)
	}

	s.log.Info("dashboard updated",
		zap.String("path", s.Path),
		zap.Int("games", len(d.Games)),
		zap.Int("points", d.PointCount()),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
	)
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
