// Package pipeline runs collection passes: extract a snapshot, record it in
// the snapshot log, fold it into the aggregated model and save the model.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"aurora-analytics/collector"
	"aurora-analytics/dashboard"
	"aurora-analytics/logger"
	"aurora-analytics/storage"
)

// Options tunes a Pipeline.
type Options struct {
	Retry  collector.RetryPolicy
	Logger *zap.Logger
}

// Pipeline owns the in-memory model. Passes are serialised; it is safe to
// call its methods from several goroutines.
type Pipeline struct {
	src    collector.Source
	snaps  storage.Log
	models storage.Models
	opts   Options
	log    *zap.Logger

	mu    sync.Mutex
	model *dashboard.Dashboard
	dirty bool // model holds data the store has not accepted yet
}

// New prepares a pipeline. The model is loaded from models; if no model has
// been saved yet it is rebuilt from the snapshot log, and if there is no log
// either the pipeline starts empty. src may be nil for pipelines that only
// rebuild or import.
func New(src collector.Source, snaps storage.Log, models storage.Models, opts Options) (*Pipeline, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{src: src, snaps: snaps, models: models, opts: opts, log: log}

	model, err := models.Load()
	switch {
	case err == nil:
		log.Info("model loaded", zap.Int("games", len(model.Games)), zap.Int("points", model.PointCount()))
	case errors.Is(err, storage.ErrNotFound):
		model, err = storage.RebuildFromLog(snaps)
		switch {
		case err == nil:
			p.dirty = true
			log.Info("model rebuilt from snapshot log", zap.Int("games", len(model.Games)))
		case errors.Is(err, storage.ErrNotFound):
			model = dashboard.New()
			log.Info("starting with an empty model")
		default:
			return nil, fmt.Errorf("rebuild model: %w", err)
		}
	default:
		return nil, fmt.Errorf("load model: %w", err)
	}

	p.model = model
	if p.dirty {
		if err := p.save(); err != nil {
			log.Warn("rebuilt model not saved, will retry", zap.Error(err))
		}
	}
	return p, nil
}

// RunPass performs one collection pass. A source reporting ErrUnchanged
// skips the pass without error. If only the final save fails, the model
// keeps the new data and the next pass or Flush retries the save, even when
// that pass records nothing.
func (p *Pipeline) RunPass(ctx context.Context) error {
	if p.src == nil {
		return errors.New("pipeline has no source")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	log := logger.WithPassID(p.log, uuid.NewString())
	start := time.Now()

	snap, err := collector.Retry(ctx, p.src, p.opts.Retry, log)
	if errors.Is(err, collector.ErrUnchanged) {
		log.Debug("source unchanged, pass skipped")
		return p.savePending(log)
	}
	if err != nil {
		return multierr.Append(err, p.savePending(log))
	}

	if err := p.snaps.Append(snap); err != nil {
		return multierr.Append(fmt.Errorf("record snapshot: %w", err), p.savePending(log))
	}
	p.model.Append(snap)
	p.dirty = true

	if err := p.save(); err != nil {
		return err
	}
	log.Info("pass complete",
		zap.Int("games", len(snap.Games)),
		zap.Int("populations", snap.PopulationCount()),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// Rebuild regenerates the model from the snapshot log and saves it,
// replacing the in-memory model. A corrupt log leaves the model untouched.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	model, err := storage.RebuildFromLog(p.snaps)
	if err != nil {
		return fmt.Errorf("rebuild model: %w", err)
	}
	p.model = model
	p.dirty = true
	if err := p.save(); err != nil {
		return err
	}
	p.log.Info("model rebuilt", zap.Int("games", len(model.Games)), zap.Int("points", model.PointCount()))
	return nil
}

// Flush saves the model if an earlier save failed.
func (p *Pipeline) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		return nil
	}
	return p.save()
}

// Dirty reports whether the model has changes the store has not accepted.
func (p *Pipeline) Dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// Model returns the in-memory model. Callers must not modify it.
func (p *Pipeline) Model() *dashboard.Dashboard {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// savePending retries a save that failed earlier. Must be called with mu
// held.
func (p *Pipeline) savePending(log *zap.Logger) error {
	if !p.dirty {
		return nil
	}
	if err := p.save(); err != nil {
		return err
	}
	log.Info("pending model saved")
	return nil
}

// save must be called with mu held.
func (p *Pipeline) save() error {
	if err := p.models.Save(p.model); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	p.dirty = false
	return nil
}

// record appends already extracted snapshots in order. On a log failure the
// snapshots recorded so far stay in the model and a save is still attempted.
// Must be called with mu held.
func (p *Pipeline) record(snaps []collector.Snapshot) error {
	var appendErr error
	for i, snap := range snaps {
		if err := p.snaps.Append(snap); err != nil {
			appendErr = fmt.Errorf("record snapshot %d: %w", i, err)
			break
		}
		p.model.Append(snap)
		p.dirty = true
	}
	if !p.dirty {
		return appendErr
	}
	return multierr.Append(appendErr, p.save())
}
