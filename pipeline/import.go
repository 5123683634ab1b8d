package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aurora-analytics/collector"
)

type job struct {
	idx int
	src collector.Source
}

// Import extracts every source with at most workers extractions running at
// once, then records the snapshots in the order the sources were given. The
// first failed extraction cancels the others and nothing is recorded.
func (p *Pipeline) Import(ctx context.Context, sources []collector.Source, workers int) error {
	if len(sources) == 0 {
		return nil
	}
	if workers < 1 {
		return fmt.Errorf("import needs at least one worker, got %d", workers)
	}
	workers = min(workers, len(sources))

	jobs := make(chan job, len(sources))
	for i, src := range sources {
		jobs <- job{idx: i, src: src}
	}
	close(jobs)

	results := make([]collector.Snapshot, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for w := 1; w <= workers; w++ {
		g.Go(func() error {
			for j := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				p.log.Debug("worker started", zap.Int("worker", w), zap.Int("source", j.idx))
				snap, err := collector.Retry(gctx, j.src, p.opts.Retry, p.log)
				if err != nil {
					return fmt.Errorf("source %d: %w", j.idx, err)
				}
				results[j.idx] = snap
				p.log.Debug("worker finished", zap.Int("worker", w), zap.Int("source", j.idx))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(results); err != nil {
		return fmt.Errorf("import: %w", err)
	}
	p.log.Info("import complete", zap.Int("sources", len(sources)), zap.Int("points", p.model.PointCount()))
	return nil
}
