package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"aurora-analytics/collector"
	"aurora-analytics/storage"
)

func delayed(ts float64, d time.Duration) collector.Source {
	return collector.SourceFunc(func(ctx context.Context) (collector.Snapshot, error) {
		select {
		case <-time.After(d):
			return snapshotAt(ts), nil
		case <-ctx.Done():
			return collector.Snapshot{}, ctx.Err()
		}
	})
}

func TestImportRecordsInGivenOrder(t *testing.T) {
	snaps, models := stores(t)
	p, err := New(nil, snaps, models, Options{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// later sources finish first
	sources := []collector.Source{
		delayed(30, 60*time.Millisecond),
		delayed(10, 30*time.Millisecond),
		delayed(20, 0),
	}
	if err := p.Import(context.Background(), sources, 3); err != nil {
		t.Fatalf("import: %v", err)
	}

	recorded, err := snaps.ReadAll()
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var got []float64
	for _, s := range recorded {
		got = append(got, s.Games[0].Timestamp())
	}
	if len(got) != 3 || got[0] != 30 || got[1] != 10 || got[2] != 20 {
		t.Fatalf("expected log order 30,10,20, got %v", got)
	}

	// the model itself is sorted by time
	points := populationPoints(t, p.Model())
	for i := 1; i < len(points); i++ {
		if points[i-1].X > points[i].X {
			t.Fatalf("series not sorted: %v", points)
		}
	}
	if _, err := models.Load(); err != nil {
		t.Fatalf("expected saved model: %v", err)
	}
}

func TestImportBoundsConcurrency(t *testing.T) {
	snaps, models := stores(t)
	p, err := New(nil, snaps, models, Options{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var running, peak atomic.Int32
	var sources []collector.Source
	for i := range 6 {
		sources = append(sources, collector.SourceFunc(func(context.Context) (collector.Snapshot, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return snapshotAt(float64(i)), nil
		}))
	}

	if err := p.Import(context.Background(), sources, 2); err != nil {
		t.Fatalf("import: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent extractions, saw %d", peak.Load())
	}
}

func TestImportFailureWritesNothing(t *testing.T) {
	snaps, models := stores(t)
	p, err := New(nil, snaps, models, Options{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	failing := collector.SourceFunc(func(context.Context) (collector.Snapshot, error) {
		return collector.Snapshot{}, collector.ErrSourceUnavailable
	})
	sources := []collector.Source{delayed(1, 0), failing, delayed(2, time.Second)}

	err = p.Import(context.Background(), sources, 2)
	if !errors.Is(err, collector.ErrSourceUnavailable) {
		t.Fatalf("expected source unavailable, got %v", err)
	}
	if _, err := snaps.ReadAll(); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected empty log, got %v", err)
	}
	if len(p.Model().Games) != 0 {
		t.Fatal("expected untouched model")
	}
}

func TestImportRejectsZeroWorkers(t *testing.T) {
	snaps, models := stores(t)
	p, err := New(nil, snaps, models, Options{Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Import(context.Background(), []collector.Source{delayed(1, 0)}, 0); err == nil {
		t.Fatal("expected error for zero workers")
	}
}
