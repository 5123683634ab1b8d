package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Fetcher downloads a remote save file. It is satisfied by *remote.Fetcher.
type Fetcher interface {
	// FetchIfNewer copies the file to dst when it was modified after since
	// and reports the remote modification time and whether it copied. A
	// zero since always copies.
	FetchIfNewer(ctx context.Context, dst string, since time.Time) (time.Time, bool, error)
}

// RemoteSource copies a save file from another machine into CachePath and
// extracts it from there. The remote modification time is remembered so
// unchanged files are not extracted twice.
type RemoteSource struct {
	Fetcher   Fetcher
	CachePath string
	Log       *zap.Logger

	mu      sync.Mutex
	lastMod time.Time
}

// NewRemoteSource returns a RemoteSource caching downloads at cachePath.
func NewRemoteSource(f Fetcher, cachePath string, log *zap.Logger) *RemoteSource {
	return &RemoteSource{Fetcher: f, CachePath: cachePath, Log: log}
}

// Extract implements Source.
func (r *RemoteSource) Extract(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mod, fetched, err := r.Fetcher.FetchIfNewer(ctx, r.CachePath, r.lastMod)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if !fetched {
		return Snapshot{}, ErrUnchanged
	}

	snap, err := NewAuroraSource(r.CachePath, r.Log).Extract(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	r.lastMod = mod
	return snap, nil
}
