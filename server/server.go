// Package server exposes the aggregated model over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"aurora-analytics/dashboard"
)

// ModelReader is the read side of the model store. *storage.ModelStore
// satisfies it.
type ModelReader interface {
	Load() (*dashboard.Dashboard, error)
	Raw() ([]byte, error)
}

// Server answers queries against the saved model. The model is read from
// the store on every request, so a concurrently running collector is
// picked up without restarting.
type Server struct {
	Addr      string
	IndexPath string // page served at "/"; empty disables it

	models ModelReader
	log    *zap.Logger
}

// New returns a server reading models from m.
func New(addr, indexPath string, m ModelReader, log *zap.Logger) *Server {
	return &Server{Addr: addr, IndexPath: indexPath, models: m, log: log}
}

// Handler returns the routed handler, request logging included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// http://localhost:8080/
	mux.HandleFunc("GET /{$}", s.handleIndex)

	// http://localhost:8080/data
	mux.HandleFunc("GET /data", s.handleData)

	// http://localhost:8080/games
	mux.HandleFunc("GET /games", s.handleGames)

	// http://localhost:8080/games/1
	mux.HandleFunc("GET /games/{game_id}", s.handleGame)

	// http://localhost:8080/games/1/populations
	mux.HandleFunc("GET /games/{game_id}/populations", s.handlePopulations)

	// http://localhost:8080/games/1/populations/7
	mux.HandleFunc("GET /games/{game_id}/populations/{population_id}", s.handlePopulation)

	return s.withRequestID(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("query server listening", zap.String("addr", s.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("query server stopped")
	return nil
}
