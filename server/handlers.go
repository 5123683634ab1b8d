package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"aurora-analytics/dashboard"
	"aurora-analytics/logger"
)

type message struct {
	Error string `json:"error"`
}

// gameSummary is a game without its populations.
type gameSummary struct {
	GameID   uint32                       `json:"game_id"`
	GameName string                       `json:"game_name"`
	Fields   map[string]*dashboard.Series `json:"fields"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, message{Error: msg})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.IndexPath == "" {
		writeError(w, http.StatusNotFound, "no index page configured")
		return
	}
	http.ServeFile(w, r, s.IndexPath)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	raw, err := s.models.Raw()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	d, ok := s.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d.GameList())
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "game_id")
	if !ok {
		return
	}
	d, ok := s.load(w, r)
	if !ok {
		return
	}
	g, found := d.Game(gameID)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("game %d not found", gameID))
		return
	}
	writeJSON(w, http.StatusOK, gameSummary{GameID: g.GameID, GameName: g.GameName, Fields: g.Fields})
}

// handlePopulations answers an unknown game with an empty list.
func (s *Server) handlePopulations(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "game_id")
	if !ok {
		return
	}
	d, ok := s.load(w, r)
	if !ok {
		return
	}
	g, found := d.Game(gameID)
	if !found {
		writeJSON(w, http.StatusOK, []dashboard.Entry{})
		return
	}
	writeJSON(w, http.StatusOK, g.PopulationList())
}

func (s *Server) handlePopulation(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathID(w, r, "game_id")
	if !ok {
		return
	}
	popID, ok := pathID(w, r, "population_id")
	if !ok {
		return
	}
	d, ok := s.load(w, r)
	if !ok {
		return
	}

	g, found := d.Game(gameID)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("game %d not found", gameID))
		return
	}
	p, found := g.Population(popID)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("population %d not found in game %d", popID, gameID))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) load(w http.ResponseWriter, r *http.Request) (*dashboard.Dashboard, bool) {
	d, err := s.models.Load()
	if err != nil {
		s.serverError(w, r, err)
		return nil, false
	}
	return d, true
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context(), s.log).Error("load model", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "model unavailable")
}

// pathID parses a numeric path parameter, answering 400 when malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint32, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return uint32(id), true
}
