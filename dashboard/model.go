// Package dashboard folds extracted snapshots into per-entity time series.
//
// The model is keyed game -> population -> field. Keys are created the
// first time they are observed and are never removed; every Series stays
// sorted by timestamp after each append.
package dashboard

import (
	"fmt"
	"slices"
	"sort"
)

// Point is one observation of a field. X is the in-game timestamp in
// seconds, Y the observed value.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Series is the history of one field of one entity.
type Series struct {
	Name       string  `json:"name"`
	Historical []Point `json:"historical"`
}

// add appends a point and restores timestamp order. Points with equal
// timestamps keep their insertion order. The series must already be sorted,
// which Normalize guarantees for loaded documents.
func (s *Series) add(x, y float64) {
	s.Historical = append(s.Historical, Point{X: x, Y: y})
	n := len(s.Historical)
	if n > 1 && s.Historical[n-2].X > x {
		s.sort()
	}
}

func (s *Series) sort() {
	slices.SortStableFunc(s.Historical, func(a, b Point) int {
		switch {
		case a.X < b.X:
			return -1
		case a.X > b.X:
			return 1
		}
		return 0
	})
}

// Len returns the number of points.
func (s *Series) Len() int { return len(s.Historical) }

// Sorted reports whether the points are ordered by timestamp.
func (s *Series) Sorted() bool {
	return sort.SliceIsSorted(s.Historical, func(i, j int) bool {
		return s.Historical[i].X < s.Historical[j].X
	})
}

// PopulationSeries holds the field histories of one population.
type PopulationSeries struct {
	PopulationID   uint32             `json:"population_id"`
	PopulationName string             `json:"population_name"`
	Fields         map[string]*Series `json:"fields"`
}

// GameSeries holds game-level field histories and the populations of one
// game.
type GameSeries struct {
	GameID      uint32                       `json:"game_id"`
	GameName    string                       `json:"game_name"`
	Fields      map[string]*Series           `json:"fields"`
	Populations map[uint32]*PopulationSeries `json:"populations"`
}

// Dashboard is the aggregated time series model. It is not safe for
// concurrent mutation; callers serialise Append.
type Dashboard struct {
	Games map[uint32]*GameSeries `json:"games"`
}

// New returns an empty model.
func New() *Dashboard {
	return &Dashboard{Games: make(map[uint32]*GameSeries)}
}

// Check reports null game, population or series entries, which a decoded
// document can hold but Append cannot work with.
func (d *Dashboard) Check() error {
	for id, g := range d.Games {
		if g == nil {
			return fmt.Errorf("game %d is null", id)
		}
		if err := checkSeries(g.Fields); err != nil {
			return fmt.Errorf("game %d: %w", id, err)
		}
		for pid, p := range g.Populations {
			if p == nil {
				return fmt.Errorf("game %d: population %d is null", id, pid)
			}
			if err := checkSeries(p.Fields); err != nil {
				return fmt.Errorf("game %d: population %d: %w", id, pid, err)
			}
		}
	}
	return nil
}

func checkSeries(fields map[string]*Series) error {
	for name, s := range fields {
		if s == nil {
			return fmt.Errorf("series %q is null", name)
		}
	}
	return nil
}

// Normalize replaces nil maps and slices, as found in hand-written or
// truncated documents, with empty ones and sorts every series by timestamp.
// Call Check first.
func (d *Dashboard) Normalize() {
	if d.Games == nil {
		d.Games = make(map[uint32]*GameSeries)
	}
	for _, g := range d.Games {
		if g.Fields == nil {
			g.Fields = make(map[string]*Series)
		}
		if g.Populations == nil {
			g.Populations = make(map[uint32]*PopulationSeries)
		}
		normalizeSeries(g.Fields)
		for _, p := range g.Populations {
			if p.Fields == nil {
				p.Fields = make(map[string]*Series)
			}
			normalizeSeries(p.Fields)
		}
	}
}

func normalizeSeries(fields map[string]*Series) {
	for _, s := range fields {
		if s.Historical == nil {
			s.Historical = []Point{}
		}
		if !s.Sorted() {
			s.sort()
		}
	}
}

// series looks up or creates the named series in fields.
func series(fields map[string]*Series, name string) *Series {
	s, ok := fields[name]
	if !ok {
		s = &Series{Name: name, Historical: []Point{}}
		fields[name] = s
	}
	return s
}
