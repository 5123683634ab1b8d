package dashboard

import (
	"cmp"
	"slices"
)

// Entry is an (id, name) pair used by list queries.
type Entry struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// GameList lists every known game, ordered by id.
func (d *Dashboard) GameList() []Entry {
	out := make([]Entry, 0, len(d.Games))
	for id, g := range d.Games {
		out = append(out, Entry{ID: id, Name: g.GameName})
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Game returns the game with the given id.
func (d *Dashboard) Game(id uint32) (*GameSeries, bool) {
	g, ok := d.Games[id]
	return g, ok
}

// PopulationList lists the populations of g, ordered by id.
func (g *GameSeries) PopulationList() []Entry {
	out := make([]Entry, 0, len(g.Populations))
	for id, p := range g.Populations {
		out = append(out, Entry{ID: id, Name: p.PopulationName})
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Population returns the population with the given id.
func (g *GameSeries) Population(id uint32) (*PopulationSeries, bool) {
	p, ok := g.Populations[id]
	return p, ok
}

// Field returns the named series of p.
func (p *PopulationSeries) Field(name string) (*Series, bool) {
	s, ok := p.Fields[name]
	return s, ok
}

// Field returns the named game-level series of g.
func (g *GameSeries) Field(name string) (*Series, bool) {
	s, ok := g.Fields[name]
	return s, ok
}

// FieldNames returns the names of the series p holds, in the order of
// PopulationFields. Names not in the table (from documents written by other
// versions) follow in lexical order.
func (p *PopulationSeries) FieldNames() []string {
	return orderedNames(p.Fields, populationFieldOrder)
}

// FieldNames returns the names of the game-level series of g, in the order
// of GameFields.
func (g *GameSeries) FieldNames() []string {
	return orderedNames(g.Fields, gameFieldOrder)
}

var (
	populationFieldOrder = fieldOrder(len(PopulationFields), func(i int) string { return PopulationFields[i].Name })
	gameFieldOrder       = fieldOrder(len(GameFields), func(i int) string { return GameFields[i].Name })
)

func fieldOrder(n int, name func(int) string) map[string]int {
	m := make(map[string]int, n)
	for i := range n {
		m[name(i)] = i
	}
	return m
}

func orderedNames(fields map[string]*Series, order map[string]int) []string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	slices.SortFunc(names, func(a, b string) int {
		ia, aok := order[a]
		ib, bok := order[b]
		switch {
		case aok && bok:
			return cmp.Compare(ia, ib)
		case aok:
			return -1
		case bok:
			return 1
		}
		return cmp.Compare(a, b)
	})
	return names
}

// PointCount returns the total number of points held by the model.
func (d *Dashboard) PointCount() int {
	n := 0
	for _, g := range d.Games {
		for _, s := range g.Fields {
			n += s.Len()
		}
		for _, p := range g.Populations {
			for _, s := range p.Fields {
				n += s.Len()
			}
		}
	}
	return n
}
