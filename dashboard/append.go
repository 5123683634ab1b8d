package dashboard

import "aurora-analytics/collector"

// Append folds one snapshot into the model.
//
// Games and populations are matched by id only. A new entry takes the name
// carried by the snapshot that created it; later snapshots never rename it.
// The same snapshot appended twice yields duplicate points.
func (d *Dashboard) Append(snap collector.Snapshot) {
	if d.Games == nil {
		d.Games = make(map[uint32]*GameSeries)
	}

	for i := range snap.Games {
		gs := &snap.Games[i]
		date := gs.Timestamp()
		game := d.game(gs.Game.GameID, gs.Game.GameName)

		if gs.Race != nil {
			for _, f := range GameFields {
				series(game.Fields, f.Name).add(date, f.Value(gs.Race))
			}
		}

		for j := range gs.Populations {
			ps := &gs.Populations[j]
			pop := game.population(ps.PopulationID, ps.PopName)
			for _, f := range PopulationFields {
				series(pop.Fields, f.Name).add(date, f.Value(ps))
			}
		}
	}
}

// Rebuild returns a fresh model built by appending snaps in order. The order
// matters for names: the first snapshot to mention an entity names it.
func Rebuild(snaps []collector.Snapshot) *Dashboard {
	d := New()
	for _, s := range snaps {
		d.Append(s)
	}
	return d
}

func (d *Dashboard) game(id uint32, name string) *GameSeries {
	g, ok := d.Games[id]
	if !ok {
		g = &GameSeries{
			GameID:      id,
			GameName:    name,
			Fields:      make(map[string]*Series),
			Populations: make(map[uint32]*PopulationSeries),
		}
		d.Games[id] = g
	}
	return g
}

func (g *GameSeries) population(id uint32, name string) *PopulationSeries {
	p, ok := g.Populations[id]
	if !ok {
		p = &PopulationSeries{
			PopulationID:   id,
			PopulationName: name,
			Fields:         make(map[string]*Series),
		}
		g.Populations[id] = p
	}
	return p
}
