package dashboard

import "aurora-analytics/collector"

// PopulationField maps a tracked field name to its value on a population.
type PopulationField struct {
	Name  string
	Value func(p *collector.PopulationSnapshot) float64
}

// GameField maps a tracked game-level field name to its value on the player
// race.
type GameField struct {
	Name  string
	Value func(r *collector.Race) float64
}

// PopulationFields is the fixed set of population metrics that get a
// series. Fields missing from older saves read as zero.
var PopulationFields = []PopulationField{
	{"fuel_stockpile", func(p *collector.PopulationSnapshot) float64 { return p.FuelStockpile }},
	{"maintenance_stockpile", func(p *collector.PopulationSnapshot) float64 { return p.MaintenanceStockpile }},
	{"population", func(p *collector.PopulationSnapshot) float64 { return p.Population }},
	{"duranium", func(p *collector.PopulationSnapshot) float64 { return p.Duranium }},
	{"neutronium", func(p *collector.PopulationSnapshot) float64 { return p.Neutronium }},
	{"corbomite", func(p *collector.PopulationSnapshot) float64 { return p.Corbomite }},
	{"tritanium", func(p *collector.PopulationSnapshot) float64 { return p.Tritanium }},
	{"boronide", func(p *collector.PopulationSnapshot) float64 { return p.Boronide }},
	{"mercassium", func(p *collector.PopulationSnapshot) float64 { return p.Mercassium }},
	{"vendarite", func(p *collector.PopulationSnapshot) float64 { return p.Vendarite }},
	{"sorium", func(p *collector.PopulationSnapshot) float64 { return p.Sorium }},
	{"uridium", func(p *collector.PopulationSnapshot) float64 { return orZero(p.Uridium) }},
	{"corundium", func(p *collector.PopulationSnapshot) float64 { return p.Corundium }},
	{"gallicite", func(p *collector.PopulationSnapshot) float64 { return p.Gallicite }},
}

// GameFields is the fixed set of game-level metrics, recorded only when the
// snapshot carries race data.
var GameFields = []GameField{
	{"wealth", func(r *collector.Race) float64 { return r.Wealth }},
	{"annual_wealth", func(r *collector.Race) float64 { return r.AnnualWealth }},
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
