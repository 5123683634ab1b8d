package collector

// secondsPerYear matches the game's calendar: a year is 365 days.
const secondsPerYear = 60 * 60 * 24 * 365

// Game is one row of FCT_Game.
type Game struct {
	GameID     uint32  `json:"game_id" db:"GameID"`
	GameName   string  `json:"game_name" db:"GameName"`
	GameTime   float64 `json:"game_time" db:"GameTime"` // elapsed in-game seconds
	StartYear  uint32  `json:"start_year" db:"StartYear"`
	LastViewed float64 `json:"last_viewed" db:"LastViewed"`
}

// Year returns the in-game calendar year.
func (g Game) Year() uint32 {
	return uint32(g.GameTime/secondsPerYear) + g.StartYear
}

// Race holds the game-level scalars of the player race. Older saves do not
// carry them, in which case GameSnapshot.Race is nil.
type Race struct {
	RaceID       uint32  `json:"race_id" db:"RaceID"`
	Wealth       float64 `json:"wealth" db:"WealthPoints"`
	AnnualWealth float64 `json:"annual_wealth" db:"AnnualWealth"`
}

// MineralDeposit is a mineral present on a population's system body.
type MineralDeposit struct {
	MaterialID uint32  `json:"material_id" db:"MaterialID"`
	Amount     float64 `json:"amount" db:"Amount"`
	Acc        float64 `json:"acc" db:"Accessibility"`
}

// PopulationSnapshot is one row of FCT_Population at snapshot time.
// Optional fields are pointers; they are nil when the save predates them.
type PopulationSnapshot struct {
	PopulationID         uint32           `json:"population_id" db:"PopulationID"`
	SystemID             *uint32          `json:"system_id,omitempty" db:"SystemID"`
	SystemBodyID         *uint32          `json:"system_body_id,omitempty" db:"SystemBodyID"`
	PopName              string           `json:"pop_name" db:"PopName"`
	FuelStockpile        float64          `json:"fuel_stockpile" db:"FuelStockpile"`
	MaintenanceStockpile float64          `json:"maintenance_stockpile" db:"MaintenanceStockpile"`
	Population           float64          `json:"population" db:"Population"`
	Duranium             float64          `json:"duranium" db:"Duranium"`
	Neutronium           float64          `json:"neutronium" db:"Neutronium"`
	Corbomite            float64          `json:"corbomite" db:"Corbomite"`
	Tritanium            float64          `json:"tritanium" db:"Tritanium"`
	Boronide             float64          `json:"boronide" db:"Boronide"`
	Mercassium           float64          `json:"mercassium" db:"Mercassium"`
	Vendarite            float64          `json:"vendarite" db:"Vendarite"`
	Sorium               float64          `json:"sorium" db:"Sorium"`
	Uridium              *float64         `json:"uridium,omitempty" db:"Uridium"`
	Corundium            float64          `json:"corundium" db:"Corundium"`
	Gallicite            float64          `json:"gallicite" db:"Gallicite"`
	Minerals             []MineralDeposit `json:"minerals,omitempty" db:"-"`
}

// GameSnapshot is the extracted state of a single game.
type GameSnapshot struct {
	Game        Game                 `json:"game"`
	RaceID      uint32               `json:"race_id"`
	Populations []PopulationSnapshot `json:"populations"`
	Race        *Race                `json:"race,omitempty"`
}

// Timestamp is the x coordinate used for every point taken from this game.
func (g GameSnapshot) Timestamp() float64 { return g.Game.GameTime }

// Snapshot is the result of a single extraction. One JSON-encoded Snapshot
// is written per line of the snapshot log.
type Snapshot struct {
	Games []GameSnapshot `json:"games"`
}

// PopulationCount returns the number of populations across all games.
func (s Snapshot) PopulationCount() int {
	n := 0
	for _, g := range s.Games {
		n += len(g.Populations)
	}
	return n
}
