package collector

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// AuroraSource extracts snapshots from an Aurora save file.
type AuroraSource struct {
	Path string
	Log  *zap.Logger
}

// NewAuroraSource returns a source reading the save file at path.
func NewAuroraSource(path string, log *zap.Logger) *AuroraSource {
	return &AuroraSource{Path: path, Log: log}
}

// Extract implements Source. The save file is opened read-only and closed
// before returning.
func (a *AuroraSource) Extract(ctx context.Context) (Snapshot, error) {
	if _, err := os.Stat(a.Path); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	db, err := openSave(ctx, a.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer db.Close()

	r := &saveReader{db: db}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", a.Path, err)
	}

	for _, g := range snap.Games {
		a.Log.Debug("game extracted",
			zap.Uint32("game_id", g.Game.GameID),
			zap.String("game_name", g.Game.GameName),
			zap.Uint32("year", g.Game.Year()),
			zap.Int("populations", len(g.Populations)),
			zap.Bool("race", g.Race != nil),
		)
	}
	return snap, nil
}

// openSave opens the SQLite file read-only. The modernc.org driver is
// pure-go and works without CGO.
func openSave(ctx context.Context, path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open save file: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping save file: %w", err)
	}
	return db, nil
}

type saveReader struct {
	db *sqlx.DB
}

func (r *saveReader) snapshot(ctx context.Context) (Snapshot, error) {
	var games []Game
	err := r.db.SelectContext(ctx, &games,
		`SELECT GameID, GameName, GameTime, StartYear, LastViewed FROM FCT_Game WHERE LastViewed = 1.0 ORDER BY GameID`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("select games: %w", err)
	}

	raceCols, err := r.columns(ctx, "FCT_Race")
	if err != nil {
		return Snapshot{}, err
	}
	popCols, err := r.columns(ctx, "FCT_Population")
	if err != nil {
		return Snapshot{}, err
	}
	depositCols, err := r.columns(ctx, "FCT_MineralDeposit")
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Games: make([]GameSnapshot, 0, len(games))}
	for _, game := range games {
		gs := GameSnapshot{Game: game}

		race, err := r.playerRace(ctx, game.GameID, raceCols)
		if err != nil {
			return Snapshot{}, fmt.Errorf("game %d: %w", game.GameID, err)
		}
		gs.RaceID = race.RaceID
		if raceCols.has("WealthPoints", "AnnualWealth") {
			gs.Race = &race
		}

		gs.Populations, err = r.populations(ctx, race.RaceID, popCols)
		if err != nil {
			return Snapshot{}, fmt.Errorf("game %d: %w", game.GameID, err)
		}

		if depositCols.has("MaterialID", "Amount", "Accessibility", "SystemBodyID") {
			if err := r.attachMinerals(ctx, game.GameID, gs.Populations, depositCols); err != nil {
				return Snapshot{}, fmt.Errorf("game %d: %w", game.GameID, err)
			}
		}

		snap.Games = append(snap.Games, gs)
	}
	return snap, nil
}

func (r *saveReader) playerRace(ctx context.Context, gameID uint32, cols columnSet) (Race, error) {
	query := `SELECT RaceID FROM FCT_Race WHERE NPR = 0 AND GameID = ? ORDER BY RaceID LIMIT 1`
	if cols.has("WealthPoints", "AnnualWealth") {
		query = `SELECT RaceID, WealthPoints, AnnualWealth FROM FCT_Race WHERE NPR = 0 AND GameID = ? ORDER BY RaceID LIMIT 1`
	}

	var race Race
	if err := r.db.GetContext(ctx, &race, query, gameID); err != nil {
		return Race{}, fmt.Errorf("select player race: %w", err)
	}
	return race, nil
}

var populationColumns = []string{
	"PopulationID", "PopName", "FuelStockpile", "MaintenanceStockpile", "Population",
	"Duranium", "Neutronium", "Corbomite", "Tritanium", "Boronide", "Mercassium",
	"Vendarite", "Sorium", "Corundium", "Gallicite",
}

// Columns only present in newer saves.
var optionalPopulationColumns = []string{"SystemID", "SystemBodyID", "Uridium"}

func (r *saveReader) populations(ctx context.Context, raceID uint32, cols columnSet) ([]PopulationSnapshot, error) {
	selected := append([]string(nil), populationColumns...)
	for _, c := range optionalPopulationColumns {
		if cols.has(c) {
			selected = append(selected, c)
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM FCT_Population WHERE RaceID = ? ORDER BY PopulationID`,
		strings.Join(selected, ", "))

	var pops []PopulationSnapshot
	if err := r.db.SelectContext(ctx, &pops, query, raceID); err != nil {
		return nil, fmt.Errorf("select populations: %w", err)
	}
	return pops, nil
}

type depositRow struct {
	SystemBodyID uint32 `db:"SystemBodyID"`
	MineralDeposit
}

func (r *saveReader) attachMinerals(ctx context.Context, gameID uint32, pops []PopulationSnapshot, cols columnSet) error {
	var bodies []uint32
	for _, p := range pops {
		if p.SystemBodyID != nil {
			bodies = append(bodies, *p.SystemBodyID)
		}
	}
	if len(bodies) == 0 {
		return nil
	}

	query := `SELECT SystemBodyID, MaterialID, Amount, Accessibility FROM FCT_MineralDeposit WHERE SystemBodyID IN (?)`
	args := []any{bodies}
	if cols.has("GameID") {
		query += ` AND GameID = ?`
		args = append(args, gameID)
	}
	query += ` ORDER BY SystemBodyID, MaterialID`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("expand deposit query: %w", err)
	}

	var rows []depositRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("select mineral deposits: %w", err)
	}

	byBody := make(map[uint32][]MineralDeposit)
	for _, row := range rows {
		byBody[row.SystemBodyID] = append(byBody[row.SystemBodyID], row.MineralDeposit)
	}
	for i := range pops {
		if pops[i].SystemBodyID != nil {
			pops[i].Minerals = byBody[*pops[i].SystemBodyID]
		}
	}
	return nil
}

type columnSet map[string]bool

func (c columnSet) has(names ...string) bool {
	for _, n := range names {
		if !c[n] {
			return false
		}
	}
	return true
}

// columns returns the column names of table, or an empty set when the table
// does not exist in this save version.
func (r *saveReader) columns(ctx context.Context, table string) (columnSet, error) {
	var names []string
	if err := r.db.SelectContext(ctx, &names, `SELECT name FROM pragma_table_info(?)`, table); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	set := make(columnSet, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}
