package db

import (
	"database/sql"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

// History is the journal summary printed by the debug CLI.
type History struct {
	Commands  []model.JournalEntry
	Events    []model.ConnectivityEvent
	Counts    map[model.Outcome]int
	LastState *model.ActuatorState
}

// HistoryCLI opens dbPath read-only and summarizes the journal.
func HistoryCLI(dbPath string, limit int) (History, error) {
	dbConn, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return History{}, err
	}
	defer dbConn.Close()

	return readHistory(dbConn, limit)
}

func readHistory(dbConn *sql.DB, limit int) (History, error) {
	var h History
	var err error
	if h.Commands, err = RecentCommands(dbConn, limit); err != nil {
		return History{}, err
	}
	if h.Events, err = RecentConnectivity(dbConn, limit); err != nil {
		return History{}, err
	}
	if h.Counts, err = CountByOutcome(dbConn); err != nil {
		return History{}, err
	}
	state, found, err := LastState(dbConn)
	if err != nil {
		return History{}, err
	}
	if found {
		h.LastState = &state
	}
	return h, nil
}
