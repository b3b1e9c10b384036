package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

// RecentCommands returns up to limit journal entries, newest first.
func RecentCommands(db *sql.DB, limit int) ([]model.JournalEntry, error) {
	rows, err := db.Query(`SELECT id, target, action, outcome, green, red, sound, error, created_at FROM commands ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var created string
		err = rows.Scan(&e.ID, &e.Target, &e.Action, &e.Outcome, &e.State.Green, &e.State.Red, &e.State.Sound, &e.Error, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		e.At, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentConnectivity returns up to limit connectivity transitions, newest first.
func RecentConnectivity(db *sql.DB, limit int) ([]model.ConnectivityEvent, error) {
	rows, err := db.Query(`SELECT id, from_state, to_state, address, created_at FROM connectivity_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query connectivity events: %w", err)
	}
	defer rows.Close()

	var events []model.ConnectivityEvent
	for rows.Next() {
		var ev model.ConnectivityEvent
		var created string
		if err := rows.Scan(&ev.ID, &ev.From, &ev.To, &ev.Address, &created); err != nil {
			return nil, fmt.Errorf("failed to scan connectivity event: %w", err)
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastState returns the actuator state recorded by the most recent applied command.
func LastState(db *sql.DB) (model.ActuatorState, bool, error) {
	var s model.ActuatorState
	err := db.QueryRow(`SELECT green, red, sound FROM commands WHERE outcome = ? ORDER BY id DESC LIMIT 1`, string(model.OutcomeApplied)).Scan(&s.Green, &s.Red, &s.Sound)
	if err == sql.ErrNoRows {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("failed to get last state: %w", err)
	}
	return s, true, nil
}

// CountByOutcome tallies journal entries per outcome.
func CountByOutcome(db *sql.DB) (map[model.Outcome]int, error) {
	rows, err := db.Query(`SELECT outcome, COUNT(*) FROM commands GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count commands: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Outcome]int)
	for rows.Next() {
		var outcome model.Outcome
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
