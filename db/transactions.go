package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// RecordCommand appends one processed command to the journal.
func RecordCommand(db *sql.DB, entry model.JournalEntry) (int64, error) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO commands (target, action, outcome, green, red, sound, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(entry.Target), string(entry.Action), string(entry.Outcome),
		entry.State.Green, entry.State.Red, entry.State.Sound,
		entry.Error, entry.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("insert command: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, CommitTransaction(tx)
}

// RecordConnectivity appends one connectivity state transition to the journal.
func RecordConnectivity(db *sql.DB, event model.ConnectivityEvent) (int64, error) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`INSERT INTO connectivity_events (from_state, to_state, address, created_at) VALUES (?, ?, ?, ?)`,
		string(event.From), string(event.To), string(event.Address), event.At.UTC().Format(time.RFC3339Nano))
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("insert connectivity event: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, CommitTransaction(tx)
}

// PruneCommands deletes journal rows older than cutoff.
func PruneCommands(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM commands WHERE created_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune commands: %w", err)
	}
	return res.RowsAffected()
}

// PruneConnectivity deletes connectivity transitions older than cutoff.
func PruneConnectivity(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM connectivity_events WHERE created_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune connectivity events: %w", err)
	}
	return res.RowsAffected()
}

// Prune trims both journal tables to rows newer than cutoff.
func Prune(db *sql.DB, cutoff time.Time) (commands, events int64, err error) {
	commands, err = PruneCommands(db, cutoff)
	if err != nil {
		return 0, 0, err
	}
	events, err = PruneConnectivity(db, cutoff)
	if err != nil {
		return commands, 0, err
	}
	return commands, events, nil
}
