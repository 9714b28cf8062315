package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		environment_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		python_version TEXT NOT NULL,
		arch TEXT NOT NULL,
		python_home TEXT NOT NULL,
		mingw_home TEXT NOT NULL,
		state TEXT NOT NULL,
		failed_step TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		actions TEXT NOT NULL DEFAULT '[]',
		warnings TEXT NOT NULL DEFAULT '[]',
		versions TEXT NOT NULL DEFAULT '{}',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_environment ON runs(environment_id, started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
}

const selectRuns = `SELECT id, batch_id, environment_id, fingerprint, python_version, arch,
	python_home, mingw_home, state, failed_step, error,
	actions, warnings, versions, started_at, finished_at FROM runs`

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("ledger: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin schema tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ledger: apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit schema: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec                         Record
		actions, warnings, versions string
		startedAt, finishedAt       string
	)
	err := s.Scan(
		&rec.ID, &rec.BatchID, &rec.EnvironmentID, &rec.Fingerprint, &rec.PythonVersion, &rec.Arch,
		&rec.PythonHome, &rec.MinGWHome, &rec.State, &rec.FailedStep, &rec.Error,
		&actions, &warnings, &versions, &startedAt, &finishedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(actions), &rec.Actions); err != nil {
		return Record{}, fmt.Errorf("ledger: decode actions of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(warnings), &rec.Warnings); err != nil {
		return Record{}, fmt.Errorf("ledger: decode warnings of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(versions), &rec.Versions); err != nil {
		return Record{}, fmt.Errorf("ledger: decode versions of %s: %w", rec.ID, err)
	}
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return Record{}, err
	}
	if rec.FinishedAt, err = parseTime(finishedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}
