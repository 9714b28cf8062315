// Package ledger keeps a history of provisioning runs in a local sqlite
// database.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"winbuilder/internal/provision"
	"winbuilder/internal/resolver"
)

const defaultBusyTimeout = 5 * time.Second

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrRunNotFound is returned when a run id is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// Record is one provisioning run as stored.
type Record struct {
	ID            string            `json:"id"`
	BatchID       string            `json:"batchId"`
	EnvironmentID string            `json:"environmentId"`
	Fingerprint   string            `json:"fingerprint"`
	PythonVersion string            `json:"pythonVersion"`
	Arch          string            `json:"arch"`
	PythonHome    string            `json:"pythonHome"`
	MinGWHome     string            `json:"mingwHome"`
	State         string            `json:"state"`
	FailedStep    string            `json:"failedStep,omitempty"`
	Error         string            `json:"error,omitempty"`
	Actions       []string          `json:"actions"`
	Warnings      []string          `json:"warnings"`
	Versions      map[string]string `json:"versions"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    time.Time         `json:"finishedAt"`
}

// OK reports whether the run completed.
func (r Record) OK() bool {
	return r.State == provision.StateVerified.String()
}

// FromResult converts a provisioning result into a record of batch.
func FromResult(batchID string, r provision.Result) Record {
	rec := Record{
		BatchID:       batchID,
		EnvironmentID: r.EnvironmentID,
		Fingerprint:   r.Fingerprint,
		PythonVersion: r.Spec.Version.Raw,
		Arch:          string(r.Spec.Arch),
		PythonHome:    r.Spec.PythonHome,
		MinGWHome:     r.Spec.MinGWHome,
		State:         r.State.String(),
		FailedStep:    string(r.FailedStep),
		Actions:       r.Actions,
		Warnings:      r.Warnings,
		Versions:      r.Versions,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// DefaultPath returns the default ledger location
// ($XDG_DATA_HOME/winbuilder/runs.db).
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "winbuilder", "runs.db")
}

// ResolvePath returns the ledger path from WINBUILDER_LEDGER or the default.
func ResolvePath(environ []string) string {
	if p, ok := resolver.Lookup(environ, "WINBUILDER_LEDGER"); ok && p != "" {
		return p
	}
	return DefaultPath()
}

// Ledger is an open run history.
type Ledger struct {
	db      *sql.DB
	path    string
	batchID string
	now     func() time.Time
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db, path: path, batchID: uuid.NewString(), now: time.Now}, nil
}

// Close finalises the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Path is the database file.
func (l *Ledger) Path() string { return l.path }

// BatchID identifies the runs recorded through this handle.
func (l *Ledger) BatchID() string { return l.batchID }

// Save stores rec, assigning an id when it has none, and returns the id.
func (l *Ledger) Save(ctx context.Context, rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.BatchID == "" {
		rec.BatchID = l.batchID
	}
	actions, err := marshalList(rec.Actions)
	if err != nil {
		return "", err
	}
	warnings, err := marshalList(rec.Warnings)
	if err != nil {
		return "", err
	}
	versions := rec.Versions
	if versions == nil {
		versions = map[string]string{}
	}
	versionsJSON, err := json.Marshal(versions)
	if err != nil {
		return "", fmt.Errorf("ledger: encode versions: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `INSERT INTO runs (
		id, batch_id, environment_id, fingerprint, python_version, arch,
		python_home, mingw_home, state, failed_step, error,
		actions, warnings, versions, started_at, finished_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BatchID, rec.EnvironmentID, rec.Fingerprint, rec.PythonVersion, rec.Arch,
		rec.PythonHome, rec.MinGWHome, rec.State, rec.FailedStep, rec.Error,
		actions, warnings, string(versionsJSON), formatTime(rec.StartedAt), formatTime(rec.FinishedAt),
	)
	if err != nil {
		return "", fmt.Errorf("ledger: insert run %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// Record stores a provisioning result under the ledger's batch id.
func (l *Ledger) Record(ctx context.Context, r provision.Result) error {
	_, err := l.Save(ctx, FromResult(l.batchID, r))
	return err
}

// Load returns the run with the given id.
func (l *Ledger) Load(ctx context.Context, id string) (Record, error) {
	row := l.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec, err
}

// List returns the most recent runs first. A limit of zero or less returns
// every run.
func (l *Ledger) List(ctx context.Context, limit int) ([]Record, error) {
	query := selectRuns + ` ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list runs: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Latest returns the most recent run of an environment.
func (l *Ledger) Latest(ctx context.Context, envID string) (Record, error) {
	row := l.db.QueryRowContext(ctx,
		selectRuns+` WHERE environment_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, envID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: no runs of %s", ErrRunNotFound, envID)
	}
	return rec, err
}

// LastFingerprint returns the spec fingerprint of the most recent completed
// run of an environment.
func (l *Ledger) LastFingerprint(ctx context.Context, envID string) (string, bool, error) {
	var fp string
	err := l.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM runs WHERE environment_id = ? AND state = ?
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		envID, provision.StateVerified.String(),
	).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger: read fingerprint of %s: %w", envID, err)
	}
	return fp, true, nil
}

// Delete removes a run by id.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: delete run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Prune removes runs started more than olderThan ago and returns how many
// were deleted.
func (l *Ledger) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := formatTime(l.now().Add(-olderThan))
	res, err := l.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger: prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: prune runs: %w", err)
	}
	return int(n), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("ledger: parse time %q: %w", s, err)
	}
	return t, nil
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("ledger: encode list: %w", err)
	}
	return string(b), nil
}
