package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"app_lifecycle/lifecycle"
)

// ErrClosed is returned by operations on a closed Journal.
var ErrClosed = errors.New("journal is closed")

// DefaultRecentLimit caps Recent when the caller passes a non-positive limit.
const DefaultRecentLimit = 50

// Run is one recorded phase run.
type Run struct {
	ID           int64
	Phase        lifecycle.Phase
	Verdict      string
	State        string
	VetoedBy     string // Empty unless Verdict is "vetoed"
	HandlerCount int
	FailedCount  int
	RecordedAt   time.Time
	Results      []Result
}

// Result is one contribution's result within a Run, in invocation order.
type Result struct {
	Owner    string // Owner name
	OwnerID  string // Owner UUID
	Priority int
	Status   string
	Reason   string
	Error    string
}

// Journal stores phase outcomes.
//
// Usage:
//
//	j, err := journal.Open(ctx, "lifecycle.db")
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//
//	if err := j.Migrate(ctx); err != nil {
//	    return err
//	}
//	id, err := j.Record(ctx, outcome)
type Journal struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open opens the journal at path. The schema is not touched; call Migrate
// before the first Record.
func Open(ctx context.Context, path string) (*Journal, error) {
	db, err := openSQLite(ctx, DefaultConnectionConfig(path))
	if err != nil {
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

// Migrate applies pending schema migrations.
func (j *Journal) Migrate(ctx context.Context) error {
	return MigrateUp(ctx, j.path)
}

// Record stores outcome and its per-handler results in one transaction and
// returns the new run ID.
func (j *Journal) Record(ctx context.Context, outcome *lifecycle.Outcome) (int64, error) {
	if outcome == nil {
		return 0, errors.New("outcome is required")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return 0, ErrClosed
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // No-op after commit

	var vetoedBy sql.NullString
	if outcome.Verdict == lifecycle.Vetoed {
		vetoedBy = sql.NullString{String: outcome.VetoedBy.String(), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO phase_runs (phase, verdict, state, vetoed_by, handler_count, failed_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		outcome.Phase.String(),
		outcome.Verdict.String(),
		outcome.State.String(),
		vetoedBy,
		len(outcome.Results),
		outcome.Count(lifecycle.StatusFailed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert phase run: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO phase_results (run_id, position, owner, owner_id, priority, status, reason, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range outcome.Results {
		var errText sql.NullString
		if r.Err != nil {
			errText = sql.NullString{String: r.Err.Error(), Valid: true}
		}
		var reason sql.NullString
		if r.Reason != "" {
			reason = sql.NullString{String: r.Reason, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			runID, i, r.Owner.Name(), r.Owner.ID().String(), r.Priority,
			r.Status.String(), reason, errText,
		); err != nil {
			return 0, fmt.Errorf("failed to insert result for %s: %w", r.Owner, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit phase run: %w", err)
	}
	return runID, nil
}

// Recent returns up to limit runs, newest first, each with its results.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.db == nil {
		return nil, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, phase, verdict, state, COALESCE(vetoed_by, ''),
		       handler_count, failed_count, recorded_at
		FROM phase_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase runs: %w", err)
	}

	var runs []Run
	for rows.Next() {
		var run Run
		var phase string
		if err := rows.Scan(
			&run.ID, &phase, &run.Verdict, &run.State, &run.VetoedBy,
			&run.HandlerCount, &run.FailedCount, &run.RecordedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan phase run: %w", err)
		}
		run.Phase = lifecycle.Phase(phase)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate phase runs: %w", err)
	}
	rows.Close()

	// Results are loaded after the runs cursor is closed; the pool has a
	// single connection.
	for i := range runs {
		results, err := j.results(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Results = results
	}
	return runs, nil
}

func (j *Journal) results(ctx context.Context, runID int64) ([]Result, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT owner, owner_id, priority, status, COALESCE(reason, ''), COALESCE(error, '')
		FROM phase_results
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for run %d: %w", runID, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Owner, &r.OwnerID, &r.Priority, &r.Status, &r.Reason, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Prune deletes runs recorded more than retention ago and returns how many
// were removed. Their results go with them.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < time.Second {
		return 0, fmt.Errorf("retention must be at least one second, got %v", retention)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return 0, ErrClosed
	}

	modifier := fmt.Sprintf("-%d seconds", int64(retention/time.Second))
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM phase_runs WHERE recorded_at < datetime('now', ?)", modifier)
	if err != nil {
		return 0, fmt.Errorf("failed to prune phase runs: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection. Calling Close twice is safe.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}
