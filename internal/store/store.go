package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/census/api/schemas"
)

// ErrRunNotFound is returned by LoadRun for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables used by the store.
const Schema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
    run_id      TEXT PRIMARY KEY,
    owner       TEXT NOT NULL,
    directory   TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    target      INTEGER NOT NULL,
    status      TEXT NOT NULL,
    reason      TEXT NOT NULL,
    attempts    INTEGER NOT NULL,
    scans       INTEGER NOT NULL,
    advertised  BIGINT,
    cancelled   BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS harvest_results (
    run_id   TEXT NOT NULL REFERENCES harvest_runs (run_id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    handle   TEXT NOT NULL,
    count    BIGINT,
    status   TEXT NOT NULL,
    strategy TEXT NOT NULL,
    worker   INTEGER NOT NULL,
    error    TEXT NOT NULL,
    PRIMARY KEY (run_id, handle)
);`

var resultColumns = []string{"run_id", "position", "handle", "count", "status", "strategy", "worker", "error"}

// Store persists harvest runs in PostgreSQL. It doubles as a result sink.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.ResultSink = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) Write(ctx context.Context, summary *schemas.RunSummary) error {
	return s.PersistRun(ctx, summary)
}

// PersistRun stores the run and all of its results in one transaction. A
// rerun with the same id replaces the earlier rows.
func (s *Store) PersistRun(ctx context.Context, summary *schemas.RunSummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistRunRow(ctx, tx, summary); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM harvest_results WHERE run_id = $1;`, summary.RunID); err != nil {
		return fmt.Errorf("failed to clear previous results: %w", err)
	}
	if len(summary.Results) > 0 {
		if err := s.persistResults(ctx, tx, summary); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Run persisted", zap.String("run_id", summary.RunID), zap.Int("results", len(summary.Results)))
	return nil
}

func (s *Store) persistRunRow(ctx context.Context, tx pgx.Tx, summary *schemas.RunSummary) error {
	sql := `
        INSERT INTO harvest_runs (run_id, owner, directory, started_at, finished_at, target, status, reason, attempts, scans, advertised, cancelled)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (run_id) DO UPDATE SET
            finished_at = EXCLUDED.finished_at,
            status = EXCLUDED.status,
            reason = EXCLUDED.reason,
            attempts = EXCLUDED.attempts,
            scans = EXCLUDED.scans,
            advertised = EXCLUDED.advertised,
            cancelled = EXCLUDED.cancelled;
    `
	ex := summary.Extraction
	if ex == nil {
		ex = &schemas.Extraction{}
	}
	_, err := tx.Exec(ctx, sql,
		summary.RunID, summary.Owner, summary.Directory,
		summary.StartedAt, summary.FinishedAt,
		ex.Target, string(ex.Status), string(ex.Reason),
		ex.Attempts, ex.Scans, ex.Advertised, summary.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", summary.RunID, err)
	}
	return nil
}

func (s *Store) persistResults(ctx context.Context, tx pgx.Tx, summary *schemas.RunSummary) error {
	handles := summary.OrderedHandles()
	rows := make([][]interface{}, len(handles))
	for i, h := range handles {
		r := summary.Results[h]
		rows[i] = []interface{}{
			summary.RunID, i, h, r.Count,
			string(r.Status), r.Strategy, r.Worker, r.Err,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"harvest_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy results: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// LoadRun reads a stored run back into a summary.
func (s *Store) LoadRun(ctx context.Context, runID string) (*schemas.RunSummary, error) {
	runSQL := `
        SELECT owner, directory, started_at, finished_at, target, status, reason, attempts, scans, advertised, cancelled
        FROM harvest_runs
        WHERE run_id = $1;
    `
	summary := &schemas.RunSummary{RunID: runID, Results: schemas.FetchResults{}}
	ex := &schemas.Extraction{}
	var status, reason string
	err := s.pool.QueryRow(ctx, runSQL, runID).Scan(
		&summary.Owner, &summary.Directory, &summary.StartedAt, &summary.FinishedAt,
		&ex.Target, &status, &reason, &ex.Attempts, &ex.Scans, &ex.Advertised, &summary.Cancelled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	ex.Owner, ex.Directory = summary.Owner, summary.Directory
	ex.Status = schemas.ExtractionStatus(status)
	ex.Reason = schemas.TerminationReason(reason)

	resultsSQL := `
        SELECT handle, count, status, strategy, worker, error
        FROM harvest_results
        WHERE run_id = $1
        ORDER BY position ASC;
    `
	rows, err := s.pool.Query(ctx, resultsSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r         schemas.FetchResult
			resStatus string
		)
		if err := rows.Scan(&r.Handle, &r.Count, &resStatus, &r.Strategy, &r.Worker, &r.Err); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r.Status = schemas.FetchStatus(resStatus)
		summary.Results[r.Handle] = r
		ex.Handles = append(ex.Handles, r.Handle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	summary.Extraction = ex
	summary.Tally = summary.Results.Tally()
	return summary, nil
}
