package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/user/cophy_analyzer_go/internal/analysis"
	"github.com/user/cophy_analyzer_go/internal/study"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	source_path  TEXT NOT NULL,
	file_format  TEXT NOT NULL,
	pa_source    TEXT NOT NULL,
	patient_id   TEXT NOT NULL,
	rest_beats   INTEGER NOT NULL,
	rest_rejected INTEGER NOT NULL,
	hyp_beats    INTEGER NOT NULL,
	hyp_rejected INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	run_id   TEXT NOT NULL REFERENCES runs(run_id),
	name     TEXT NOT NULL,
	category TEXT NOT NULL,
	state    TEXT NOT NULL,
	phase    TEXT NOT NULL,
	value    REAL NOT NULL,
	note     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS results_run ON results(run_id);
CREATE INDEX IF NOT EXISTS runs_path ON runs(source_path, created_at);
`

// Store archives computed index sets in a SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Run is one archived recomputation.
type Run struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	CreatedAt time.Time
	Path      string
	Results   []analysis.IndexResult
}

// Open opens or creates the archive at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores a report's indices under a new run id.
func (s *Store) SaveRun(ctx context.Context, rep *study.Report) (uuid.UUID, error) {
	runID := uuid.New()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	restBeats, restRejected := ensembleCounts(rep.Rest)
	hypBeats, hypRejected := ensembleCounts(rep.Hyperaemia)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, session_id, created_at, source_path, file_format, pa_source, patient_id,
		 rest_beats, rest_rejected, hyp_beats, hyp_rejected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID.String(), rep.SessionID.String(), s.now().UnixNano(), rep.Path,
		rep.Format.String(), string(rep.PaSource), rep.Demographics.PatientID,
		restBeats, restRejected, hypBeats, hypRejected,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, name, category, state, phase, value, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uuid.Nil, fmt.Errorf("prepare results: %w", err)
	}
	defer stmt.Close()
	for _, r := range rep.Results.All() {
		if _, err := stmt.ExecContext(ctx, runID.String(), r.Name, string(r.Category), string(r.State), string(r.Phase), r.Value, r.Note); err != nil {
			return uuid.Nil, fmt.Errorf("insert result %s: %w", r.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	slog.Info("archived run", "run", runID, "path", rep.Path, "results", len(rep.Results.All()))
	return runID, nil
}

func ensembleCounts(e *analysis.Ensemble) (beats, rejected int) {
	if e == nil {
		return 0, 0
	}
	return len(e.Beats), e.Rejected
}

// LatestRun returns the most recent run archived for a study file.
func (s *Store) LatestRun(ctx context.Context, path string) (*Run, error) {
	var (
		run              Run
		runID, sessionID string
		createdAt        int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, session_id, created_at, source_path FROM runs
		WHERE source_path = ? ORDER BY created_at DESC LIMIT 1`, path,
	).Scan(&runID, &sessionID, &createdAt, &run.Path)
	if err != nil {
		return nil, fmt.Errorf("query latest run for %s: %w", path, err)
	}
	if run.ID, err = uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("corrupt run id %q: %w", runID, err)
	}
	if run.SessionID, err = uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("corrupt session id %q: %w", sessionID, err)
	}
	run.CreatedAt = time.Unix(0, createdAt)
	if run.Results, err = s.results(ctx, runID); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) results(ctx context.Context, runID string) ([]analysis.IndexResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, category, state, phase, value, note FROM results
		WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	var out []analysis.IndexResult
	for rows.Next() {
		var r analysis.IndexResult
		var category, state, phase string
		if err := rows.Scan(&r.Name, &category, &state, &phase, &r.Value, &r.Note); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Category, r.State, r.Phase = analysis.Category(category), analysis.State(state), analysis.Phase(phase)
		out = append(out, r)
	}
	return out, rows.Err()
}
