package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RunStatus is the lifecycle state of an evaluation run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Counts are the aggregate counters of a run.
type Counts struct {
	Total        int `json:"total"`
	GatePassPred int `json:"gate_pass_pred"`
	GatePassGold int `json:"gate_pass_gold"`
	ExecutedPred int `json:"executed_pred"`
	ExecutedGold int `json:"executed_gold"`
	ExecutedBoth int `json:"executed_both"`
	Equivalent   int `json:"equivalent"`
}

// Run is one stored evaluation run.
type Run struct {
	ID          string
	Source      string
	Generator   string
	Policy      string
	SelfCorrect bool
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Counts      Counts
	Error       string
}

// Case is one stored evaluation case.
type Case struct {
	Seq        int
	Domain     string
	Question   string
	Status     string
	Error      string
	Reason     string
	PredRaw    string
	PredSQL    string
	GoldRaw    string
	GoldSQL    string
	PredRows   int
	GoldRows   int
	Attempts   int
	DurationMS int64
}

// CreateRun inserts a running evaluation run and assigns its ID.
func (s *SQLiteStore) CreateRun(ctx context.Context, source, generator, policy string, selfCorrect bool) (*Run, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	run := &Run{
		ID:          generateID(),
		Source:      source,
		Generator:   generator,
		Policy:      policy,
		SelfCorrect: selfCorrect,
		Status:      RunStatusRunning,
		StartedAt:   time.Now().UTC(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("source", source))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO eval_runs (id, source, generator, policy, self_correct, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Generator, run.Policy, run.SelfCorrect, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun records the final status and counters of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, counts Counts, errMsg string) error {
	if s.db == nil {
		return ErrNotOpened
	}

	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE eval_runs SET
			status = ?, completed_at = ?, error = ?,
			total = ?, gate_pass_pred = ?, gate_pass_gold = ?,
			executed_pred = ?, executed_gold = ?, executed_both = ?, equivalent = ?
		 WHERE id = ?`,
		string(status), time.Now().UTC(), errVal,
		counts.Total, counts.GatePassPred, counts.GatePassGold,
		counts.ExecutedPred, counts.ExecutedGold, counts.ExecutedBoth, counts.Equivalent,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveCase stores one case of a run, replacing a case with the same sequence number.
func (s *SQLiteStore) SaveCase(ctx context.Context, runID string, c Case) error {
	if s.db == nil {
		return ErrNotOpened
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO eval_cases (
			run_id, seq, domain, question, status, error, reason,
			pred_raw, pred_sql, gold_raw, gold_sql,
			pred_rows, gold_rows, attempts, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, c.Seq, c.Domain, c.Question, c.Status, c.Error, c.Reason,
		c.PredRaw, c.PredSQL, c.GoldRaw, c.GoldSQL,
		c.PredRows, c.GoldRows, c.Attempts, c.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to save case %d: %w", c.Seq, err)
	}
	return nil
}

const runColumns = `id, source, generator, policy, self_correct, status, started_at, completed_at,
	total, gate_pass_pred, gate_pass_gold, executed_pred, executed_gold, executed_both, equivalent, error`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM eval_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM eval_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListCases returns the cases of a run in sequence order.
func (s *SQLiteStore) ListCases(ctx context.Context, runID string) ([]Case, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, domain, question, status, error, reason,
			pred_raw, pred_sql, gold_raw, gold_sql,
			pred_rows, gold_rows, attempts, duration_ms
		 FROM eval_cases WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cases []Case
	for rows.Next() {
		var c Case
		if err := rows.Scan(&c.Seq, &c.Domain, &c.Question, &c.Status, &c.Error, &c.Reason,
			&c.PredRaw, &c.PredSQL, &c.GoldRaw, &c.GoldSQL,
			&c.PredRows, &c.GoldRows, &c.Attempts, &c.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run         Run
		status      string
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	err := row.Scan(&run.ID, &run.Source, &run.Generator, &run.Policy, &run.SelfCorrect, &status,
		&run.StartedAt, &completedAt,
		&run.Counts.Total, &run.Counts.GatePassPred, &run.Counts.GatePassGold,
		&run.Counts.ExecutedPred, &run.Counts.ExecutedGold, &run.Counts.ExecutedBoth, &run.Counts.Equivalent,
		&errMsg)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return &run, nil
}
