package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
)

// ProgramRecord is a stored program.
type ProgramRecord struct {
	ID      string
	Name    string
	Listing string
}

// RunRecord is a stored run.
type RunRecord struct {
	ID        string
	ProgramID string
	Seq       int64
	Mode      engine.Mode
	DelayFree bool
	Fallback  bool
	Steps     []engine.Step
	Result    ir.Value
}

// ReadProgram returns the program with the given id, or ErrNotFound.
func (s *Store) ReadProgram(ctx context.Context, id string) (ProgramRecord, error) {
	var rec ProgramRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, listing FROM programs WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Name, &rec.Listing)
	if errors.Is(err, sql.ErrNoRows) {
		return ProgramRecord{}, fmt.Errorf("read program %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ProgramRecord{}, fmt.Errorf("read program: %w", err)
	}
	return rec, nil
}

// ReadSchedule returns the cached schedule and retry budget of a program.
// found is false when nothing was recorded; the schedule is nil when only
// the budget was.
func (s *Store) ReadSchedule(ctx context.Context, programID string) (sched *ir.Schedule, attempts int, found bool, err error) {
	var entries sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT entries, attempts FROM schedules WHERE program_id = ?
	`, programID).Scan(&entries, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("read schedule: %w", err)
	}

	if entries.Valid {
		if sched, err = ir.ParseSchedule([]byte(entries.String)); err != nil {
			return nil, 0, false, fmt.Errorf("read schedule: %w", err)
		}
	}
	return sched, attempts, true, nil
}

// ListRuns returns the runs of a program, or of every program when
// programID is empty. Results are ordered deterministically:
// ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ListRuns(ctx context.Context, programID string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program_id, seq, mode, delay_free, fallback, steps, result
		FROM runs
		WHERE ? = '' OR program_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, programID, programID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// MaxSeq returns the highest run sequence number, or 0 for an empty log.
// A new engine clock continues from it.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

func scanRun(rows *sql.Rows) (RunRecord, error) {
	var (
		rec           RunRecord
		mode          string
		steps, result string
	)
	if err := rows.Scan(&rec.ID, &rec.ProgramID, &rec.Seq, &mode, &rec.DelayFree, &rec.Fallback, &steps, &result); err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}
	rec.Mode = engine.Mode(mode)

	var err error
	if rec.Steps, err = unmarshalSteps(steps); err != nil {
		return RunRecord{}, fmt.Errorf("run %s: %w", rec.ID, err)
	}
	if rec.Result, err = unmarshalValue(result); err != nil {
		return RunRecord{}, fmt.Errorf("run %s: %w", rec.ID, err)
	}
	return rec, nil
}
