package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
)

// WriteProgram records a compiled program under its content id and
// returns the id. Uses ON CONFLICT(id) DO NOTHING for idempotency: the
// first name a program was written under is kept.
func (s *Store) WriteProgram(ctx context.Context, name string, prog *ir.Program) (string, error) {
	id, err := ir.ProgramID(prog)
	if err != nil {
		return "", fmt.Errorf("write program: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO programs (id, name, listing)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, name, prog.String())
	if err != nil {
		return "", fmt.Errorf("write program: %w", err)
	}
	return id, nil
}

// WriteSchedule replaces the cached schedule and retry budget of a
// program. A nil schedule records the budget alone.
//
// Note: The program referenced by programID must exist (foreign key constraint).
func (s *Store) WriteSchedule(ctx context.Context, programID string, sched *ir.Schedule, attempts int) error {
	var entries, hash sql.NullString
	if sched != nil {
		data, err := sched.MarshalCanonical()
		if err != nil {
			return fmt.Errorf("write schedule: %w", err)
		}
		h, err := ir.ScheduleHash(sched)
		if err != nil {
			return fmt.Errorf("write schedule: %w", err)
		}
		entries = sql.NullString{String: string(data), Valid: true}
		hash = sql.NullString{String: h, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (program_id, entries, hash, attempts)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(program_id) DO UPDATE SET
			entries = excluded.entries,
			hash = excluded.hash,
			attempts = excluded.attempts
	`, programID, entries, hash, attempts)
	if err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

// DeleteSchedule forgets a program's schedule and budget, so the next
// execution starts from a fresh budget. Deleting a missing schedule is not
// an error.
func (s *Store) DeleteSchedule(ctx context.Context, programID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE program_id = ?`, programID); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// WriteRun appends a finished run to the run log.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
//
// Steps and result are serialized to canonical JSON per RFC 8785.
func (s *Store) WriteRun(ctx context.Context, programID string, run *engine.Run) error {
	steps, err := marshalSteps(run.Steps)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	result, err := marshalValue(run.Result)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, program_id, seq, mode, delay_free, fallback, steps, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		programID,
		run.Seq,
		string(run.Mode),
		run.DelayFree,
		run.Fallback,
		steps,
		result,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}
