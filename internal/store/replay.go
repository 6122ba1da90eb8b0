package store

import (
	"context"
	"fmt"

	"github.com/roach88/opflow/internal/ir"
)

// RestoreSchedule installs the persisted schedule and retry budget of
// the program with the given id into prog. Nothing is installed when the
// store has no record; prog keeps its fresh budget.
func (s *Store) RestoreSchedule(ctx context.Context, programID string, prog *ir.Program) error {
	sched, attempts, found, err := s.ReadSchedule(ctx, programID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := prog.RestoreSchedule(sched, attempts); err != nil {
		return fmt.Errorf("restore schedule of %s: %w", programID, err)
	}
	return nil
}

// SaveSchedule persists prog's current schedule and retry budget, so the
// next process replays where this one left off.
func (s *Store) SaveSchedule(ctx context.Context, programID string, prog *ir.Program) error {
	return s.WriteSchedule(ctx, programID, prog.Schedule(), prog.ScheduleAttempts())
}
