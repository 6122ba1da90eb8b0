package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
	"github.com/roach88/opflow/internal/testutil"
)

func TestRestoreSchedule_Missing(t *testing.T) {
	s := createTestStore(t)
	prog := testProgram(t)

	if err := s.RestoreSchedule(context.Background(), "missing", prog); err != nil {
		t.Fatalf("RestoreSchedule() failed: %v", err)
	}
	if prog.Schedule() != nil || prog.ScheduleAttempts() != ir.DefaultScheduleAttempts {
		t.Error("a missing record must leave the program untouched")
	}
}

func TestSchedule_SurvivesProcessRestart(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// First process: dynamic run, schedule recorded and persisted.
	prog := testProgram(t)
	id, err := s.WriteProgram(ctx, "chain", prog)
	if err != nil {
		t.Fatal(err)
	}
	ev := testutil.NewScriptedEvaluator(ir.ExecContext{"x": 1.0})
	run, err := engine.New().Execute(ctx, prog, ev)
	if err != nil {
		t.Fatal(err)
	}
	if run.Mode != engine.ModeDynamic {
		t.Fatalf("first run mode = %s", run.Mode)
	}
	if err := s.SaveSchedule(ctx, id, prog); err != nil {
		t.Fatalf("SaveSchedule() failed: %v", err)
	}

	// Second process: a freshly compiled program replays from the store.
	fresh := testProgram(t)
	if err := s.RestoreSchedule(ctx, id, fresh); err != nil {
		t.Fatalf("RestoreSchedule() failed: %v", err)
	}
	if diff := cmp.Diff(prog.Schedule(), fresh.Schedule()); diff != "" {
		t.Errorf("restored schedule mismatch (-want +got):\n%s", diff)
	}

	ev = testutil.NewScriptedEvaluator(ir.ExecContext{"x": 1.0})
	run, err = engine.New().Execute(ctx, fresh, ev)
	if err != nil {
		t.Fatal(err)
	}
	if run.Mode != engine.ModeReplay {
		t.Errorf("second run mode = %s, want replay", run.Mode)
	}
}

func TestSchedule_ExhaustedBudgetPersists(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	prog := testProgram(t)
	id, err := s.WriteProgram(ctx, "chain", prog)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < ir.DefaultScheduleAttempts; i++ {
		prog.InvalidateSchedule()
	}
	if err := s.SaveSchedule(ctx, id, prog); err != nil {
		t.Fatal(err)
	}

	fresh := testProgram(t)
	if err := s.RestoreSchedule(ctx, id, fresh); err != nil {
		t.Fatal(err)
	}
	if fresh.ScheduleAttempts() != 0 {
		t.Errorf("attempts = %d, want 0", fresh.ScheduleAttempts())
	}
	if fresh.StoreSchedule(&ir.Schedule{}) {
		t.Error("a program with no attempts left must not cache schedules")
	}
}
