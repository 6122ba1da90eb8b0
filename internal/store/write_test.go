package store

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/expr"
	"github.com/roach88/opflow/internal/ir"
)

func testProgram(t *testing.T) *ir.Program {
	t.Helper()
	a, err := ir.NewAssign([]string{"a"}, []expr.Expr{expr.Add(expr.Var("x"), expr.Const(1))}, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ir.NewAssign([]string{"b"}, []expr.Expr{expr.Mul(expr.Var("a"), expr.Const(3))}, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	return ir.NewProgram([]*ir.Instruction{a, b}, ir.Result{Exprs: []expr.Expr{expr.Var("b")}})
}

func testSchedule() *ir.Schedule {
	return &ir.Schedule{Entries: []ir.ScheduleEntry{
		{Index: 0},
		{Index: 1, Discard: []string{"x"}},
	}}
}

func TestWriteProgram(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	prog := testProgram(t)

	id, err := s.WriteProgram(ctx, "chain", prog)
	if err != nil {
		t.Fatalf("WriteProgram() failed: %v", err)
	}
	if id != ir.MustProgramID(prog) {
		t.Errorf("id = %s, want the program's content id", id)
	}

	// Same content under another name is the same program.
	again, err := s.WriteProgram(ctx, "renamed", testProgram(t))
	if err != nil {
		t.Fatalf("second WriteProgram() failed: %v", err)
	}
	if again != id {
		t.Errorf("second id = %s, want %s", again, id)
	}

	rec, err := s.ReadProgram(ctx, id)
	if err != nil {
		t.Fatalf("ReadProgram() failed: %v", err)
	}
	want := ProgramRecord{ID: id, Name: "chain", Listing: "a <- x + 1\nb <- a*3\nRESULT: b"}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("program mismatch (-want +got):\n%s", diff)
	}
}

func TestReadProgram_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadProgram(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWriteSchedule_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id, err := s.WriteProgram(ctx, "chain", testProgram(t))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.WriteSchedule(ctx, id, testSchedule(), 4); err != nil {
		t.Fatalf("WriteSchedule() failed: %v", err)
	}
	sched, attempts, found, err := s.ReadSchedule(ctx, id)
	if err != nil {
		t.Fatalf("ReadSchedule() failed: %v", err)
	}
	if !found || attempts != 4 {
		t.Errorf("found=%v attempts=%d, want true 4", found, attempts)
	}
	if diff := cmp.Diff(testSchedule(), sched); diff != "" {
		t.Errorf("schedule mismatch (-want +got):\n%s", diff)
	}

	var hash string
	if err := s.db.QueryRow(`SELECT hash FROM schedules WHERE program_id = ?`, id).Scan(&hash); err != nil {
		t.Fatal(err)
	}
	if want, _ := ir.ScheduleHash(testSchedule()); hash != want {
		t.Errorf("hash = %s, want %s", hash, want)
	}
}

func TestWriteSchedule_BudgetOnlyAndOverwrite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id, err := s.WriteProgram(ctx, "chain", testProgram(t))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.WriteSchedule(ctx, id, testSchedule(), 5); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSchedule(ctx, id, nil, 3); err != nil {
		t.Fatal(err)
	}

	sched, attempts, found, err := s.ReadSchedule(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !found || sched != nil || attempts != 3 {
		t.Errorf("got found=%v sched=%v attempts=%d, want true <nil> 3", found, sched, attempts)
	}
}

func TestWriteSchedule_UnknownProgram(t *testing.T) {
	s := createTestStore(t)

	if err := s.WriteSchedule(context.Background(), "missing", testSchedule(), 5); err == nil {
		t.Error("expected a foreign key violation")
	}
}

func TestDeleteSchedule(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id, err := s.WriteProgram(ctx, "chain", testProgram(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteSchedule(ctx, id, testSchedule(), 5); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSchedule(ctx, id); err != nil {
		t.Fatalf("DeleteSchedule() failed: %v", err)
	}
	if _, _, found, _ := s.ReadSchedule(ctx, id); found {
		t.Error("schedule still present after delete")
	}
	if err := s.DeleteSchedule(ctx, id); err != nil {
		t.Errorf("deleting twice failed: %v", err)
	}
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id, err := s.WriteProgram(ctx, "chain", testProgram(t))
	if err != nil {
		t.Fatal(err)
	}

	run := &engine.Run{ID: "run-1", Seq: 1, Mode: engine.ModeDynamic, DelayFree: true, Result: 9.0}
	for i := 0; i < 2; i++ {
		if err := s.WriteRun(ctx, id, run); err != nil {
			t.Fatalf("WriteRun() failed: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}

func TestWriteRun_RejectsNonFiniteResult(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id, err := s.WriteProgram(ctx, "chain", testProgram(t))
	if err != nil {
		t.Fatal(err)
	}

	run := &engine.Run{ID: "run-1", Seq: 1, Mode: engine.ModeDynamic, Result: math.NaN()}
	if err := s.WriteRun(ctx, id, run); err == nil {
		t.Error("expected NaN to be rejected")
	}
}
