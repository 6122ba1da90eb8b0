package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/opflow/internal/engine"
	"github.com/roach88/opflow/internal/ir"
)

func TestListRuns_RoundTripAndOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id, err := s.WriteProgram(ctx, "chain", testProgram(t))
	if err != nil {
		t.Fatal(err)
	}

	second := &engine.Run{
		ID: "run-b", Seq: 2, Mode: engine.ModeReplay, DelayFree: false, Fallback: true,
		Steps: []engine.Step{
			{Index: 0, Assigned: []string{"r"}, NewFutures: 1},
			{Index: ir.FutureStep, FutureID: 0, Discard: []string{"x"}, Waited: true},
		},
		Result: []ir.Value{1.0, []float64{2, 3}},
	}
	first := &engine.Run{
		ID: "run-a", Seq: 1, Mode: engine.ModeDynamic, DelayFree: true,
		Steps:  []engine.Step{{Index: 0, Assigned: []string{"a"}}},
		Result: []float64{1, 2},
	}
	for _, r := range []*engine.Run{second, first} {
		if err := s.WriteRun(ctx, id, r); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, id)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	want := []RunRecord{
		{ID: "run-a", ProgramID: id, Seq: 1, Mode: engine.ModeDynamic, DelayFree: true,
			Steps: first.Steps, Result: []float64{1, 2}},
		{ID: "run-b", ProgramID: id, Seq: 2, Mode: engine.ModeReplay, Fallback: true,
			Steps: second.Steps, Result: []ir.Value{1.0, []float64{2, 3}}},
	}
	if diff := cmp.Diff(want, runs); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
}

func TestListRuns_FiltersByProgram(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id, err := s.WriteProgram(ctx, "chain", testProgram(t))
	if err != nil {
		t.Fatal(err)
	}
	other, err := s.WriteProgram(ctx, "other", ir.NewProgram(nil, ir.Result{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteRun(ctx, id, &engine.Run{ID: "r1", Seq: 1, Mode: engine.ModeDynamic, Result: 1.0}); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteRun(ctx, other, &engine.Run{ID: "r2", Seq: 2, Mode: engine.ModeDynamic, Result: 2.0}); err != nil {
		t.Fatal(err)
	}

	runs, err := s.ListRuns(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("got %v, want only r1", runs)
	}

	all, err := s.ListRuns(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("got %d runs, want 2", len(all))
	}
}

func TestListRuns_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	runs, err := s.ListRuns(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if runs == nil || len(runs) != 0 {
		t.Errorf("got %#v, want empty slice", runs)
	}
}

func TestMaxSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.MaxSeq(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 0 {
		t.Errorf("empty log seq = %d, want 0", seq)
	}

	id, err := s.WriteProgram(ctx, "chain", testProgram(t))
	if err != nil {
		t.Fatal(err)
	}
	for i, n := range []int64{3, 7, 5} {
		run := &engine.Run{ID: string(rune('a' + i)), Seq: n, Mode: engine.ModeDynamic, Result: 0.0}
		if err := s.WriteRun(ctx, id, run); err != nil {
			t.Fatal(err)
		}
	}
	if seq, err = s.MaxSeq(ctx); err != nil || seq != 7 {
		t.Errorf("MaxSeq() = %d, %v; want 7", seq, err)
	}
}
