package engine

import (
	"context"
	"fmt"

	"github.com/roach88/opflow/internal/ir"
)

// replay executes sched verbatim.
//
// Each entry first discards its recorded names, then either completes the
// recorded future or runs the recorded instruction. Futures get ids in the
// order they are issued, exactly as in the dynamic run that recorded the
// schedule, so recorded future ids stay valid.
//
// Waiting on a future that is not ready is allowed but clears
// run.DelayFree. A step that does not fit the recording stops the replay
// with a replay error; everything done up to that point stands, and the
// caller continues dynamically from there.
func (st *runState) replay(ctx context.Context, sched *ir.Schedule) error {
	for i, entry := range sched.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			step Step
			err  error
		)
		if entry.IsFuture() {
			f, ok := st.futures.pop(entry.FutureID)
			if !ok {
				return NewUnknownFutureError(st.run.ID, i, entry.FutureID)
			}
			ready := f.Ready()
			if !ready {
				st.run.DelayFree = false
			}
			step, err = st.completeFuture(ctx, entry.FutureID, f, ready, entry.Discard)
		} else {
			if entry.Index < 0 || entry.Index >= len(st.prog.Instructions) {
				return NewScheduleMismatchError(st.run.ID,
					fmt.Sprintf("step %d refers to instruction %d of %d", i, entry.Index, len(st.prog.Instructions)))
			}
			if st.done[entry.Index] {
				return NewScheduleMismatchError(st.run.ID,
					fmt.Sprintf("step %d runs instruction %d a second time", i, entry.Index))
			}
			step, err = st.runInstruction(ctx, entry.Index, entry.Discard)
		}
		if err != nil {
			return err
		}

		if step.NewFutures != entry.NewFutures {
			return NewFutureCountError(st.run.ID, i, entry.NewFutures, step.NewFutures)
		}
	}

	if st.ndone < len(st.prog.Instructions) || st.futures.Len() > 0 {
		return NewScheduleMismatchError(st.run.ID,
			fmt.Sprintf("schedule ended with %d of %d instructions done and %d futures outstanding",
				st.ndone, len(st.prog.Instructions), st.futures.Len()))
	}
	return nil
}
