// Package evaluator is the reference numeric evaluator.
//
// Values are float64 scalars, []float64 vectors and []ir.Value object
// arrays. Arithmetic is elementwise with scalars broadcast over vectors
// and anything broadcast over object arrays.
//
// What operators, fluxes, functions and geometric quantities compute is
// looked up in a Registry. NewRegistry holds the primitive functions;
// everything else is registered by the caller:
//
//	reg := evaluator.NewRegistry().
//		Operator("mass", evaluator.Scale(2)).
//		Diff("d", evaluator.ForwardDifference(1)).
//		Grid(16)
//	ev := evaluator.New(reg, evaluator.WithTransport(&evaluator.CountdownTransport{Polls: 2}))
//	ev.Reset(inputs)
//	run, err := engine.New().Execute(ctx, prog, ev)
//
// Exchanges go through a Transport. LoopbackTransport answers from a
// goroutine; CountdownTransport answers after a fixed number of polls and
// is what tests and golden traces use.
package evaluator
