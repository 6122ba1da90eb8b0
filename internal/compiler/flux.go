package compiler

import (
	"github.com/roach88/opflow/internal/expr"
)

// FluxBatch is a set of fluxes evaluated by one FluxBatchAssign. Every
// member shares Repr.
type FluxBatch struct {
	Repr   string
	Fluxes []*expr.Flux
}

// fluxRecord is one flux awaiting batching. deps holds the structural keys
// of the fluxes nested inside it.
type fluxRecord struct {
	key  string
	repr string
	flux *expr.Flux
	deps []string
}

// fluxRecords collects every flux reachable from roots, deduplicated by
// structural key, with its nested-flux dependencies.
func fluxRecords(roots []expr.Expr) []fluxRecord {
	var records []fluxRecord
	seen := make(map[string]bool)
	for _, root := range roots {
		for _, f := range expr.CollectFluxes(root) {
			key := expr.Key(f)
			if seen[key] {
				continue
			}
			seen[key] = true

			rec := fluxRecord{key: key, repr: f.Repr, flux: f}
			for _, nested := range expr.CollectFluxes(f) {
				if nk := expr.Key(nested); nk != key {
					rec.deps = append(rec.deps, nk)
				}
			}
			records = append(records, rec)
		}
	}
	return records
}

// planFluxBatches groups fluxes into batches so that every flux nested in a
// batch member was assigned by a strictly earlier batch.
//
// Each round extracts the fluxes whose dependencies are all admissible,
// groups them by representative operator in order of first appearance, and
// marks the whole round admissible. A round that extracts nothing fails.
func planFluxBatches(records []fluxRecord) ([]FluxBatch, error) {
	var batches []FluxBatch
	admissible := make(map[string]bool)
	queue := records

	for len(queue) > 0 {
		var present, rest []fluxRecord
		for _, fr := range queue {
			ready := true
			for _, d := range fr.deps {
				if !admissible[d] {
					ready = false
					break
				}
			}
			if ready {
				present = append(present, fr)
			} else {
				rest = append(rest, fr)
			}
		}

		if len(present) == 0 {
			return nil, fluxOrderError(rest)
		}

		byRepr := make(map[string]int)
		for _, fr := range present {
			i, ok := byRepr[fr.repr]
			if !ok {
				i = len(batches)
				byRepr[fr.repr] = i
				batches = append(batches, FluxBatch{Repr: fr.repr})
			}
			batches[i].Fluxes = append(batches[i].Fluxes, fr.flux)
		}
		for _, fr := range present {
			admissible[fr.key] = true
		}
		queue = rest
	}
	return batches, nil
}

func fluxOrderError(remaining []fluxRecord) error {
	graph := make(dependencyGraph)
	names := make([]string, len(remaining))
	for i, fr := range remaining {
		names[i] = fr.key
		graph[fr.key] = append([]string{}, fr.deps...)
	}
	return &CompileError{
		Code:    ErrCodeFluxOrder,
		Field:   "flux",
		Message: "cannot resolve flux evaluation order",
		Fluxes:  names,
		Cycle:   findCycle(graph),
	}
}
