// Package schedule runs a script's feature functions in dependency
// order. Functions whose requirements are already satisfied run first;
// their results satisfy further functions in later rounds until every
// function has run or no progress is possible.
package schedule

import (
	"context"
	"fmt"

	"github.com/cepheid-ml/cepheid/pkg/debug"
	"github.com/cepheid-ml/cepheid/pkg/feature"
	"github.com/cepheid-ml/cepheid/pkg/script"
)

// Invoker runs one contracted function against its arguments and returns
// the feature set the function produced.
type Invoker interface {
	Invoke(ctx context.Context, contract script.Contract, args feature.Set) (feature.Set, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, contract script.Contract, args feature.Set) (feature.Set, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, contract script.Contract, args feature.Set) (feature.Set, error) {
	return f(ctx, contract, args)
}

// Result holds the features extracted by a run and, per round, the
// names of the functions that ran in it.
type Result struct {
	Extracted feature.Set
	Rounds    [][]string
}

// Run executes every contracted function against the known feature set,
// in rounds. A function is eligible in a round when none of its required
// names is still pending; eligibility is decided against the pending set
// as of the round start, and a round's outputs become visible only in
// the next round, so a function never consumes a value produced in its
// own round. Within a round, functions run in declaration order.
//
// Run fails before any invocation with UnsatisfiableError when a
// required name is neither known nor provided by any function, and with
// CycleError when a round passes without any function becoming eligible.
func Run(ctx context.Context, contracts script.Contracts, known feature.Set, inv Invoker) (*Result, error) {
	if err := checkSatisfiable(contracts, known); err != nil {
		return nil, err
	}

	// Pending holds every required name not yet available.
	pending := make(map[string]bool)
	for _, c := range contracts {
		for _, name := range c.Requires {
			if !known.Has(name) {
				pending[name] = true
			}
		}
	}

	extracted := make(feature.Set)
	ran := make(map[string]bool)
	var rounds [][]string

	for len(ran) < len(contracts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var round []string
		for _, c := range contracts {
			if ran[c.Name] || intersects(c.Requires, pending) {
				continue
			}
			round = append(round, c.Name)
		}
		if len(round) == 0 {
			var remaining []string
			for _, c := range contracts {
				if !ran[c.Name] {
					remaining = append(remaining, c.Name)
				}
			}
			return nil, &CycleError{Remaining: remaining}
		}

		// Outputs land in a per-round buffer and merge only once the
		// round is over, so that a name re-provided mid-round never
		// reaches a later function of the same round.
		roundOut := make(feature.Set)
		for _, name := range round {
			c, _ := contracts.Get(name)
			args := gatherArgs(c, known, extracted)

			out, err := script.CheckedCall(c, args, func(a feature.Set) (feature.Set, error) {
				return inv.Invoke(ctx, c, a)
			})
			if err != nil {
				return nil, fmt.Errorf("round %d: %w", len(rounds), err)
			}

			// Reserved keys belong to the input series; functions
			// contribute features only.
			for k, v := range out {
				if feature.Reserved(k) {
					continue
				}
				roundOut[k] = v
			}
			for _, p := range c.Provides {
				delete(pending, p)
			}
			ran[c.Name] = true
		}

		extracted.Merge(roundOut)
		rounds = append(rounds, round)
		debug.Log("scheduler", "round complete", "round", len(rounds)-1, "ran", round, "pending", len(pending))
	}

	return &Result{Extracted: extracted, Rounds: rounds}, nil
}

// checkSatisfiable fails when a required name has no producer and is not
// already known, before any function runs.
func checkSatisfiable(contracts script.Contracts, known feature.Set) error {
	provided := make(map[string]bool)
	for _, c := range contracts {
		for _, p := range c.Provides {
			provided[p] = true
		}
	}

	seen := make(map[string]bool)
	var missing []string
	for _, c := range contracts {
		for _, name := range c.Requires {
			if known.Has(name) || provided[name] || seen[name] {
				continue
			}
			seen[name] = true
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &UnsatisfiableError{Missing: missing}
	}
	return nil
}

// gatherArgs collects the values for a contract's required names. Known
// features win over extracted ones; names absent from both are left out
// and caught by the contract check.
func gatherArgs(c script.Contract, known, extracted feature.Set) feature.Set {
	args := make(feature.Set, len(c.Requires))
	for _, name := range c.Requires {
		if v, ok := known[name]; ok {
			args[name] = v
			continue
		}
		if v, ok := extracted[name]; ok {
			args[name] = v
		}
	}
	return args
}

func intersects(names []string, set map[string]bool) bool {
	for _, name := range names {
		if set[name] {
			return true
		}
	}
	return false
}
