package solver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

type Params struct {
	Trials    int       `mapstructure:"maxIterations" json:"max_iterations"`
	Workers   int       `mapstructure:"workers" json:"workers"`
	MaxRounds int       `mapstructure:"maxRounds" json:"max_rounds"`
	Seed      uint64    `mapstructure:"seed" json:"seed"`
	Penalties Penalties `mapstructure:",squash" json:"penalties"`
}

var DefaultParams = Params{
	Trials:    10000,
	Workers:   1,
	MaxRounds: 1000,
	Penalties: DefaultPenalties,
}

type Solution struct {
	Assignments []Assignment
	Cost        float64
	Trial       int
}

type Result struct {
	Best         Solution
	Trials       int
	CappedTrials int
}

// Progress is called each time the best cost strictly improves. Calls are
// serialized; trial is 0-based.
type Progress func(trial int, cost float64)

// tracker is the best-solution record. It is replaced, never edited.
type tracker struct {
	mu     sync.Mutex
	best   *Solution
	notify Progress
}

func (tr *tracker) offer(sol *Solution) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.best != nil && !better(sol, tr.best) {
		return
	}
	improved := tr.best == nil || sol.Cost < tr.best.Cost
	tr.best = sol
	if improved && tr.notify != nil {
		tr.notify(sol.Trial, sol.Cost)
	}
}

// better orders solutions by cost, then by trial index so that the
// reduction does not depend on which worker finished first.
func better(a, b *Solution) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return a.Trial < b.Trial
}

// Permutation returns the scan order of a trial. Every trial has its own
// stream, so a trial's outcome does not depend on the number of workers.
func Permutation(n int, seed uint64, trial int) []int {
	rng := rand.New(rand.NewPCG(seed, uint64(trial)))
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

// RunTrial allocates, optimizes and scores one trial for the given order.
// ok is false if the optimizer hit maxRounds before reaching its fixpoint.
func RunTrial(inst *Instance, order []int, params Params) (sol Solution, ok bool, err error) {
	t := newTrial(inst, slices.Clone(order))
	if err := t.allocate(); err != nil {
		return Solution{}, false, err
	}
	_, ok = t.optimize(params.MaxRounds)
	return Solution{
		Assignments: t.assign,
		Cost:        inst.Cost(t.assign, params.Penalties),
	}, ok, nil
}

func Solve(ctx context.Context, inst *Instance, params Params, progress Progress) (*Result, error) {
	if params.Trials < 1 {
		return nil, fmt.Errorf("%w: trials must be at least 1", ErrInvalidInstance)
	}
	if len(inst.projectCap) != len(inst.Capacity) {
		return nil, fmt.Errorf("%w: instance was not built by NewInstance", ErrInvalidInstance)
	}
	if _, err := inst.validate(); err != nil {
		return nil, err
	}
	workers := max(params.Workers, 1)

	tr := &tracker{notify: progress}
	var next, capped atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				n := int(next.Add(1) - 1)
				if n >= params.Trials {
					return nil
				}
				sol, ok, err := RunTrial(inst, Permutation(inst.NumStudents(), params.Seed, n), params)
				if err != nil {
					return fmt.Errorf("trial %d: %w", n+1, err)
				}
				if !ok {
					capped.Add(1)
					continue
				}
				sol.Trial = n
				tr.offer(&sol)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Trials: params.Trials, CappedTrials: int(capped.Load())}
	if tr.best == nil {
		return nil, fmt.Errorf("all %d trials exceeded %d optimizer rounds", params.Trials, params.MaxRounds)
	}
	res.Best = *tr.best
	return res, nil
}

// OverflowCounts returns how many students hold the overflow sentinel for
// project and for work-package.
func (inst *Instance) OverflowCounts(assign []Assignment) (projects, workPackages int) {
	for _, a := range assign {
		if a.ProjectRank == inst.NumChoicesP {
			projects++
		}
		if a.WorkPackageRank == inst.NumChoicesW {
			workPackages++
		}
	}
	return projects, workPackages
}
