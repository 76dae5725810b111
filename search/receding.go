package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/sw965/banditformula/builder"
	"github.com/sw965/banditformula/report"
)

// RecedingHorizon enumerates every action sequence of at most Depth steps
// from the current state, scoring each expression reached, then commits
// the first action of the best sequence and repeats. It stops when a round
// does not beat the best score so far, when the committed state is
// terminal, or after MaxIterations rounds.
type RecedingHorizon struct {
	NewState   builder.Factory
	Score      ScoreFunc
	Validation ScoreFunc
	Depth      int
	// MaxIterations bounds the number of committed actions. Zero means
	// no bound.
	MaxIterations int
	Reporter      report.Reporter
}

func (r *RecedingHorizon) Validate() error {
	if err := checkCommon(r.NewState, r.Score); err != nil {
		return err
	}
	if r.Depth < 1 {
		return fmt.Errorf("Depthは1以上である必要があります: %d", r.Depth)
	}
	if r.MaxIterations < 0 {
		return fmt.Errorf("MaxIterationsが不正: %d", r.MaxIterations)
	}
	return nil
}

type dfs struct {
	ctx         context.Context
	state       builder.State
	score       ScoreFunc
	maxDepth    int
	rng         *rand.Rand
	path        []builder.Action
	best        candidate
	evaluations int
}

func (d *dfs) run(depth int) error {
	if err := d.ctx.Err(); err != nil {
		return err
	}
	for _, a := range d.state.Actions() {
		if err := d.state.Apply(a); err != nil {
			return err
		}
		d.path = append(d.path, a)

		if e, ok := d.state.Expression(); ok {
			s, err := score(d.score, e, d.rng)
			if err != nil {
				return err
			}
			d.evaluations++
			d.best.offer(e, s, d.path)
		}

		if !d.state.IsTerminal() && depth+1 < d.maxDepth {
			if err := d.run(depth + 1); err != nil {
				return err
			}
		}

		d.path = d.path[:len(d.path)-1]
		if err := d.state.Undo(); err != nil {
			return err
		}
	}
	return nil
}

func (r *RecedingHorizon) Run(ctx context.Context, rng *rand.Rand) (Result, error) {
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	rep := report.OrNop(r.Reporter)
	ctx = rep.EnterScope(ctx, "receding horizon")

	state := r.NewState()
	var committed []builder.Action
	var best candidate
	evaluations := 0

	for it := 0; r.MaxIterations == 0 || it < r.MaxIterations; it++ {
		itCtx := rep.EnterScope(ctx, fmt.Sprintf("iteration %d", it))
		d := dfs{ctx: itCtx, state: state, score: r.Score, maxDepth: r.Depth, rng: rng, path: slices.Clone(committed)}
		if err := d.run(0); err != nil {
			rep.LeaveScope(itCtx, err)
			rep.LeaveScope(ctx, err)
			return Result{}, err
		}
		evaluations += d.evaluations
		if !d.best.found {
			rep.LeaveScope(itCtx, nil)
			break
		}

		improved := !best.found || d.best.score > best.score
		if improved {
			best = d.best
		}
		rep.Result(itCtx, report.BestFormula, best.expr.String())
		rep.Result(itCtx, report.BestScore, best.score)
		rep.Result(itCtx, report.Evaluations, evaluations)

		first := d.best.path[len(committed)]
		if err := state.Apply(first); err != nil {
			rep.LeaveScope(itCtx, err)
			rep.LeaveScope(ctx, err)
			return Result{}, fmt.Errorf("最良の初手を適用できません: %w", err)
		}
		committed = append(committed, first)
		rep.LeaveScope(itCtx, d.best.score)

		if state.IsTerminal() || !improved {
			break
		}
	}

	if !best.found {
		rep.LeaveScope(ctx, ErrNoExpression)
		return Result{Evaluations: evaluations}, ErrNoExpression
	}
	res := best.result(evaluations)
	if err := validate(&res, r.Validation, rng); err != nil {
		rep.LeaveScope(ctx, err)
		return Result{}, err
	}
	if res.HasValidation {
		rep.Result(ctx, report.Validation, res.Validation)
	}
	rep.LeaveScope(ctx, res.Score)
	return res, nil
}
