package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sw965/banditformula/bandit"
	"github.com/sw965/banditformula/builder"
	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/fingerprint"
	"github.com/sw965/banditformula/pool"
	"github.com/sw965/banditformula/report"
)

// Enumerate visits the expression of every terminal state reachable from s,
// in action order. maxDepth bounds the number of applied actions; zero
// means unbounded, which only terminates for builders with a size bound.
// A non-terminal state that cannot be extended, because maxDepth is reached
// or no action is left, is visited when it describes an expression; this
// is how builders that never terminate, such as Flat, are enumerated.
// s is restored before Enumerate returns without error.
func Enumerate(ctx context.Context, s builder.State, maxDepth int, visit func(*expr.Node) error) error {
	if s.IsTerminal() {
		e, ok := s.Expression()
		if !ok {
			return nil
		}
		return visit(e)
	}
	var actions []builder.Action
	if maxDepth == 0 || s.Depth() < maxDepth {
		actions = s.Actions()
	}
	if len(actions) == 0 {
		if e, ok := s.Expression(); ok {
			return visit(e)
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, a := range actions {
		if err := s.Apply(a); err != nil {
			return err
		}
		if err := Enumerate(ctx, s, maxDepth, visit); err != nil {
			return err
		}
		if err := s.Undo(); err != nil {
			return err
		}
	}
	return nil
}

// Discovery enumerates every complete formula of a bounded builder, keeps
// one formula per behavioral fingerprint and lets a formula pool allocate
// objective evaluations among the survivors.
type Discovery struct {
	NewState builder.Factory
	// MaxDepth bounds the enumeration; see Enumerate.
	MaxDepth  int
	Battery   fingerprint.Battery
	Mode      fingerprint.Mode
	Required  []int
	Objective *bandit.Objective
	// Policy is the inner policy of the pool; nil uses the pool default.
	Policy     bandit.Policy
	Reward     pool.RewardFunc
	Iterations int
	// Pulls per iteration; zero means one per formula.
	Pulls    int
	Top      int
	Reporter report.Reporter
	Display  *expr.Domain
}

type DiscoveryResult struct {
	Enumerated int
	Rejected   int
	Formulas   []*expr.Node
	Best       []pool.Ranked
	Reports    []pool.IterationReport
}

func (d *Discovery) Validate() error {
	if d.NewState == nil {
		return errors.New("NewStateがnilです")
	}
	if d.Objective == nil {
		return errors.New("Objectiveがnilです")
	}
	if len(d.Battery.Samples) == 0 {
		return errors.New("Batteryが空です")
	}
	if d.Iterations < 1 {
		return fmt.Errorf("Iterationsは1以上である必要があります: %d", d.Iterations)
	}
	return d.Objective.Validate()
}

// Unique enumerates and deduplicates the formulas without evaluating them.
func (d *Discovery) Unique(ctx context.Context) (*fingerprint.Set, int, error) {
	set := fingerprint.NewSet(d.Battery, d.Mode)
	set.Required = d.Required
	rep := report.OrNop(d.Reporter)

	enumerated := 0
	err := Enumerate(ctx, d.NewState(), d.MaxDepth, func(e *expr.Node) error {
		enumerated++
		if set.Add(e) == fingerprint.Inserted && set.Len()%1000 == 0 {
			rep.Result(ctx, "unique_formulas", set.Len())
		}
		return nil
	})
	return set, enumerated, err
}

func (d *Discovery) Run(ctx context.Context, rng *rand.Rand) (DiscoveryResult, error) {
	if err := d.Validate(); err != nil {
		return DiscoveryResult{}, err
	}
	rep := report.OrNop(d.Reporter)
	ctx = rep.EnterScope(ctx, "discovery")

	set, enumerated, err := d.Unique(ctx)
	if err != nil {
		rep.LeaveScope(ctx, err)
		return DiscoveryResult{}, err
	}
	res := DiscoveryResult{
		Enumerated: enumerated,
		Rejected:   set.Rejected(),
		Formulas:   set.Formulas(),
	}
	rep.Result(ctx, "enumerated", res.Enumerated)
	rep.Result(ctx, "unique", len(res.Formulas))
	rep.Result(ctx, "rejected", res.Rejected)

	p := pool.New(res.Formulas, d.Policy, pool.FormulaEvaluator(d.Objective, res.Formulas))
	if d.Reward != nil {
		p.Reward = d.Reward
	}
	p.Reporter = d.Reporter
	p.Display = d.Display

	res.Reports, err = p.Run(ctx, d.Iterations, d.Pulls, nil, rng)
	if err != nil {
		rep.LeaveScope(ctx, err)
		return res, err
	}
	top := d.Top
	if top <= 0 {
		top = pool.ReportSize
	}
	res.Best = p.BestFormulas(top)
	rep.LeaveScope(ctx, len(res.Best))
	return res, nil
}
