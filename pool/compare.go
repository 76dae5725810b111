package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/sw965/banditformula/bandit"
	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/report"
)

type NamedPolicy struct {
	Name    string
	Factory bandit.PolicyFactory
}

// DefaultComparePolicies are the inner policies compared by default.
func DefaultComparePolicies() []NamedPolicy {
	return []NamedPolicy{
		{"uniform", func() bandit.Policy { return &bandit.UniformPolicy{} }},
		{"greedy", bandit.NewIndexPolicyFactory(bandit.GreedyFunc)},
		{"ucb1(2)", bandit.NewIndexPolicyFactory(bandit.NewUCB1Func(2))},
		{"ucb1tuned", bandit.NewIndexPolicyFactory(bandit.UCB1TunedFunc)},
		{"klucb(0)", bandit.NewIndexPolicyFactory(bandit.NewKLUCBFunc(0))},
		{"formula5(1)", bandit.NewIndexPolicyFactory(bandit.NewFormula5Func(1))},
		{"formula5(2)", bandit.NewIndexPolicyFactory(bandit.NewFormula5Func(2))},
		{"formula5(5)", bandit.NewIndexPolicyFactory(bandit.NewFormula5Func(5))},
	}
}

type CompareConfig struct {
	Formulas []*expr.Node
	// Truth holds the true expected reward of every formula.
	Truth      []float64
	Evaluate   Evaluator
	Reward     RewardFunc
	Policies   []NamedPolicy
	Runs       int
	Iterations int
	// Pulls per iteration; zero means one per formula.
	Pulls    int
	Workers  int
	Reporter report.Reporter
}

func (c *CompareConfig) Validate() error {
	if len(c.Formulas) == 0 {
		return ErrEmptyPool
	}
	if len(c.Truth) != len(c.Formulas) {
		return fmt.Errorf("Truthの長さ%dが数式の数%dと一致しません", len(c.Truth), len(c.Formulas))
	}
	if c.Evaluate == nil {
		return errors.New("CompareConfig.Evaluateがnilです")
	}
	if len(c.Policies) == 0 {
		return errors.New("比較する方策がありません")
	}
	if c.Runs < 1 || c.Iterations < 1 {
		return fmt.Errorf("RunsとIterationsは1以上である必要があります: runs=%d iterations=%d", c.Runs, c.Iterations)
	}
	return nil
}

type Comparison struct {
	Policy string
	// Successes counts runs whose final simple regret is zero.
	Successes        int
	Runs             int
	SimpleRegretMean []float64
	SimpleRegretStd  []float64
}

// RunSeed is the seed of run r, shared by every compared policy.
func RunSeed(r int) uint64 {
	return uint64(1664 + 51*r)
}

// ComparePolicies runs a pool Runs times per inner policy and aggregates
// the simple regret of every iteration. Runs execute concurrently on up to
// Workers goroutines; run r always uses RunSeed(r).
func ComparePolicies(ctx context.Context, c CompareConfig) ([]Comparison, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	rep := report.OrNop(c.Reporter)
	reward := c.Reward
	if reward == nil {
		reward = NegateReward
	}

	res := make([]Comparison, len(c.Policies))
	for pi, np := range c.Policies {
		pctx := rep.EnterScope(ctx, "policy "+np.Name)
		regrets := make([][]float64, c.Runs)

		g, gctx := errgroup.WithContext(pctx)
		g.SetLimit(max(c.Workers, 1))
		for r := 0; r < c.Runs; r++ {
			g.Go(func() error {
				rng := rand.New(rand.NewPCG(RunSeed(r), 0))
				p := New(c.Formulas, np.Factory(), c.Evaluate)
				p.Reward = reward
				reports, err := p.Run(gctx, c.Iterations, c.Pulls, c.Truth, rng)
				if err != nil {
					return fmt.Errorf("%s run %d: %w", np.Name, r, err)
				}
				rs := make([]float64, len(reports))
				for i, ir := range reports {
					rs[i] = ir.SimpleRegret
				}
				regrets[r] = rs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			rep.LeaveScope(pctx, err)
			return nil, err
		}

		cmp := Comparison{
			Policy:           np.Name,
			Runs:             c.Runs,
			SimpleRegretMean: make([]float64, c.Iterations),
			SimpleRegretStd:  make([]float64, c.Iterations),
		}
		column := make([]float64, c.Runs)
		for it := 0; it < c.Iterations; it++ {
			for r := range column {
				column[r] = regrets[r][it]
			}
			cmp.SimpleRegretMean[it], cmp.SimpleRegretStd[it] = meanStd(column)
		}
		for _, rs := range regrets {
			if rs[len(rs)-1] == 0 {
				cmp.Successes++
			}
		}
		res[pi] = cmp
		rep.Result(pctx, "success_rate", fmt.Sprintf("%d / %d", cmp.Successes, cmp.Runs))
		rep.LeaveScope(pctx, cmp.SimpleRegretMean[c.Iterations-1])
	}
	return res, nil
}
