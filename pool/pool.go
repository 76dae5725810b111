// Package pool schedules noisy evaluations among candidate formulas. Each
// formula is an arm of an inner bandit policy; every pull runs the bandit
// objective once for the chosen formula and feeds the resulting reward back
// to the policy.
//
// Package pool は候補の数式をバンディットの腕とみなし、どの数式を再評価するかを
// 内側の方策で決めます。
package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/sw965/banditformula/bandit"
	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/report"
	"github.com/sw965/omw/mathx/randx"
)

// None is returned by PlayOne when the pool is empty.
const None = -1

var ErrEmptyPool = errors.New("数式プールが空です")

// DefaultInnerConstant is the constant of the default inner policy rk + c/tk.
const DefaultInnerConstant = 2.5

// Evaluator returns the regret measured by one evaluation of formula index.
type Evaluator func(index int, rng *rand.Rand) (float64, error)

// FormulaEvaluator runs one fresh evaluation of formulas[index] with o per
// call; the objective's cache is not consulted.
func FormulaEvaluator(o *bandit.Objective, formulas []*expr.Node) Evaluator {
	return func(index int, rng *rand.Rand) (float64, error) {
		return o.SampleRegret(formulas[index], rng)
	}
}

// ConstantEvaluator returns the regret 1-rewards[index] on every call.
func ConstantEvaluator(rewards []float64) Evaluator {
	return func(index int, _ *rand.Rand) (float64, error) {
		return 1 - rewards[index], nil
	}
}

// RewardFunc maps a regret to the reward given to the inner policy.
type RewardFunc func(regret float64) float64

func NegateReward(regret float64) float64 {
	return -regret
}

// ExpReward gives exp(-regret/scale), a reward in (0, 1] for non-negative
// regrets.
func ExpReward(scale float64) RewardFunc {
	return func(regret float64) float64 {
		return math.Exp(-regret / scale)
	}
}

type Entry struct {
	Formula *expr.Node
	Reward  bandit.ArmStats
	Regret  bandit.ArmStats
}

type Ranked struct {
	Index      int
	Formula    *expr.Node
	MeanReward float64
	MeanRegret float64
	Count      int
}

type IterationReport struct {
	Iteration int
	Best      []Ranked
	// The regrets are only set when the true expected rewards are known.
	HasTruth         bool
	SimpleRegret     float64
	CumulativeRegret float64
}

type Pool struct {
	Policy   bandit.Policy
	Evaluate Evaluator
	Reward   RewardFunc
	Reporter report.Reporter
	// Display is used to print formulas in reports. Nil prints the grammar
	// text.
	Display *expr.Domain

	entries []Entry
}

// New creates a pool over formulas. A nil policy uses the index policy
// rk + 2.5/tk. The policy is initialized with one arm per formula.
func New(formulas []*expr.Node, policy bandit.Policy, evaluate Evaluator) *Pool {
	if policy == nil {
		policy = bandit.NewIndexPolicy(bandit.NewFormula5Func(DefaultInnerConstant))
	}
	policy.Init(len(formulas))
	entries := make([]Entry, len(formulas))
	for i, f := range formulas {
		entries[i].Formula = f
	}
	return &Pool{
		Policy:   policy,
		Evaluate: evaluate,
		Reward:   NegateReward,
		entries:  entries,
	}
}

func (p *Pool) Len() int {
	return len(p.entries)
}

func (p *Pool) Entries() []Entry {
	return slices.Clone(p.entries)
}

func (p *Pool) Validate() error {
	if p.Policy == nil {
		return errors.New("Pool.Policyがnilです")
	}
	if p.Evaluate == nil {
		return errors.New("Pool.Evaluateがnilです")
	}
	if p.Reward == nil {
		return errors.New("Pool.Rewardがnilです")
	}
	return nil
}

// PlayOne pulls one formula and returns its index. On an empty pool it
// returns None and ErrEmptyPool.
func (p *Pool) PlayOne(rng *rand.Rand) (int, error) {
	if len(p.entries) == 0 {
		return None, ErrEmptyPool
	}
	if err := p.Validate(); err != nil {
		return None, err
	}

	i, err := p.Policy.Select(rng)
	if err != nil {
		return None, err
	}
	if i < 0 || i >= len(p.entries) {
		return None, fmt.Errorf("%w: %d", bandit.ErrArmOutOfRange, i)
	}

	regret, err := p.Evaluate(i, rng)
	if err != nil {
		return i, fmt.Errorf("数式%dの評価に失敗: %w", i, err)
	}
	reward := p.Reward(regret)
	p.Policy.Update(i, reward)
	p.entries[i].Reward.Observe(reward)
	p.entries[i].Regret.Observe(regret)
	return i, nil
}

func (p *Pool) ranked(i int) Ranked {
	e := p.entries[i]
	return Ranked{
		Index:      i,
		Formula:    e.Formula,
		MeanReward: e.Reward.Mean,
		MeanRegret: e.Regret.Mean,
		Count:      e.Reward.Count,
	}
}

// BestFormulas returns up to k formulas by decreasing empirical mean reward,
// ties in insertion order. Formulas never played rank last.
func (p *Pool) BestFormulas(k int) []Ranked {
	idxs := make([]int, len(p.entries))
	for i := range idxs {
		idxs[i] = i
	}
	slices.SortStableFunc(idxs, func(a, b int) int {
		ea, eb := p.entries[a].Reward, p.entries[b].Reward
		switch {
		case ea.Count == 0 && eb.Count == 0:
			return 0
		case ea.Count == 0:
			return 1
		case eb.Count == 0:
			return -1
		case ea.Mean > eb.Mean:
			return -1
		case ea.Mean < eb.Mean:
			return 1
		}
		return 0
	})

	k = min(k, len(idxs))
	res := make([]Ranked, k)
	for j := 0; j < k; j++ {
		res[j] = p.ranked(idxs[j])
	}
	return res
}

// bestIndices returns every played formula whose mean reward is maximal.
func (p *Pool) bestIndices() []int {
	var best []int
	max := math.Inf(-1)
	for i, e := range p.entries {
		if e.Reward.Count == 0 {
			continue
		}
		switch {
		case e.Reward.Mean > max:
			max = e.Reward.Mean
			best = append(best[:0], i)
		case e.Reward.Mean == max:
			best = append(best, i)
		}
	}
	return best
}

func (p *Pool) label(f *expr.Node) string {
	if p.Display != nil {
		return f.Short(p.Display)
	}
	return f.String()
}

// ReportSize is the number of formulas listed per iteration report.
const ReportSize = 10

// Run performs iterations rounds of pulls pulls each (zero means one pull
// per formula). When truth holds the true expected reward of every formula,
// each report also carries the pool's simple regret, measured on a best
// formula chosen uniformly among the empirical ties, and the cumulative
// regret of all pulls so far.
func (p *Pool) Run(ctx context.Context, iterations, pulls int, truth []float64, rng *rand.Rand) ([]IterationReport, error) {
	if len(p.entries) == 0 {
		return nil, ErrEmptyPool
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if truth != nil && len(truth) != len(p.entries) {
		return nil, fmt.Errorf("truthの長さ%dが数式の数%dと一致しません", len(truth), len(p.entries))
	}
	if pulls <= 0 {
		pulls = len(p.entries)
	}

	rep := report.OrNop(p.Reporter)
	bestTruth := math.Inf(-1)
	for _, v := range truth {
		bestTruth = max(bestTruth, v)
	}

	ctx = rep.EnterScope(ctx, "pool")
	reports := make([]IterationReport, 0, iterations)
	cumulative := 0.0
	for it := 0; it < iterations; it++ {
		if err := ctx.Err(); err != nil {
			rep.LeaveScope(ctx, err)
			return reports, err
		}

		itCtx := rep.EnterScope(ctx, fmt.Sprintf("iteration %d", it))
		for j := 0; j < pulls; j++ {
			i, err := p.PlayOne(rng)
			if err != nil {
				rep.LeaveScope(itCtx, err)
				rep.LeaveScope(ctx, err)
				return reports, err
			}
			if truth != nil {
				cumulative += bestTruth - truth[i]
			}
		}

		r := IterationReport{Iteration: it, Best: p.BestFormulas(ReportSize)}
		if truth != nil {
			r.HasTruth = true
			r.CumulativeRegret = cumulative
			r.SimpleRegret = 1
			if best := p.bestIndices(); len(best) > 0 {
				i, err := randx.Choice(best, rng)
				if err != nil {
					return reports, err
				}
				r.SimpleRegret = bestTruth - truth[i]
			}
			rep.Result(itCtx, "simple_regret", r.SimpleRegret)
			rep.Result(itCtx, "cumulative_regret", r.CumulativeRegret)
		}
		if len(r.Best) > 0 {
			rep.Result(itCtx, report.BestFormula, p.label(r.Best[0].Formula))
			rep.Result(itCtx, report.BestScore, r.Best[0].MeanReward)
		}
		reports = append(reports, r)
		rep.LeaveScope(itCtx, nil)
		rep.Progress(ctx, it+1, iterations)
	}
	rep.LeaveScope(ctx, len(reports))
	return reports, nil
}
