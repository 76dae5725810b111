package bandit

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/sw965/banditformula/expr"
	"github.com/sw965/omw/mathx/randx"
	"gonum.org/v1/gonum/stat/distuv"
)

// Policy chooses arms and learns from the rewards it receives.
type Policy interface {
	Init(numArms int)
	Select(rng *rand.Rand) (int, error)
	Update(arm int, reward float64)
	Stats() []ArmStats
}

// PolicyFactory creates a fresh policy. Every rollout episode gets its own
// instance so that episodes may run concurrently.
type PolicyFactory func() Policy

// tieEps is the gap under which two index scores are considered equal.
const tieEps = 1e-9

type statsPolicy struct {
	stats []ArmStats
	t     int
}

func (p *statsPolicy) Init(numArms int) {
	p.stats = make([]ArmStats, numArms)
	p.t = 0
}

func (p *statsPolicy) Update(arm int, reward float64) {
	p.stats[arm].Observe(reward)
	p.t++
}

func (p *statsPolicy) Stats() []ArmStats {
	return p.stats
}

func (p *statsPolicy) Timestep() int {
	return p.t
}

// IndexPolicy plays every arm once, lowest index first, then the arm with
// the highest index score. Ties are broken uniformly at random. Scores that
// are invalid or equal to -math.MaxFloat64 never win; when no arm has a
// usable score a uniformly random arm is played.
type IndexPolicy struct {
	statsPolicy
	Func IndexFunc
	best []int
}

func NewIndexPolicy(f IndexFunc) *IndexPolicy {
	return &IndexPolicy{Func: f}
}

func (p *IndexPolicy) Select(rng *rand.Rand) (int, error) {
	n := len(p.stats)
	if n == 0 {
		return 0, ErrNoArms
	}
	if p.Func == nil {
		return 0, fmt.Errorf("%w: IndexPolicy.Func", ErrNilFunc)
	}
	for i := range p.stats {
		if p.stats[i].Count == 0 {
			return i, nil
		}
	}

	p.best = p.best[:0]
	var max float64
	for i, s := range p.stats {
		u := p.Func(s, p.t)
		if !expr.IsValid(u) || u == -math.MaxFloat64 {
			continue
		}

		if len(p.best) == 0 || u > max+tieEps {
			max = u
			p.best = append(p.best[:0], i)
			continue
		}

		if math.Abs(u-max) <= tieEps {
			p.best = append(p.best, i)
		}
	}

	if len(p.best) == 0 {
		return rng.IntN(n), nil
	}
	return randx.Choice(p.best, rng)
}

type UniformPolicy struct {
	statsPolicy
}

func (p *UniformPolicy) Select(rng *rand.Rand) (int, error) {
	if len(p.stats) == 0 {
		return 0, ErrNoArms
	}
	return rng.IntN(len(p.stats)), nil
}

// ThompsonPolicy samples each arm from a Beta posterior. Rewards are
// clipped to [0, 1] and counted as fractional successes.
type ThompsonPolicy struct {
	statsPolicy
	successes []float64
	best      []int
}

func (p *ThompsonPolicy) Init(numArms int) {
	p.statsPolicy.Init(numArms)
	p.successes = make([]float64, numArms)
}

func (p *ThompsonPolicy) Update(arm int, reward float64) {
	p.statsPolicy.Update(arm, reward)
	p.successes[arm] += math.Min(1, math.Max(0, reward))
}

func (p *ThompsonPolicy) Select(rng *rand.Rand) (int, error) {
	if len(p.stats) == 0 {
		return 0, ErrNoArms
	}
	p.best = p.best[:0]
	var max float64
	for i, s := range p.stats {
		a := 1 + p.successes[i]
		b := 1 + float64(s.Count) - p.successes[i]
		v := distuv.Beta{Alpha: a, Beta: b, Src: rng}.Rand()
		switch {
		case len(p.best) == 0 || v > max:
			max = v
			p.best = append(p.best[:0], i)
		case v == max:
			p.best = append(p.best, i)
		}
	}
	return randx.Choice(p.best, rng)
}

func NewIndexPolicyFactory(f IndexFunc) PolicyFactory {
	return func() Policy {
		return NewIndexPolicy(f)
	}
}

func NewFormulaPolicyFactory(e *expr.Node) PolicyFactory {
	return NewIndexPolicyFactory(NewFormulaFunc(e))
}

// PolicyNames lists the names accepted by ParsePolicy. A policy may take one
// numeric parameter after a colon (e.g. "ucb1:2"), and "formula:<text>"
// builds an index policy from a formula.
var PolicyNames = []string{"uniform", "greedy", "ucb1", "ucb1tuned", "klucb", "formula5", "thompson"}

func ParsePolicy(s string) (PolicyFactory, error) {
	name, arg, hasArg := strings.Cut(s, ":")
	if name == "formula" {
		e, err := expr.Parse(arg, &Domain)
		if err != nil {
			return nil, err
		}
		if err := CheckFormula(e); err != nil {
			return nil, err
		}
		return NewFormulaPolicyFactory(e), nil
	}

	param := func(def float64) (float64, error) {
		if !hasArg {
			return def, nil
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return 0, fmt.Errorf("方策 %q のパラメータが不正: %w", s, err)
		}
		return v, nil
	}

	switch name {
	case "uniform":
		return func() Policy { return &UniformPolicy{} }, nil
	case "thompson":
		return func() Policy { return &ThompsonPolicy{} }, nil
	case "greedy":
		return NewIndexPolicyFactory(GreedyFunc), nil
	case "ucb1tuned":
		return NewIndexPolicyFactory(UCB1TunedFunc), nil
	case "ucb1":
		c, err := param(2.0)
		if err != nil {
			return nil, err
		}
		return NewIndexPolicyFactory(NewUCB1Func(c)), nil
	case "klucb":
		c, err := param(0.0)
		if err != nil {
			return nil, err
		}
		return NewIndexPolicyFactory(NewKLUCBFunc(c)), nil
	case "formula5":
		c, err := param(2.5)
		if err != nil {
			return nil, err
		}
		return NewIndexPolicyFactory(NewFormula5Func(c)), nil
	}
	return nil, fmt.Errorf("未知の方策: %q", s)
}
