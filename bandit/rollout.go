package bandit

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sw965/banditformula/cache"
	"github.com/sw965/banditformula/canonical"
	"github.com/sw965/banditformula/expr"
	"github.com/sw965/omw/mathx/randx"
)

type RegretKind int

const (
	// CumulativeRegret is horizon*best minus the sum of the expectations of
	// the arms actually played.
	CumulativeRegret RegretKind = iota
	// SimpleRegret is best minus the expectation of the arm with the highest
	// empirical mean at the end of the episode.
	SimpleRegret
)

func (k RegretKind) String() string {
	switch k {
	case CumulativeRegret:
		return "cumulative"
	case SimpleRegret:
		return "simple"
	}
	return fmt.Sprintf("RegretKind(%d)", int(k))
}

func ParseRegretKind(s string) (RegretKind, error) {
	switch s {
	case "cumulative":
		return CumulativeRegret, nil
	case "simple":
		return SimpleRegret, nil
	}
	return 0, fmt.Errorf("未知のregret: %q", s)
}

// WorstScore is the fitness given to formulas that cannot be evaluated.
const WorstScore = -math.MaxFloat64

type Outcome struct {
	Regret    float64
	RewardSum float64
	Best      float64
	Counts    []int
}

// Episode plays policy on p for horizon steps.
func Episode(p Problem, policy Policy, horizon int, kind RegretKind, rng *rand.Rand) (Outcome, error) {
	if len(p) == 0 {
		return Outcome{}, ErrNoArms
	}
	if horizon < 1 {
		return Outcome{}, fmt.Errorf("%w: horizon=%d", ErrInvalidHorizon, horizon)
	}

	policy.Init(len(p))
	best := p.Best()
	var expected, rewards float64
	for step := 0; step < horizon; step++ {
		a, err := policy.Select(rng)
		if err != nil {
			return Outcome{}, err
		}
		if a < 0 || a >= len(p) {
			return Outcome{}, fmt.Errorf("%w: arm=%d arms=%d", ErrArmOutOfRange, a, len(p))
		}
		r := p[a].Sample(rng)
		policy.Update(a, r)
		rewards += r
		expected += p[a].Mean
	}

	stats := policy.Stats()
	o := Outcome{RewardSum: rewards, Best: best, Counts: make([]int, len(stats))}
	for i, s := range stats {
		o.Counts[i] = s.Count
	}

	switch kind {
	case CumulativeRegret:
		o.Regret = float64(horizon)*best - expected
	case SimpleRegret:
		chosen, err := EmpiricalBest(stats, rng)
		if err != nil {
			return Outcome{}, err
		}
		o.Regret = best - p[chosen].Mean
	default:
		panic(fmt.Sprintf("BUG: 未知のRegretKind: %d", int(kind)))
	}
	return o, nil
}

// EmpiricalBest returns the arm with the highest empirical mean, ties broken
// uniformly at random.
func EmpiricalBest(stats []ArmStats, rng *rand.Rand) (int, error) {
	if len(stats) == 0 {
		return 0, ErrNoArms
	}
	ks := []int{0}
	max := stats[0].Mean
	for i, s := range stats[1:] {
		switch {
		case s.Mean > max:
			max = s.Mean
			ks = append(ks[:0], i+1)
		case s.Mean == max:
			ks = append(ks, i+1)
		}
	}
	return randx.Choice(ks, rng)
}

// Objective measures the regret of policies on problems drawn from Sampler.
// It is safe for concurrent use as long as each caller passes its own rng.
type Objective struct {
	Sampler Sampler
	Horizon int
	Kind    RegretKind
	// Trials is the number of episodes averaged per evaluation.
	Trials int
	// Cache memoizes FormulaRegret by CacheKey. SampleRegret ignores it.
	Cache *cache.Cache
	// OnEpisode, when set, is called after every episode.
	OnEpisode func(Outcome)
}

func (o *Objective) Validate() error {
	if o.Horizon < 1 {
		return fmt.Errorf("%w: horizon=%d", ErrInvalidHorizon, o.Horizon)
	}
	if o.Trials < 1 {
		return fmt.Errorf("trialsは1以上である必要があります: trials=%d", o.Trials)
	}
	return o.Sampler.Validate()
}

// Regret returns the mean regret of newPolicy over Trials episodes, each on
// a freshly sampled problem.
func (o *Objective) Regret(newPolicy PolicyFactory, rng *rand.Rand) (float64, error) {
	if err := o.Validate(); err != nil {
		return 0, err
	}
	sum := 0.0
	for i := 0; i < o.Trials; i++ {
		problem := o.Sampler.Sample(rng)
		out, err := Episode(problem, newPolicy(), o.Horizon, o.Kind, rng)
		if err != nil {
			return 0, err
		}
		if o.OnEpisode != nil {
			o.OnEpisode(out)
		}
		sum += out.Regret
	}
	return sum / float64(o.Trials), nil
}

// SampleRegret runs one fresh evaluation of the index policy defined by e,
// bypassing the cache. Repeated evaluations of one formula must use it.
func (o *Objective) SampleRegret(e *expr.Node, rng *rand.Rand) (float64, error) {
	if err := CheckFormula(e); err != nil {
		return 0, err
	}
	return o.Regret(NewFormulaPolicyFactory(e), rng)
}

// FormulaRegret is SampleRegret memoized in Cache under CacheKey, so a
// formula is measured once per objective configuration.
func (o *Objective) FormulaRegret(e *expr.Node, rng *rand.Rand) (float64, error) {
	if o.Cache == nil {
		return o.SampleRegret(e, rng)
	}
	if err := CheckFormula(e); err != nil {
		return 0, err
	}
	return o.Cache.GetOrCompute(o.CacheKey(e), func() (float64, error) {
		return o.Regret(NewFormulaPolicyFactory(e), rng)
	})
}

// CacheKey identifies the regret of e under this objective's sampler,
// arm counts, horizon, regret kind and trials.
func (o *Objective) CacheKey(e *expr.Node) string {
	return fmt.Sprintf("%s|%d|%d|%d|%s|%d|%s",
		o.Sampler, o.Sampler.MinArms, o.Sampler.MaxArms, o.Horizon, o.Kind, o.Trials, canonical.Key(e))
}

// Fitness maps a regret to a score where higher is better: -regret/horizon
// for cumulative regret and -regret for simple regret.
func (o *Objective) Fitness(regret float64) float64 {
	if o.Kind == CumulativeRegret {
		return -regret / float64(o.Horizon)
	}
	return -regret
}

func (o *Objective) Score(e *expr.Node, rng *rand.Rand) (float64, error) {
	r, err := o.FormulaRegret(e, rng)
	if err != nil {
		return WorstScore, err
	}
	return o.Fitness(r), nil
}
