package bandit_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/sw965/banditformula/bandit"
	"github.com/sw965/banditformula/cache"
	"github.com/sw965/banditformula/expr"
)

// alwaysPolicy always plays the same arm.
type alwaysPolicy struct {
	arm   int
	stats []bandit.ArmStats
}

func (p *alwaysPolicy) Init(n int) { p.stats = make([]bandit.ArmStats, n) }
func (p *alwaysPolicy) Select(*rand.Rand) (int, error) { return p.arm, nil }
func (p *alwaysPolicy) Update(arm int, reward float64) { p.stats[arm].Observe(reward) }
func (p *alwaysPolicy) Stats() []bandit.ArmStats { return p.stats }

func TestRegretSanity(t *testing.T) {
	problem := bandit.Problem{bandit.Bernoulli(0.9), bandit.Bernoulli(0.5)}
	rng := rand.New(rand.NewPCG(1, 1))

	tests := []struct {
		name string
		kind bandit.RegretKind
		arm  int
		want float64
		tol  float64
	}{
		{"累積_最良腕", bandit.CumulativeRegret, 0, 0, 1e-9},
		{"単純_最良腕", bandit.SimpleRegret, 0, 0, 0},
		{"累積_劣った腕", bandit.CumulativeRegret, 1, 400, 1e-6},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := bandit.Episode(problem, &alwaysPolicy{arm: tc.arm}, 1000, tc.kind, rng)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(out.Regret-tc.want) > tc.tol {
				t.Errorf("regret = %v, want %v", out.Regret, tc.want)
			}
			if out.Counts[tc.arm] != 1000 {
				t.Errorf("counts = %v", out.Counts)
			}
		})
	}
}

func TestIndexPolicyPlaysEveryArmFirst(t *testing.T) {
	p := bandit.NewIndexPolicy(bandit.GreedyFunc)
	p.Init(4)
	rng := rand.New(rand.NewPCG(2, 2))
	for want := 0; want < 4; want++ {
		got, err := p.Select(rng)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Select() = %d, want %d", got, want)
		}
		p.Update(got, float64(want)/10)
	}
	got, err := p.Select(rng)
	if err != nil {
		t.Fatal(err)
	}
	if got != 3 {
		t.Errorf("greedy must pick the best mean, got %d", got)
	}
}

func TestIndexPolicyTiesAndInvalidScores(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	nan := bandit.IndexFunc(func(bandit.ArmStats, int) float64 { return math.NaN() })
	constant := bandit.IndexFunc(func(bandit.ArmStats, int) float64 { return 1 })

	for _, f := range []bandit.IndexFunc{nan, constant} {
		p := bandit.NewIndexPolicy(f)
		p.Init(3)
		for i := 0; i < 3; i++ {
			p.Update(i, 0)
		}
		seen := map[int]bool{}
		for i := 0; i < 300; i++ {
			a, err := p.Select(rng)
			if err != nil {
				t.Fatal(err)
			}
			seen[a] = true
		}
		if len(seen) != 3 {
			t.Errorf("ties must be broken uniformly, saw %v", seen)
		}
	}

	empty := bandit.NewIndexPolicy(bandit.GreedyFunc)
	empty.Init(0)
	if _, err := empty.Select(rng); !errors.Is(err, bandit.ErrNoArms) {
		t.Errorf("Select() on zero arms: %v", err)
	}
}

func TestFormulaPolicyMatchesBuiltin(t *testing.T) {
	e, err := expr.Parse("B(add,V(rk),B(divide,C(2.5),V(tk)))", &bandit.Domain)
	if err != nil {
		t.Fatal(err)
	}
	obj := bandit.Objective{Sampler: bandit.NewSampler(bandit.Setup1Sampler), Horizon: 100, Trials: 5}

	r1, err := obj.Regret(bandit.NewFormulaPolicyFactory(e), rand.New(rand.NewPCG(9, 9)))
	if err != nil {
		t.Fatal(err)
	}
	r2, err := obj.Regret(bandit.NewIndexPolicyFactory(bandit.NewFormula5Func(2.5)), rand.New(rand.NewPCG(9, 9)))
	if err != nil {
		t.Fatal(err)
	}
	if r1 != r2 {
		t.Errorf("formula regret %v != builtin regret %v", r1, r2)
	}
}

func TestUCB1BeatsUniform(t *testing.T) {
	obj := bandit.Objective{
		Sampler: bandit.FixedProblem(bandit.Bernoulli(0.9), bandit.Bernoulli(0.5)),
		Horizon: 1000,
		Trials:  20,
	}
	rng := rand.New(rand.NewPCG(4, 4))
	uniform, err := bandit.ParsePolicy("uniform")
	if err != nil {
		t.Fatal(err)
	}
	ucb, err := bandit.ParsePolicy("ucb1:2")
	if err != nil {
		t.Fatal(err)
	}
	ru, err := obj.Regret(uniform, rng)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := obj.Regret(ucb, rng)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(ru-200) > 40 {
		t.Errorf("uniform regret = %v, want about 200", ru)
	}
	if rc >= ru/2 {
		t.Errorf("ucb1 regret %v must be well below uniform %v", rc, ru)
	}
}

func TestParsePolicy(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	obj := bandit.Objective{Sampler: bandit.NewSampler(bandit.Setup0Sampler), Horizon: 50, Trials: 2}
	names := append([]string{"ucb1:0.5", "klucb:3", "formula5:1", "formula:B(add,V(rk),V(sk))"}, bandit.PolicyNames...)
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			f, err := bandit.ParsePolicy(name)
			if err != nil {
				t.Fatal(err)
			}
			r, err := obj.Regret(f, rng)
			if err != nil {
				t.Fatal(err)
			}
			if r < 0 || r > 50 {
				t.Errorf("regret = %v out of [0, horizon]", r)
			}
		})
	}
	for _, bad := range []string{"nope", "ucb1:x", "formula:V(9)", "formula:B(add"} {
		if _, err := bandit.ParsePolicy(bad); err == nil {
			t.Errorf("ParsePolicy(%q) must fail", bad)
		}
	}
}

func TestSamplers(t *testing.T) {
	rng := rand.New(rand.NewPCG(6, 6))
	for i := 0; i < 50; i++ {
		p := bandit.NewSampler(bandit.Setup1Sampler).Sample(rng)
		if len(p) < 2 || len(p) > 10 {
			t.Fatalf("setup1 arms = %d", len(p))
		}

		p = bandit.NewSampler(bandit.Setup2Sampler).Sample(rng)
		if p[0].Mean < 0.5 || p[0].Mean > 1 {
			t.Fatalf("setup2 best = %v", p[0].Mean)
		}
		for j := 1; j < len(p); j++ {
			if math.Abs(p[j-1].Mean-p[j].Mean-0.05) > 1e-12 {
				t.Fatalf("setup2 gap = %v", p[j-1].Mean-p[j].Mean)
			}
		}

		p = bandit.NewSampler(bandit.Setup3Sampler).Sample(rng)
		if len(p) != 10 {
			t.Fatalf("setup3 arms = %d", len(p))
		}
		for _, a := range p {
			if a.Kind != bandit.GaussianArm || (a.Std != 0.01 && a.Std != 0.1 && a.Std != 1) {
				t.Fatalf("setup3 arm = %v", a)
			}
		}
	}
	if got := len(bandit.NewSampler(bandit.Setup4Sampler).Sample(rng)); got != 1000 {
		t.Errorf("setup4 arms = %d", got)
	}

	s, err := bandit.ParseSampler("fixed:0.9,0.5")
	if err != nil {
		t.Fatal(err)
	}
	if p := s.Sample(rng); len(p) != 2 || p.BestIndex() != 0 || p.Best() != 0.9 {
		t.Errorf("fixed problem = %v", p)
	}
	if _, err := bandit.ParseSampler("fixed:2"); err == nil {
		t.Errorf("probability above 1 must be rejected")
	}
}

func TestArmStats(t *testing.T) {
	xs := []float64{1, 0, 0, 1, 1, 1, 0.5}
	var s bandit.ArmStats
	for _, x := range xs {
		s.Observe(x)
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	v /= float64(len(xs))

	if math.Abs(s.Mean-mean) > 1e-12 || math.Abs(s.Variance()-v) > 1e-12 {
		t.Errorf("mean=%v var=%v, want %v %v", s.Mean, s.Variance(), mean, v)
	}
	if s.Min != 0 || s.Max != 1 || s.Count != len(xs) {
		t.Errorf("min=%v max=%v count=%d", s.Min, s.Max, s.Count)
	}
}

func TestObjectiveCache(t *testing.T) {
	c := cache.New(nil)
	obj := bandit.Objective{Sampler: bandit.NewSampler(bandit.Setup0Sampler), Horizon: 100, Trials: 3, Cache: c}
	rng := rand.New(rand.NewPCG(7, 7))

	e1, _ := expr.Parse("B(add,V(rk),V(sk))", &bandit.Domain)
	e2, _ := expr.Parse("B(add,V(sk),V(rk))", &bandit.Domain)
	s1, err := obj.Score(e1, rng)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := obj.Score(e2, rng)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Errorf("canonically equal formulas must share the cached score: %v != %v", s1, s2)
	}
	if c.Hits() != 1 || c.Len() != 1 {
		t.Errorf("hits=%d len=%d", c.Hits(), c.Len())
	}

	if _, err := obj.Score(expr.Variable(7), rng); !errors.Is(err, expr.ErrInvalidExpression) {
		t.Errorf("out-of-domain variable: %v", err)
	}
}

func TestObjectiveCacheKeyedByConfiguration(t *testing.T) {
	c := cache.New(nil)
	short := bandit.Objective{Sampler: bandit.NewSampler(bandit.Setup0Sampler), Horizon: 10, Trials: 1, Cache: c}
	long := short
	long.Horizon = 1000
	simple := short
	simple.Kind = bandit.SimpleRegret
	rng := rand.New(rand.NewPCG(9, 9))

	e := expr.Variable(0)
	for _, o := range []*bandit.Objective{&short, &long, &simple} {
		if _, err := o.FormulaRegret(e, rng); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 3 || c.Hits() != 0 {
		t.Errorf("objectives must not share entries: len=%d hits=%d", c.Len(), c.Hits())
	}
	if short.CacheKey(e) == long.CacheKey(e) {
		t.Errorf("keys must differ by horizon: %s", short.CacheKey(e))
	}

	if _, err := long.FormulaRegret(e, rng); err != nil {
		t.Fatal(err)
	}
	if c.Hits() != 1 {
		t.Errorf("same configuration must hit: hits=%d", c.Hits())
	}
}

func TestSampleRegretBypassesCache(t *testing.T) {
	c := cache.New(nil)
	o := bandit.Objective{Sampler: bandit.NewSampler(bandit.Setup0Sampler), Horizon: 50, Trials: 1, Cache: c}
	rng := rand.New(rand.NewPCG(10, 10))
	distinct := map[float64]bool{}
	for i := 0; i < 20; i++ {
		r, err := o.SampleRegret(expr.Variable(0), rng)
		if err != nil {
			t.Fatal(err)
		}
		distinct[r] = true
	}
	if len(distinct) < 2 || c.Len() != 0 {
		t.Errorf("distinct regrets = %d, cache len = %d", len(distinct), c.Len())
	}
}

func TestEpisodeErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	if _, err := bandit.Episode(nil, &alwaysPolicy{}, 10, bandit.CumulativeRegret, rng); !errors.Is(err, bandit.ErrNoArms) {
		t.Errorf("empty problem: %v", err)
	}
	p := bandit.Problem{bandit.Bernoulli(0.5)}
	if _, err := bandit.Episode(p, &alwaysPolicy{}, 0, bandit.CumulativeRegret, rng); !errors.Is(err, bandit.ErrInvalidHorizon) {
		t.Errorf("zero horizon: %v", err)
	}
	if _, err := bandit.Episode(p, &alwaysPolicy{arm: 3}, 10, bandit.CumulativeRegret, rng); !errors.Is(err, bandit.ErrArmOutOfRange) {
		t.Errorf("out of range arm: %v", err)
	}
}

func TestNewBattery(t *testing.T) {
	b := bandit.NewBattery(100, 2, rand.New(rand.NewPCG(1, 2)))
	if len(b.Samples) != 100 {
		t.Fatalf("samples = %d", len(b.Samples))
	}
	for _, s := range b.Samples {
		if len(s) != 2 {
			t.Fatalf("arms = %d", len(s))
		}
		for _, in := range s {
			if in[bandit.VarTK] < 1 || in[bandit.VarTK] > in[bandit.VarT] {
				t.Fatalf("tk=%v t=%v", in[bandit.VarTK], in[bandit.VarT])
			}
		}
	}
}
