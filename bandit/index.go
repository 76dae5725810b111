package bandit

import (
	"math"

	"github.com/sw965/banditformula/expr"
)

// Domain is the variable set of index formulas: rk is the empirical mean
// reward of the arm, sk its standard deviation, tk its play count and t the
// number of plays made so far.
var Domain = expr.Domain{Name: "bandit", Variables: []string{"rk", "sk", "tk", "t"}}

const (
	VarRK = iota
	VarSK
	VarTK
	VarT
	NumVariables
)

// IndexFunc scores an arm from its statistics and the current timestep.
type IndexFunc func(s ArmStats, t int) float64

func GreedyFunc(s ArmStats, t int) float64 {
	return s.Mean
}

func NewUCB1Func(c float64) IndexFunc {
	return func(s ArmStats, t int) float64 {
		return s.Mean + math.Sqrt(c*math.Log(float64(t))/float64(s.Count))
	}
}

func UCB1TunedFunc(s ArmStats, t int) float64 {
	lnT := math.Log(float64(t))
	tk := float64(s.Count)
	v := s.Variance() + math.Sqrt(2*lnT/tk)
	return s.Mean + math.Sqrt(lnT/tk*math.Min(0.25, v))
}

// NewFormula5Func returns rk + c/tk.
func NewFormula5Func(c float64) IndexFunc {
	return func(s ArmStats, t int) float64 {
		return s.Mean + c/float64(s.Count)
	}
}

// NewKLUCBFunc returns the Bernoulli KL-UCB index: the largest q >= rk with
// tk*KL(rk, q) <= ln t + c*ln ln t. Means outside [0,1] are clipped.
func NewKLUCBFunc(c float64) IndexFunc {
	return func(s ArmStats, t int) float64 {
		lnT := math.Log(float64(t))
		bound := lnT
		if c != 0 && lnT > 1 {
			bound += c * math.Log(lnT)
		}
		bound /= float64(s.Count)

		p := math.Min(1, math.Max(0, s.Mean))
		lo, hi := p, 1.0
		for i := 0; i < 32; i++ {
			q := (lo + hi) / 2
			if bernoulliKL(p, q) > bound {
				hi = q
			} else {
				lo = q
			}
		}
		return lo
	}
}

func bernoulliKL(p, q float64) float64 {
	const eps = 1e-15
	p = math.Min(1-eps, math.Max(eps, p))
	q = math.Min(1-eps, math.Max(eps, q))
	return p*math.Log(p/q) + (1-p)*math.Log((1-p)/(1-q))
}

// NewFormulaFunc evaluates e on [rk, sk, tk, t].
func NewFormulaFunc(e *expr.Node) IndexFunc {
	return func(s ArmStats, t int) float64 {
		in := [NumVariables]float64{s.Mean, s.Std(), float64(s.Count), float64(t)}
		return e.Compute(in[:])
	}
}

// CheckFormula verifies that e is structurally valid and only uses the
// variables of Domain.
func CheckFormula(e *expr.Node) error {
	_, err := e.Eval(make([]float64, NumVariables))
	return err
}
