// Package bandit simulates multi-armed bandit problems and the index-based
// policies that play them. It turns a formula over arm statistics into a
// policy and measures its regret.
//
// Package bandit は多腕バンディット問題と指数方策のシミュレーションを提供します。
package bandit

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrNoArms         = errors.New("腕が存在しません")
	ErrArmOutOfRange  = errors.New("腕のインデックスが範囲外です")
	ErrInvalidHorizon = errors.New("horizonは1以上である必要があります")
	ErrNilFunc        = errors.New("関数がnilです")
)

type ArmKind int

const (
	BernoulliArm ArmKind = iota
	GaussianArm
)

// Arm is an independent reward source whose expectation is known to the
// evaluator but hidden from the policy.
type Arm struct {
	Kind ArmKind
	Mean float64
	Std  float64
}

func Bernoulli(p float64) Arm {
	return Arm{Kind: BernoulliArm, Mean: p}
}

func Gaussian(mean, std float64) Arm {
	return Arm{Kind: GaussianArm, Mean: mean, Std: std}
}

func (a Arm) Expectation() float64 {
	return a.Mean
}

func (a Arm) Sample(rng *rand.Rand) float64 {
	switch a.Kind {
	case BernoulliArm:
		return distuv.Bernoulli{P: a.Mean, Src: rng}.Rand()
	case GaussianArm:
		if a.Std == 0 {
			return a.Mean
		}
		return distuv.Normal{Mu: a.Mean, Sigma: a.Std, Src: rng}.Rand()
	}
	panic(fmt.Sprintf("BUG: 未知のArmKind: %d", int(a.Kind)))
}

func (a Arm) String() string {
	switch a.Kind {
	case BernoulliArm:
		return fmt.Sprintf("Bernoulli(%.4g)", a.Mean)
	case GaussianArm:
		return fmt.Sprintf("Gaussian(%.4g, %.4g)", a.Mean, a.Std)
	}
	return fmt.Sprintf("Arm(%d)", int(a.Kind))
}

type Problem []Arm

func (p Problem) Best() float64 {
	return p[p.BestIndex()].Mean
}

func (p Problem) BestIndex() int {
	best := 0
	for i, a := range p {
		if a.Mean > p[best].Mean {
			best = i
		}
	}
	return best
}

func (p Problem) Expectations() []float64 {
	es := make([]float64, len(p))
	for i, a := range p {
		es[i] = a.Mean
	}
	return es
}
