package bandit

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

type SamplerKind int

const (
	// Setup0Sampler: two Bernoulli arms with p ~ U(0,1).
	Setup0Sampler SamplerKind = iota
	// Setup1Sampler: K ~ U{MinArms..MaxArms} Bernoulli arms with p ~ U(0,1).
	Setup1Sampler
	// Setup2Sampler: small gaps. The first arm has p ~ U(0.5,1), each next
	// arm 0.05 less.
	Setup2Sampler
	// Setup3Sampler: ten Gaussian arms, mean ~ U(0,1), std in {0.01, 0.1, 1}.
	Setup3Sampler
	// Setup4Sampler: like Setup3Sampler with a thousand arms.
	Setup4Sampler
	// FixedSampler always returns Arms.
	FixedSampler
)

var samplerNames = [...]string{"setup0", "setup1", "setup2", "setup3", "setup4", "fixed"}

func (k SamplerKind) String() string {
	if k >= 0 && int(k) < len(samplerNames) {
		return samplerNames[k]
	}
	return fmt.Sprintf("SamplerKind(%d)", int(k))
}

// Sampler generates problem instances.
type Sampler struct {
	Kind    SamplerKind
	MinArms int
	MaxArms int
	Arms    []Arm
}

func NewSampler(kind SamplerKind) Sampler {
	return Sampler{Kind: kind, MinArms: 2, MaxArms: 10}
}

func FixedProblem(arms ...Arm) Sampler {
	return Sampler{Kind: FixedSampler, Arms: arms}
}

// ParseSampler accepts a sampler name, or "fixed:" followed by
// comma-separated Bernoulli probabilities (e.g. "fixed:0.9,0.5").
func ParseSampler(s string) (Sampler, error) {
	if rest, ok := strings.CutPrefix(s, "fixed:"); ok {
		var arms []Arm
		for _, f := range strings.Split(rest, ",") {
			p, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil || p < 0 || p > 1 {
				return Sampler{}, fmt.Errorf("不正な確率 %q", f)
			}
			arms = append(arms, Bernoulli(p))
		}
		return FixedProblem(arms...), nil
	}
	for i, name := range samplerNames {
		if name == s && SamplerKind(i) != FixedSampler {
			return NewSampler(SamplerKind(i)), nil
		}
	}
	return Sampler{}, fmt.Errorf("未知のsampler: %q", s)
}

func (s Sampler) Validate() error {
	switch s.Kind {
	case FixedSampler:
		if len(s.Arms) == 0 {
			return ErrNoArms
		}
	case Setup1Sampler, Setup2Sampler:
		if s.MinArms < 1 || s.MaxArms < s.MinArms {
			return fmt.Errorf("%w: MinArms=%d MaxArms=%d", ErrNoArms, s.MinArms, s.MaxArms)
		}
	case Setup0Sampler, Setup3Sampler, Setup4Sampler:
	default:
		return fmt.Errorf("未知のSamplerKind: %d", int(s.Kind))
	}
	return nil
}

func (s Sampler) Sample(rng *rand.Rand) Problem {
	switch s.Kind {
	case Setup0Sampler:
		return Problem{Bernoulli(rng.Float64()), Bernoulli(rng.Float64())}
	case Setup1Sampler:
		p := make(Problem, s.numArms(rng))
		for i := range p {
			p[i] = Bernoulli(rng.Float64())
		}
		return p
	case Setup2Sampler:
		p := make(Problem, s.numArms(rng))
		highest := 0.5 + 0.5*rng.Float64()
		for i := range p {
			p[i] = Bernoulli(math.Max(0, highest-float64(i)*0.05))
		}
		return p
	case Setup3Sampler:
		return mixedGaussian(10, rng)
	case Setup4Sampler:
		return mixedGaussian(1000, rng)
	case FixedSampler:
		return append(Problem(nil), s.Arms...)
	}
	panic(fmt.Sprintf("BUG: 未知のSamplerKind: %d", int(s.Kind)))
}

func (s Sampler) numArms(rng *rand.Rand) int {
	return s.MinArms + rng.IntN(s.MaxArms-s.MinArms+1)
}

var gaussianStds = []float64{0.01, 0.1, 1.0}

func mixedGaussian(n int, rng *rand.Rand) Problem {
	p := make(Problem, n)
	for i := range p {
		std := gaussianStds[rng.IntN(len(gaussianStds))]
		p[i] = Gaussian(rng.Float64(), std)
	}
	return p
}

func (s Sampler) String() string {
	if s.Kind != FixedSampler {
		return s.Kind.String()
	}
	parts := make([]string, len(s.Arms))
	for i, a := range s.Arms {
		parts[i] = a.String()
	}
	return "fixed[" + strings.Join(parts, " ") + "]"
}
