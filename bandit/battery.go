package bandit

import (
	"math"
	"math/rand/v2"

	"github.com/sw965/banditformula/fingerprint"
)

// NewBattery builds a fingerprint battery of count samples with numArms arms
// sharing the same timestep: t = max(1, 10^U(0,5)), rk ~ U(0,1),
// sk ~ U(0,0.5), tk = max(1, t*U(0,1)). The last two samples hold the
// smallest and the largest statistics.
func NewBattery(count, numArms int, rng *rand.Rand) fingerprint.Battery {
	b := fingerprint.Battery{Samples: make([]fingerprint.Sample, 0, count)}
	for i := 0; i < count-2; i++ {
		t := math.Max(1, math.Floor(math.Pow(10, 5*rng.Float64())))
		sample := make(fingerprint.Sample, numArms)
		for a := range sample {
			sample[a] = []float64{
				VarRK: rng.Float64(),
				VarSK: 0.5 * rng.Float64(),
				VarTK: math.Max(1, math.Floor(t*rng.Float64())),
				VarT:  t,
			}
		}
		b.Samples = append(b.Samples, sample)
	}

	smallest := make(fingerprint.Sample, numArms)
	highest := make(fingerprint.Sample, numArms)
	for a := 0; a < numArms; a++ {
		smallest[a] = []float64{VarRK: 0, VarSK: 0, VarTK: 1, VarT: 1}
		highest[a] = []float64{VarRK: 1, VarSK: 0.5, VarTK: 100000, VarT: 100000}
	}
	if count >= 2 {
		b.Samples = append(b.Samples, smallest, highest)
	}
	return b
}
