package pool

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"text/tabwriter"

	"github.com/sw965/banditformula/expr"
	"github.com/sw965/omw/parallel"
	"gonum.org/v1/gonum/stat"
)

type Summary struct {
	Index      int
	Formula    *expr.Node
	RegretMean float64
	RegretStd  float64
	RewardMean float64
	RewardStd  float64
}

// PlayNTimes evaluates every formula n times and returns the summaries
// sorted by increasing mean regret, ties by index. Formulas are spread over
// workers goroutines; each formula draws from its own generator seeded from
// rng, so the result does not depend on workers.
func PlayNTimes(formulas []*expr.Node, evaluate Evaluator, reward RewardFunc, n, workers int, rng *rand.Rand) ([]Summary, error) {
	if n < 1 {
		return nil, fmt.Errorf("nは1以上である必要があります: n=%d", n)
	}
	if reward == nil {
		reward = NegateReward
	}
	workers = max(workers, 1)

	seeds := make([][2]uint64, len(formulas))
	for i := range seeds {
		seeds[i] = [2]uint64{rng.Uint64(), rng.Uint64()}
	}

	summaries := make([]Summary, len(formulas))
	err := parallel.For(len(formulas), workers, func(_, i int) error {
		r := rand.New(rand.NewPCG(seeds[i][0], seeds[i][1]))
		regrets := make([]float64, n)
		rewards := make([]float64, n)
		for j := range regrets {
			v, err := evaluate(i, r)
			if err != nil {
				return fmt.Errorf("数式%d: %w", i, err)
			}
			regrets[j] = v
			rewards[j] = reward(v)
		}
		s := Summary{Index: i, Formula: formulas[i]}
		s.RegretMean, s.RegretStd = meanStd(regrets)
		s.RewardMean, s.RewardStd = meanStd(rewards)
		summaries[i] = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(summaries, func(a, b Summary) int {
		switch {
		case a.RegretMean < b.RegretMean:
			return -1
		case a.RegretMean > b.RegretMean:
			return 1
		}
		return 0
	})
	return summaries, nil
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 1 {
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}

// WriteSummaries prints one aligned row per summary. d may be nil.
func WriteSummaries(w io.Writer, summaries []Summary, d *expr.Domain) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "rank\tregret\tstd\treward\tformula")
	for i, s := range summaries {
		f := s.Formula.String()
		if d != nil {
			f = s.Formula.Short(d)
		}
		fmt.Fprintf(tw, "%d\t%.4f\t%.4f\t%.4f\t%s\n", i+1, s.RegretMean, s.RegretStd, s.RewardMean, f)
	}
	return tw.Flush()
}
