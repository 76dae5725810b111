// Package eda tunes the learnable constants of a formula with an
// estimation-of-distribution algorithm: each generation samples a population
// of constant vectors from independent Gaussians, scores them and refits the
// Gaussians to the elite.
package eda

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/report"
	"github.com/sw965/banditformula/search"
	"github.com/sw965/omw/parallel"
	"github.com/sw965/omw/slicesx"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrConstantCount = errors.New("定数の個数が一致しません")

// WithConstants returns a copy of e whose learnable constants, in pre-order,
// take values.
func WithConstants(e *expr.Node, values []float64) (*expr.Node, error) {
	c := e.Clone()
	cs := c.LearnableConstants()
	if len(cs) != len(values) {
		return nil, fmt.Errorf("%w: 数式=%d, 値=%d", ErrConstantCount, len(cs), len(values))
	}
	for i, n := range cs {
		n.Value = values[i]
	}
	return c, nil
}

type Engine struct {
	Score          search.ScoreFunc
	PopulationSize int
	EliteSize      int
	Generations    int
	// InitStd is the initial spread around the formula's current constants.
	InitStd float64
	// MinStd keeps the sampler from collapsing.
	MinStd   float64
	Workers  int
	Reporter report.Reporter
}

type Generation struct {
	Index     int
	BestScore float64
	MeanScore float64
	Mean      []float64
	Std       []float64
}

type Result struct {
	Formula     *expr.Node
	Constants   []float64
	Score       float64
	Evaluations int
	History     []Generation
}

func (e *Engine) Validate() error {
	if e.Score == nil {
		return errors.New("Scoreがnilです")
	}
	if e.EliteSize < 2 {
		return fmt.Errorf("EliteSizeは2以上である必要があります: %d", e.EliteSize)
	}
	if e.PopulationSize < e.EliteSize {
		return fmt.Errorf("PopulationSize(%d)はEliteSize(%d)以上である必要があります", e.PopulationSize, e.EliteSize)
	}
	if e.Generations < 1 {
		return fmt.Errorf("Generationsは1以上である必要があります: %d", e.Generations)
	}
	if e.InitStd <= 0 || e.MinStd < 0 {
		return fmt.Errorf("標準偏差が不正: InitStd=%v, MinStd=%v", e.InitStd, e.MinStd)
	}
	return nil
}

func (e *Engine) score(f *expr.Node, rng *rand.Rand) (float64, error) {
	s, err := e.Score(f, rng)
	if err != nil {
		return search.WorstScore, err
	}
	if !expr.IsValid(s) {
		return search.WorstScore, nil
	}
	return s, nil
}

// Run tunes the learnable constants of formula. Individuals are scored on
// Workers goroutines, each individual with its own generator seeded from
// rng, so the result does not depend on Workers. The best individual ever
// scored is returned.
func (e *Engine) Run(ctx context.Context, formula *expr.Node, rng *rand.Rand) (Result, error) {
	if err := e.Validate(); err != nil {
		return Result{}, err
	}
	rep := report.OrNop(e.Reporter)
	ctx = rep.EnterScope(ctx, "eda")

	constants := formula.LearnableConstants()
	if len(constants) == 0 {
		s, err := e.score(formula, rng)
		if err != nil {
			rep.LeaveScope(ctx, err)
			return Result{}, err
		}
		rep.LeaveScope(ctx, s)
		return Result{Formula: formula.Clone(), Score: s, Evaluations: 1}, nil
	}

	dim := len(constants)
	mean := make([]float64, dim)
	std := make([]float64, dim)
	for i, c := range constants {
		mean[i] = c.Value
		std[i] = e.InitStd
	}

	res := Result{Score: search.WorstScore}
	workers := max(e.Workers, 1)
	population := make([][]float64, e.PopulationSize)
	scores := make([]float64, e.PopulationSize)
	seeds := make([][2]uint64, e.PopulationSize)

	for g := 0; g < e.Generations; g++ {
		if err := ctx.Err(); err != nil {
			rep.LeaveScope(ctx, err)
			return Result{}, err
		}
		for i := range population {
			ind := make([]float64, dim)
			for j := range ind {
				ind[j] = distuv.Normal{Mu: mean[j], Sigma: std[j], Src: rng}.Rand()
			}
			population[i] = ind
			seeds[i] = [2]uint64{rng.Uint64(), rng.Uint64()}
		}

		err := parallel.For(e.PopulationSize, workers, func(_, i int) error {
			f, err := WithConstants(formula, population[i])
			if err != nil {
				return err
			}
			scores[i], err = e.score(f, rand.New(rand.NewPCG(seeds[i][0], seeds[i][1])))
			return err
		})
		if err != nil {
			rep.LeaveScope(ctx, err)
			return Result{}, err
		}
		res.Evaluations += e.PopulationSize

		// 昇順なので末尾がエリート
		order := slicesx.Argsort(scores)
		elite := order[len(order)-e.EliteSize:]
		if top := order[len(order)-1]; scores[top] > res.Score || res.Constants == nil {
			res.Score = scores[top]
			res.Constants = append([]float64(nil), population[top]...)
		}

		xs := make([]float64, e.EliteSize)
		for j := 0; j < dim; j++ {
			for k, idx := range elite {
				xs[k] = population[idx][j]
			}
			m, s := stat.MeanStdDev(xs, nil)
			mean[j], std[j] = m, max(s, e.MinStd)
		}

		res.History = append(res.History, Generation{
			Index:     g,
			BestScore: scores[order[len(order)-1]],
			MeanScore: stat.Mean(scores, nil),
			Mean:      append([]float64(nil), mean...),
			Std:       append([]float64(nil), std...),
		})
		rep.Result(ctx, report.BestScore, res.Score)
		rep.Progress(ctx, g+1, e.Generations)
	}

	f, err := WithConstants(formula, res.Constants)
	if err != nil {
		rep.LeaveScope(ctx, err)
		return Result{}, err
	}
	res.Formula = f
	rep.Result(ctx, report.BestFormula, f.String())
	rep.Result(ctx, report.Evaluations, res.Evaluations)
	rep.LeaveScope(ctx, res.Score)
	return res, nil
}
