// Package search drives builder states towards high-scoring expressions.
// The score function is a black box; higher is better. Every driver
// reports its best-so-far expression after each round.
//
// Package search はビルダー状態を探索し、スコアの高い数式を見つけます。
package search

import (
	"errors"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/sw965/banditformula/builder"
	"github.com/sw965/banditformula/expr"
)

// ScoreFunc scores a complete expression; higher is better.
type ScoreFunc func(e *expr.Node, rng *rand.Rand) (float64, error)

// WorstScore replaces invalid scores.
const WorstScore = -math.MaxFloat64

var ErrNoExpression = errors.New("評価できる数式が見つかりません")

type Result struct {
	Best  *expr.Node
	Score float64
	Size  int
	// Validation is the held-out score of Best, set when a validation
	// function was supplied.
	Validation    float64
	HasValidation bool
	Evaluations   int
	Path          []builder.Action
}

// candidate tracks the best expression of one search.
type candidate struct {
	found bool
	expr  *expr.Node
	score float64
	size  int
	path  []builder.Action
}

// offer keeps e when it scores higher, or equal with fewer nodes. Equal
// score and size keep the earlier candidate.
func (c *candidate) offer(e *expr.Node, score float64, path []builder.Action) bool {
	size := e.Size()
	if c.found && (score < c.score || (score == c.score && size >= c.size)) {
		return false
	}
	*c = candidate{found: true, expr: e, score: score, size: size, path: slices.Clone(path)}
	return true
}

func (c *candidate) result(evaluations int) Result {
	return Result{
		Best:        c.expr,
		Score:       c.score,
		Size:        c.size,
		Evaluations: evaluations,
		Path:        c.path,
	}
}

func score(f ScoreFunc, e *expr.Node, rng *rand.Rand) (float64, error) {
	s, err := f(e, rng)
	if err != nil {
		return WorstScore, err
	}
	if !expr.IsValid(s) {
		return WorstScore, nil
	}
	return s, nil
}

func validate(r *Result, f ScoreFunc, rng *rand.Rand) error {
	if f == nil || r.Best == nil {
		return nil
	}
	v, err := score(f, r.Best, rng)
	if err != nil {
		return err
	}
	r.Validation, r.HasValidation = v, true
	return nil
}

func checkCommon(newState builder.Factory, f ScoreFunc) error {
	if newState == nil {
		return errors.New("NewStateがnilです")
	}
	if f == nil {
		return errors.New("Scoreがnilです")
	}
	return nil
}
