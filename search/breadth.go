package search

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/sw965/banditformula/builder"
	"github.com/sw965/banditformula/report"
)

// Heuristic orders the frontier of BreadthFirst: nodes with lower values
// are expanded first. parentScore is the score of the nearest scored
// ancestor, or WorstScore.
type Heuristic func(depth int, parentScore float64) float64

// MinDepth expands the shallowest nodes first.
func MinDepth(depth int, _ float64) float64 {
	return float64(depth)
}

// BestFirst expands the children of the best-scoring nodes first.
func BestFirst(_ int, parentScore float64) float64 {
	return -parentScore
}

type frontierNode struct {
	path        []builder.Action
	priority    float64
	seq         int
	parentScore float64
}

type frontier []*frontierNode

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	if f[i].priority != f[j].priority {
		return f[i].priority < f[j].priority
	}
	return f[i].seq < f[j].seq
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(*frontierNode)) }

func (f *frontier) Pop() any {
	old := *f
	n := old[len(old)-1]
	*f = old[:len(old)-1]
	return n
}

// BreadthFirst expands at most MaxNodes states in Heuristic order, each
// rebuilt from the initial state by replaying its path, and scores every
// expression reached.
type BreadthFirst struct {
	NewState   builder.Factory
	Score      ScoreFunc
	Validation ScoreFunc
	MaxNodes   int
	// Heuristic defaults to MinDepth.
	Heuristic Heuristic
	Reporter  report.Reporter
}

func (b *BreadthFirst) Validate() error {
	if err := checkCommon(b.NewState, b.Score); err != nil {
		return err
	}
	if b.MaxNodes < 1 {
		return fmt.Errorf("MaxNodesは1以上である必要があります: %d", b.MaxNodes)
	}
	return nil
}

func (b *BreadthFirst) Run(ctx context.Context, rng *rand.Rand) (Result, error) {
	if err := b.Validate(); err != nil {
		return Result{}, err
	}
	h := b.Heuristic
	if h == nil {
		h = MinDepth
	}
	rep := report.OrNop(b.Reporter)
	ctx = rep.EnterScope(ctx, "breadth first")

	fail := func(err error) (Result, error) {
		rep.LeaveScope(ctx, err)
		return Result{}, err
	}

	f := &frontier{{priority: h(0, WorstScore), parentScore: WorstScore}}
	seq := 1
	var best candidate
	evaluations := 0

	for nodes := 0; nodes < b.MaxNodes && f.Len() > 0; nodes++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		n := heap.Pop(f).(*frontierNode)
		state := b.NewState()
		if err := builder.Replay(state, n.path); err != nil {
			return fail(err)
		}

		parentScore := n.parentScore
		if e, ok := state.Expression(); ok && len(n.path) > 0 {
			s, err := score(b.Score, e, rng)
			if err != nil {
				return fail(err)
			}
			evaluations++
			parentScore = s
			if best.offer(e, s, n.path) {
				rep.Result(ctx, report.BestFormula, e.String())
				rep.Result(ctx, report.BestScore, s)
			}
		}

		if !state.IsTerminal() {
			depth := len(n.path) + 1
			for _, a := range state.Actions() {
				path := make([]builder.Action, len(n.path), depth)
				copy(path, n.path)
				heap.Push(f, &frontierNode{
					path:        append(path, a),
					priority:    h(depth, parentScore),
					seq:         seq,
					parentScore: parentScore,
				})
				seq++
			}
		}
		rep.Progress(ctx, nodes+1, b.MaxNodes)
	}

	if !best.found {
		rep.LeaveScope(ctx, ErrNoExpression)
		return Result{Evaluations: evaluations}, ErrNoExpression
	}
	res := best.result(evaluations)
	if err := validate(&res, b.Validation, rng); err != nil {
		return fail(err)
	}
	if res.HasValidation {
		rep.Result(ctx, report.Validation, res.Validation)
	}
	rep.Result(ctx, report.Evaluations, evaluations)
	rep.LeaveScope(ctx, res.Score)
	return res, nil
}
