package search

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/sw965/omw/mathx/randx"

	"github.com/sw965/banditformula/builder"
	"github.com/sw965/banditformula/report"
)

// DefaultRolloutSteps bounds a playout when MCTS.MaxRolloutSteps is zero.
const DefaultRolloutSteps = 64

type mctsNode struct {
	actions  []builder.Action
	children []*mctsNode
	visits   int
	// scored counts the playouts that reached a valid score.
	scored    int
	total     float64
	exhausted bool
}

func newMCTSNode(s builder.State) *mctsNode {
	as := s.Actions()
	return &mctsNode{actions: as, children: make([]*mctsNode, len(as)), exhausted: len(as) == 0}
}

func (n *mctsNode) untried() []int {
	var idxs []int
	for i, c := range n.children {
		if c == nil {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func (n *mctsNode) updateExhausted() {
	for _, c := range n.children {
		if c == nil || !c.exhausted {
			return
		}
	}
	n.exhausted = true
}

// bounds are the lowest and highest valid scores seen so far. Node values
// are normalized into [0, 1] with them; failed playouts count as 0.
type bounds struct {
	ok     bool
	lo, hi float64
}

func (b *bounds) observe(s float64) {
	if !b.ok {
		*b = bounds{ok: true, lo: s, hi: s}
		return
	}
	b.lo = min(b.lo, s)
	b.hi = max(b.hi, s)
}

func (b *bounds) value(n *mctsNode) float64 {
	if n.scored == 0 {
		return 0
	}
	q := 0.5
	if b.hi > b.lo {
		q = (n.total/float64(n.scored) - b.lo) / (b.hi - b.lo)
	}
	return q * float64(n.scored) / float64(n.visits)
}

// MCTS runs UCT over builder states: it descends the tree by the UCB1
// index, expands one untried action, completes the expression with a
// uniformly random playout and backs the score up the visited path.
// Subtrees that are fully explored are no longer visited, so the search
// ends early on small spaces.
type MCTS struct {
	NewState    builder.Factory
	Score       ScoreFunc
	Validation  ScoreFunc
	Simulations int
	// MaxRolloutSteps bounds the actions applied by one playout. Zero means
	// DefaultRolloutSteps.
	MaxRolloutSteps int
	// C is the exploration constant. Zero means √2.
	C        float64
	Reporter report.Reporter
}

func (m *MCTS) Validate() error {
	if err := checkCommon(m.NewState, m.Score); err != nil {
		return err
	}
	if m.Simulations < 1 {
		return fmt.Errorf("Simulationsは1以上である必要があります: %d", m.Simulations)
	}
	if m.MaxRolloutSteps < 0 {
		return fmt.Errorf("MaxRolloutStepsが不正: %d", m.MaxRolloutSteps)
	}
	if m.C < 0 {
		return fmt.Errorf("Cが不正: %v", m.C)
	}
	return nil
}

type uct struct {
	ctx      context.Context
	state    builder.State
	score    ScoreFunc
	c        float64
	maxSteps int
	rng      *rand.Rand
	bounds   bounds
	best     candidate
	rep      report.Reporter

	evaluations int
}

func (u *uct) selectChild(n *mctsNode) (int, error) {
	logTotal := math.Log(1 + float64(n.visits))
	bestValue := math.Inf(-1)
	var bestIdxs []int
	for i, child := range n.children {
		if child.exhausted {
			continue
		}
		v := math.Inf(1)
		if child.visits > 0 {
			v = u.bounds.value(child) + u.c*math.Sqrt(logTotal/float64(1+child.visits))
		}
		if v > bestValue {
			bestValue = v
			bestIdxs = bestIdxs[:0]
		}
		if v == bestValue {
			bestIdxs = append(bestIdxs, i)
		}
	}
	return randx.Choice(bestIdxs, u.rng)
}

// simulate runs one selection, expansion, playout and backup from root.
// The state is back at the root depth when simulate returns.
func (u *uct) simulate(root *mctsNode) (err error) {
	rootDepth := u.state.Depth()
	defer func() {
		for err == nil && u.state.Depth() > rootDepth {
			err = u.state.Undo()
		}
	}()

	visited := []*mctsNode{root}
	var path []builder.Action
	node := root
	for !node.exhausted {
		var idx int
		var err error
		if untried := node.untried(); len(untried) > 0 {
			idx, err = randx.Choice(untried, u.rng)
		} else {
			idx, err = u.selectChild(node)
		}
		if err != nil {
			return err
		}
		a := node.actions[idx]
		if err := u.state.Apply(a); err != nil {
			return err
		}
		path = append(path, a)

		expanded := node.children[idx] == nil
		if expanded {
			node.children[idx] = newMCTSNode(u.state)
		}
		node = node.children[idx]
		visited = append(visited, node)
		if expanded {
			break
		}
	}

	for step := 0; step < u.maxSteps && !u.state.IsTerminal(); step++ {
		actions := u.state.Actions()
		if len(actions) == 0 {
			break
		}
		a, err := randx.Choice(actions, u.rng)
		if err != nil {
			return err
		}
		if err := u.state.Apply(a); err != nil {
			return err
		}
		path = append(path, a)
	}

	var s float64
	valid := false
	if e, ok := u.state.Expression(); ok {
		var err error
		s, err = score(u.score, e, u.rng)
		if err != nil {
			return err
		}
		u.evaluations++
		if s != WorstScore {
			valid = true
			u.bounds.observe(s)
			if u.best.offer(e, s, path) {
				u.rep.Result(u.ctx, report.BestFormula, e.String())
				u.rep.Result(u.ctx, report.BestScore, s)
			}
		}
	}

	for i := len(visited) - 1; i >= 0; i-- {
		n := visited[i]
		n.visits++
		if valid {
			n.scored++
			n.total += s
		}
		if !n.exhausted && len(n.actions) > 0 {
			n.updateExhausted()
		}
	}
	return nil
}

func (m *MCTS) Run(ctx context.Context, rng *rand.Rand) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}
	rep := report.OrNop(m.Reporter)
	ctx = rep.EnterScope(ctx, "mcts")

	fail := func(err error) (Result, error) {
		rep.LeaveScope(ctx, err)
		return Result{}, err
	}

	u := &uct{
		ctx:      ctx,
		state:    m.NewState(),
		score:    m.Score,
		c:        m.C,
		maxSteps: m.MaxRolloutSteps,
		rng:      rng,
		rep:      rep,
	}
	if u.c == 0 {
		u.c = math.Sqrt2
	}
	if u.maxSteps == 0 {
		u.maxSteps = DefaultRolloutSteps
	}

	root := newMCTSNode(u.state)
	for sim := 0; sim < m.Simulations && !root.exhausted; sim++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := u.simulate(root); err != nil {
			return fail(err)
		}
		rep.Progress(ctx, sim+1, m.Simulations)
	}

	if !u.best.found {
		rep.LeaveScope(ctx, ErrNoExpression)
		return Result{Evaluations: u.evaluations}, ErrNoExpression
	}
	res := u.best.result(u.evaluations)
	if err := validate(&res, m.Validation, rng); err != nil {
		return fail(err)
	}
	if res.HasValidation {
		rep.Result(ctx, report.Validation, res.Validation)
	}
	rep.Result(ctx, report.Evaluations, u.evaluations)
	rep.LeaveScope(ctx, res.Score)
	return res, nil
}
