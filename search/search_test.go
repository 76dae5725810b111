package search_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/sw965/banditformula/bandit"
	"github.com/sw965/banditformula/builder"
	"github.com/sw965/banditformula/expr"
	"github.com/sw965/banditformula/fingerprint"
	"github.com/sw965/banditformula/search"
)

func compactFactory(t *testing.T, cfg builder.Config) builder.Factory {
	t.Helper()
	if _, err := builder.NewCompact(cfg); err != nil {
		t.Fatal(err)
	}
	return func() builder.State {
		s, _ := builder.NewCompact(cfg)
		return s
	}
}

// targetScore rewards expressions computing 6 on (2, 3).
func targetScore(e *expr.Node, _ *rand.Rand) (float64, error) {
	d := e.Compute([]float64{2, 3}) - 6
	return -d * d, nil
}

func TestRecedingHorizonFindsVariable(t *testing.T) {
	cfg := builder.Config{
		NumVariables: 3,
		Constants:    []float64{1},
		UnaryOps:     []expr.UnaryOp{expr.Negate},
		BinaryOps:    []expr.BinaryOp{expr.Add},
		MaxSize:      5,
	}
	score := func(e *expr.Node, _ *rand.Rand) (float64, error) {
		if e.String() == "V(0)" {
			return 1, nil
		}
		return -float64(e.Size()), nil
	}
	rh := search.RecedingHorizon{NewState: compactFactory(t, cfg), Score: score, Depth: 2, MaxIterations: 5}
	res, err := rh.Run(context.Background(), rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Best.String() != "V(0)" || res.Score != 1 || res.Size != 1 {
		t.Errorf("best = %v (%v)", res.Best, res.Score)
	}
	if len(res.Path) != 1 || res.Path[0] != (builder.Action{Kind: builder.VariableAction, Index: 0}) {
		t.Errorf("path = %v", res.Path)
	}
	if res.Evaluations == 0 {
		t.Errorf("no evaluation counted")
	}
}

func TestRecedingHorizonOnFlat(t *testing.T) {
	cfg := builder.Config{
		NumVariables: 2,
		BinaryOps:    []expr.BinaryOp{expr.Add, expr.Multiply},
		MaxSize:      5,
	}
	newState := func() builder.State {
		s, _ := builder.NewFlat(cfg)
		return s
	}
	validation := func(*expr.Node, *rand.Rand) (float64, error) { return 42, nil }
	rh := search.RecedingHorizon{NewState: newState, Score: targetScore, Validation: validation, Depth: 3, MaxIterations: 4}
	res, err := rh.Run(context.Background(), rand.New(rand.NewPCG(2, 2)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 0 || res.Best.Compute([]float64{2, 3}) != 6 {
		t.Errorf("best = %v (%v)", res.Best, res.Score)
	}
	if !res.HasValidation || res.Validation != 42 {
		t.Errorf("validation = %v %v", res.Validation, res.HasValidation)
	}
}

func TestRecedingHorizonErrors(t *testing.T) {
	cfg := builder.Config{NumVariables: 1, MaxSize: 1}
	failing := func(*expr.Node, *rand.Rand) (float64, error) { return 0, errors.New("boom") }
	rh := search.RecedingHorizon{NewState: compactFactory(t, cfg), Score: failing, Depth: 1}
	if _, err := rh.Run(context.Background(), rand.New(rand.NewPCG(3, 3))); err == nil {
		t.Errorf("score errors must abort the search")
	}
	rh.Depth = 0
	if _, err := rh.Run(context.Background(), rand.New(rand.NewPCG(3, 3))); err == nil {
		t.Errorf("Depth 0 must be rejected")
	}
}

func TestBreadthFirst(t *testing.T) {
	cfg := builder.Config{
		NumVariables: 2,
		BinaryOps:    []expr.BinaryOp{expr.Add, expr.Multiply},
		MaxSize:      3,
	}
	bf := search.BreadthFirst{NewState: compactFactory(t, cfg), Score: targetScore, MaxNodes: 100}
	res, err := bf.Run(context.Background(), rand.New(rand.NewPCG(4, 4)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 0 || res.Size != 3 || res.Best.Compute([]float64{2, 3}) != 6 {
		t.Errorf("best = %v (%v)", res.Best, res.Score)
	}
	// V0, V1 and the eight binary trees
	if res.Evaluations != 10 {
		t.Errorf("evaluations = %d", res.Evaluations)
	}

	bf.MaxNodes = 3
	res, err = bf.Run(context.Background(), rand.New(rand.NewPCG(4, 4)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Best.String() != "V(1)" || res.Evaluations != 2 {
		t.Errorf("budget 3: best = %v, evaluations = %d", res.Best, res.Evaluations)
	}

	bf.MaxNodes = 1
	if _, err := bf.Run(context.Background(), rand.New(rand.NewPCG(4, 4))); !errors.Is(err, search.ErrNoExpression) {
		t.Errorf("root only: %v", err)
	}
}

func TestBreadthFirstBestFirst(t *testing.T) {
	cfg := builder.Config{
		NumVariables: 2,
		BinaryOps:    []expr.BinaryOp{expr.Add, expr.Multiply},
		MaxSize:      3,
	}
	bf := search.BreadthFirst{NewState: compactFactory(t, cfg), Score: targetScore, MaxNodes: 100, Heuristic: search.BestFirst}
	res, err := bf.Run(context.Background(), rand.New(rand.NewPCG(5, 5)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 0 {
		t.Errorf("best = %v (%v)", res.Best, res.Score)
	}
}

func TestEnumerate(t *testing.T) {
	cfg := builder.Config{
		NumVariables: 1,
		UnaryOps:     []expr.UnaryOp{expr.Negate},
		BinaryOps:    []expr.BinaryOp{expr.Add},
		MaxSize:      3,
	}
	s, err := builder.NewCompact(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	err = search.Enumerate(context.Background(), s, 0, func(e *expr.Node) error {
		got = append(got, e.String())
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("enumerated %v", got)
	}
	if s.Depth() != 0 {
		t.Errorf("state not restored: depth %d", s.Depth())
	}
}

func TestEnumerateFlatAtDepthBound(t *testing.T) {
	cfg := builder.Config{
		NumVariables: 2,
		BinaryOps:    []expr.BinaryOp{expr.Add, expr.Subtract},
		MaxSize:      3,
	}
	s, err := builder.NewFlat(cfg)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	err = search.Enumerate(context.Background(), s, 3, func(e *expr.Node) error {
		if e.Size() > 3 {
			t.Errorf("%v exceeds the size bound", e)
		}
		seen[e.String()] = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"B(add,V(1),V(0))", "B(subtract,V(0),V(1))", "B(subtract,V(1),V(0))"} {
		if !seen[want] {
			t.Errorf("%s not enumerated: %v", want, seen)
		}
	}
	if s.Depth() != 0 {
		t.Errorf("state not restored: depth %d", s.Depth())
	}
}

func TestDiscovery(t *testing.T) {
	cfg := builder.Config{
		NumVariables: bandit.NumVariables,
		Constants:    []float64{1},
		BinaryOps:    []expr.BinaryOp{expr.Add, expr.Divide},
		MaxSize:      3,
	}
	newState := func() builder.State {
		s, _ := builder.NewRPN(cfg)
		return s
	}
	rng := rand.New(rand.NewPCG(6, 6))
	d := search.Discovery{
		NewState: newState,
		Battery:  bandit.NewBattery(50, 2, rng),
		Mode:     fingerprint.RankMode,
		Objective: &bandit.Objective{
			Sampler: bandit.NewSampler(bandit.Setup0Sampler),
			Horizon: 20,
			Trials:  1,
		},
		Iterations: 2,
		Top:        3,
	}
	res, err := d.Run(context.Background(), rng)
	if err != nil {
		t.Fatal(err)
	}
	// 5 leaves plus 2*5*5 binary trees
	if res.Enumerated != 55 {
		t.Errorf("enumerated = %d", res.Enumerated)
	}
	if len(res.Formulas) == 0 || len(res.Formulas) >= res.Enumerated {
		t.Errorf("unique = %d of %d", len(res.Formulas), res.Enumerated)
	}
	if len(res.Reports) != 2 || len(res.Best) != 3 {
		t.Errorf("reports = %d, best = %d", len(res.Reports), len(res.Best))
	}
}

func TestMCTSExhaustsSmallSpace(t *testing.T) {
	cfg := builder.Config{
		NumVariables: 2,
		BinaryOps:    []expr.BinaryOp{expr.Add, expr.Multiply},
		MaxSize:      3,
	}
	m := search.MCTS{NewState: compactFactory(t, cfg), Score: targetScore, Simulations: 1000}
	res, err := m.Run(context.Background(), rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 0 || res.Best.Compute([]float64{2, 3}) != 6 {
		t.Errorf("best = %v (%v)", res.Best, res.Score)
	}
	// the tree below the root has 16 nodes; each simulation adds one
	if res.Evaluations == 0 || res.Evaluations > 16 {
		t.Errorf("evaluations = %d", res.Evaluations)
	}
	replayed, _ := builder.NewCompact(cfg)
	if err := builder.Replay(replayed, res.Path); err != nil {
		t.Fatal(err)
	}
	if e, ok := replayed.Expression(); !ok || !expr.Equal(e, res.Best) {
		t.Errorf("path %v does not rebuild %v", res.Path, res.Best)
	}
}

func TestMCTSOnRPN(t *testing.T) {
	cfg := builder.Config{
		NumVariables: 2,
		Constants:    []float64{1},
		BinaryOps:    []expr.BinaryOp{expr.Add, expr.Multiply},
		MaxSize:      5,
	}
	newState := func() builder.State {
		s, _ := builder.NewRPN(cfg)
		return s
	}
	validation := func(*expr.Node, *rand.Rand) (float64, error) { return 42, nil }
	m := search.MCTS{NewState: newState, Score: targetScore, Validation: validation, Simulations: 300}
	res, err := m.Run(context.Background(), rand.New(rand.NewPCG(8, 8)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Evaluations == 0 || res.Evaluations > 300 {
		t.Errorf("evaluations = %d", res.Evaluations)
	}
	if res.Size > 5 {
		t.Errorf("size %d exceeds the builder bound", res.Size)
	}
	if !res.HasValidation || res.Validation != 42 {
		t.Errorf("validation = %v %v", res.Validation, res.HasValidation)
	}
}

func TestMCTSErrors(t *testing.T) {
	cfg := builder.Config{NumVariables: 1, MaxSize: 1}
	m := search.MCTS{NewState: compactFactory(t, cfg), Score: targetScore}
	if _, err := m.Run(context.Background(), rand.New(rand.NewPCG(9, 9))); err == nil {
		t.Errorf("Simulations 0 must be rejected")
	}

	m.Simulations = 10
	m.Score = func(*expr.Node, *rand.Rand) (float64, error) { return 0, errors.New("boom") }
	if _, err := m.Run(context.Background(), rand.New(rand.NewPCG(9, 9))); err == nil {
		t.Errorf("score errors must abort the search")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Score = targetScore
	if _, err := m.Run(ctx, rand.New(rand.NewPCG(9, 9))); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled context: %v", err)
	}
}
