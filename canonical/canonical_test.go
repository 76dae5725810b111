package canonical_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/sw965/banditformula/canonical"
	"github.com/sw965/banditformula/expr"
)

var (
	x = expr.Variable(0)
	y = expr.Variable(1)
)

func c(v float64) *expr.Node { return expr.Constant(v) }

func u(op expr.UnaryOp, e *expr.Node) *expr.Node { return expr.Unary(op, e) }

func b(op expr.BinaryOp, l, r *expr.Node) *expr.Node { return expr.Binary(op, l, r) }

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   *expr.Node
		want *expr.Node
	}{
		{"定数畳み込み", b(expr.Add, c(1), b(expr.Multiply, c(2), c(3))), c(7)},
		{"x/1", b(expr.Divide, x, c(1)), x},
		{"1/x", b(expr.Divide, c(1), x), u(expr.Invert, x)},
		{"x/x", b(expr.Divide, u(expr.Sqrt, x), u(expr.Sqrt, x)), c(1)},
		{"x*1", b(expr.Multiply, x, c(1)), x},
		{"1*x", b(expr.Multiply, c(1), x), x},
		{"二重の逆数", u(expr.Invert, u(expr.Invert, x)), x},
		{"二重の符号反転", u(expr.Negate, u(expr.Negate, x)), x},
		{"恒等", u(expr.Identity, x), x},
		{"x/invert(y)", b(expr.Divide, x, u(expr.Invert, y)), b(expr.Multiply, x, y)},
		{"invert(x)*y", b(expr.Multiply, u(expr.Invert, x), y), b(expr.Divide, y, x)},
		{"x*invert(y)", b(expr.Multiply, x, u(expr.Invert, y)), b(expr.Divide, x, y)},
		{"x-x", b(expr.Subtract, b(expr.Add, x, y), b(expr.Add, y, x)), c(0)},
		{"可換の並べ替え", b(expr.Add, y, x), b(expr.Add, x, y)},
		{"定数が左", b(expr.Multiply, x, c(3)), b(expr.Multiply, c(3), x)},
		{"減算は並べ替えない", b(expr.Subtract, y, x), b(expr.Subtract, y, x)},
		{"1/invert(x)", b(expr.Divide, c(1), u(expr.Invert, x)), x},
		{"学習可能な1は残す", b(expr.Multiply, expr.LearnableConstant(1), x), b(expr.Multiply, expr.LearnableConstant(1), x)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := canonical.Canonicalize(tc.in)
			if !expr.Equal(got, tc.want) {
				t.Errorf("Canonicalize(%s) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestCanonicalizePreservesValue(t *testing.T) {
	tests := []*expr.Node{
		b(expr.Divide, x, u(expr.Invert, y)),
		b(expr.Multiply, u(expr.Invert, x), y),
		b(expr.Add, b(expr.Multiply, y, c(2)), b(expr.Divide, x, c(1))),
		b(expr.Max, y, b(expr.Subtract, x, c(0.5))),
		u(expr.Sqrt, b(expr.Add, u(expr.Identity, y), b(expr.Pow, x, c(2)))),
	}
	inputs := [][]float64{{0.5, 2}, {3, 0.25}, {1.5, 7}, {0.1, 0.9}}
	for _, e := range tests {
		t.Run(e.String(), func(t *testing.T) {
			ce := canonical.Canonicalize(e)
			for _, in := range inputs {
				want, got := e.Compute(in), ce.Compute(in)
				if math.Abs(want-got) > 1e-12*math.Max(1, math.Abs(want)) {
					t.Errorf("inputs=%v: %s=%v, canonical %s=%v", in, e, want, ce, got)
				}
			}
		})
	}
}

// The invert rewrites hold away from zero divisors. At a zero divisor the
// protected operators disagree: invert(0)*0 is 0 but 0/0 is MaxFloat64.
func TestCanonicalizeInvertRewritesAtZero(t *testing.T) {
	tests := []struct {
		e        *expr.Node
		atZero   float64
		canonical float64
	}{
		{b(expr.Multiply, u(expr.Invert, x), y), 0, math.MaxFloat64},
		{b(expr.Multiply, y, u(expr.Invert, x)), 0, math.MaxFloat64},
		{b(expr.Divide, y, u(expr.Invert, x)), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.e.String(), func(t *testing.T) {
			ce := canonical.Canonicalize(tt.e)
			for _, in := range [][]float64{{2, 3}, {-0.5, 4}, {7, 0}} {
				if want, got := tt.e.Compute(in), ce.Compute(in); math.Abs(want-got) > 1e-12*math.Max(1, math.Abs(want)) {
					t.Errorf("inputs=%v: %v != %v", in, want, got)
				}
			}
			zero := []float64{0, 0}
			if got := tt.e.Compute(zero); got != tt.atZero {
				t.Errorf("original at zero = %v, want %v", got, tt.atZero)
			}
			if got := ce.Compute(zero); got != tt.canonical {
				t.Errorf("canonical %s at zero = %v, want %v", ce, got, tt.canonical)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	rng := rand.New(rand.NewPCG(10, 20))
	for i := 0; i < 2000; i++ {
		e := expr.RandomTree(rng, 6, 3)
		once := canonical.Canonicalize(e)
		twice := canonical.Canonicalize(once)
		if !expr.Equal(once, twice) {
			t.Fatalf("not idempotent: %s -> %s -> %s", e, once, twice)
		}
	}
}

func TestConstantFolding(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	checked := 0
	for i := 0; i < 2000; i++ {
		e := expr.RandomTree(rng, 5, 0)
		want := e.Compute(nil)
		if !expr.IsValid(want) {
			continue
		}
		got := canonical.Canonicalize(e)
		if got.Kind != expr.ConstantKind {
			t.Fatalf("%s canonicalized to a non-constant %s", e, got)
		}
		if got.Value != want {
			t.Fatalf("%s: folded %v, computed %v", e, got.Value, want)
		}
		checked++
	}
	if checked == 0 {
		t.Fatal("no valid constant expression generated")
	}
}

func TestDivideByInvertDedups(t *testing.T) {
	e1, err := expr.Parse("B(divide,V(0),U(invert,V(1)))", nil)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := expr.Parse("B(multiply,V(0),V(1))", nil)
	if err != nil {
		t.Fatal(err)
	}
	if canonical.Key(e1) != canonical.Key(e2) {
		t.Fatalf("%s != %s", canonical.Canonicalize(e1), canonical.Canonicalize(e2))
	}
	for _, in := range [][]float64{{1, 2}, {0.5, 4}, {3, 0.1}} {
		if a, b := e1.Compute(in), e2.Compute(in); math.Abs(a-b) > 1e-12 {
			t.Errorf("inputs=%v: %v != %v", in, a, b)
		}
	}
}

func TestCanonicalizeDoesNotModifyInput(t *testing.T) {
	e := b(expr.Add, y, x)
	before := e.String()
	canonical.Canonicalize(e)
	if e.String() != before {
		t.Errorf("input modified: %s -> %s", before, e)
	}
}
