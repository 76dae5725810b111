// Package canonical rewrites expressions into a normal form so that
// algebraically equivalent formulas become structurally equal.
package canonical

import (
	"fmt"

	"github.com/sw965/banditformula/expr"
)

// Canonicalize returns the normal form of e as a new tree; e is not modified.
// Children are normalized first, then the rules below are applied at the
// node until none matches:
//
//	constant folding (learnable = OR of the operands)
//	identity(x) -> x,  negate(negate(x)) -> x,  invert(invert(x)) -> x
//	x/1 -> x,  1/x -> invert(x),  x/x -> 1,  x/invert(y) -> x*y
//	x*1 -> x,  1*x -> x,  invert(x)*y -> y/x,  x*invert(y) -> x/y
//	x-x -> 0
//	commutative operands ordered so that expr.Compare(left, right) <= 0
//
// The result is idempotent under Canonicalize.
func Canonicalize(e *expr.Node) *expr.Node {
	switch e.Kind {
	case expr.ConstantKind, expr.VariableKind:
		c := *e
		return &c
	case expr.UnaryKind:
		return normalize(expr.Unary(e.UnaryOp, Canonicalize(e.Left)))
	case expr.BinaryKind:
		return normalize(expr.Binary(e.BinaryOp, Canonicalize(e.Left), Canonicalize(e.Right)))
	}
	panic(fmt.Sprintf("BUG: 未知のKind: %v", e.Kind))
}

// Key is the textual form of the canonical expression, used as a cache key.
func Key(e *expr.Node) string {
	return Canonicalize(e).String()
}

// normalize assumes the children of n are already canonical.
func normalize(n *expr.Node) *expr.Node {
	for {
		r, ok := rewrite(n)
		if !ok {
			return n
		}
		n = r
	}
}

func rewrite(n *expr.Node) (*expr.Node, bool) {
	switch n.Kind {
	case expr.UnaryKind:
		return rewriteUnary(n)
	case expr.BinaryKind:
		return rewriteBinary(n)
	}
	return nil, false
}

func rewriteUnary(n *expr.Node) (*expr.Node, bool) {
	x := n.Left
	if x.IsConstant() {
		if v := n.UnaryOp.Apply(x.Value); expr.IsValid(v) {
			return &expr.Node{Kind: expr.ConstantKind, Value: v, Learnable: x.Learnable}, true
		}
	}
	switch n.UnaryOp {
	case expr.Identity:
		return x, true
	case expr.Negate, expr.Invert:
		if x.Kind == expr.UnaryKind && x.UnaryOp == n.UnaryOp {
			return x.Left, true
		}
	}
	return nil, false
}

func rewriteBinary(n *expr.Node) (*expr.Node, bool) {
	l, r := n.Left, n.Right
	if l.IsConstant() && r.IsConstant() {
		if v := n.BinaryOp.Apply(l.Value, r.Value); expr.IsValid(v) {
			return &expr.Node{Kind: expr.ConstantKind, Value: v, Learnable: l.Learnable || r.Learnable}, true
		}
	}

	switch n.BinaryOp {
	case expr.Divide:
		switch {
		case isOne(r):
			return l, true
		case isOne(l):
			return expr.Unary(expr.Invert, r), true
		case expr.Equal(l, r):
			return expr.Constant(1), true
		case isInvert(r):
			return expr.Binary(expr.Multiply, l, r.Left), true
		}
	case expr.Multiply:
		switch {
		case isOne(r):
			return l, true
		case isOne(l):
			return r, true
		case isInvert(l):
			return expr.Binary(expr.Divide, r, l.Left), true
		case isInvert(r):
			return expr.Binary(expr.Divide, l, r.Left), true
		}
	case expr.Subtract:
		if expr.Equal(l, r) {
			return expr.Constant(0), true
		}
	}

	if n.BinaryOp.Commutative() && expr.Compare(l, r) > 0 {
		return expr.Binary(n.BinaryOp, r, l), true
	}
	return nil, false
}

// isOne ignores learnable constants so that tunable parameters survive.
func isOne(n *expr.Node) bool {
	return n.IsConstantValue(1) && !n.Learnable
}

func isInvert(n *expr.Node) bool {
	return n.Kind == expr.UnaryKind && n.UnaryOp == expr.Invert
}
