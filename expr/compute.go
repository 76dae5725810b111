package expr

import (
	"cmp"
	"fmt"

	"github.com/sw965/omw/mathx"
)

// IsValid reports whether v is a usable evaluation result (neither NaN nor ±Inf).
func IsValid(v float64) bool {
	return !mathx.IsNaN(v) && !mathx.IsInf(v, 0)
}

// Compute evaluates n on inputs. Once an operand is invalid the remaining
// operands are not evaluated and the invalid value is returned unchanged.
// n must satisfy Validate; a missing child or an out-of-range variable panics.
func (n *Node) Compute(inputs []float64) float64 {
	switch n.Kind {
	case ConstantKind:
		return n.Value
	case VariableKind:
		if n.Index < 0 || n.Index >= len(inputs) {
			panic(fmt.Sprintf("BUG: %v: variable index=%d inputs=%d", ErrInvalidExpression, n.Index, len(inputs)))
		}
		return inputs[n.Index]
	case UnaryKind:
		if n.Left == nil {
			panic(fmt.Sprintf("BUG: %v", ErrInvalidExpression))
		}
		x := n.Left.Compute(inputs)
		if !IsValid(x) {
			return x
		}
		return n.UnaryOp.Apply(x)
	case BinaryKind:
		if n.Left == nil || n.Right == nil {
			panic(fmt.Sprintf("BUG: %v", ErrInvalidExpression))
		}
		a := n.Left.Compute(inputs)
		if !IsValid(a) {
			return a
		}
		b := n.Right.Compute(inputs)
		if !IsValid(b) {
			return b
		}
		return n.BinaryOp.Apply(a, b)
	}
	panic(fmt.Sprintf("BUG: 未知のKind: %v", n.Kind))
}

// Eval validates n before computing it.
func (n *Node) Eval(inputs []float64) (float64, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	maxIndex := -1
	n.Walk(func(m *Node) {
		if m.Kind == VariableKind {
			maxIndex = max(maxIndex, m.Index)
		}
	})
	if maxIndex >= len(inputs) {
		return 0, fmt.Errorf("%w: variable index=%d inputs=%d", ErrInvalidExpression, maxIndex, len(inputs))
	}
	return n.Compute(inputs), nil
}

// Compare orders expressions: constant < variable < unary < binary, then by
// the kind's fields (value and learnable flag, index, operator, children).
func Compare(a, b *Node) int {
	if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
		return c
	}
	switch a.Kind {
	case ConstantKind:
		if c := cmp.Compare(a.Value, b.Value); c != 0 {
			return c
		}
		switch {
		case a.Learnable == b.Learnable:
			return 0
		case !a.Learnable:
			return -1
		default:
			return 1
		}
	case VariableKind:
		return cmp.Compare(a.Index, b.Index)
	case UnaryKind:
		if c := cmp.Compare(a.UnaryOp, b.UnaryOp); c != 0 {
			return c
		}
		return Compare(a.Left, b.Left)
	case BinaryKind:
		if c := cmp.Compare(a.BinaryOp, b.BinaryOp); c != 0 {
			return c
		}
		if c := Compare(a.Left, b.Left); c != 0 {
			return c
		}
		return Compare(a.Right, b.Right)
	}
	panic(fmt.Sprintf("BUG: 未知のKind: %v", a.Kind))
}

func Equal(a, b *Node) bool {
	return Compare(a, b) == 0
}
