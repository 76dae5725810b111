// Package expr provides the expression trees searched by the formula discovery engine.
// A Node is a closed variant over four kinds (constant, variable, unary, binary);
// every switch over Kind is exhaustive and unknown kinds are treated as bugs.
//
// Package expr は探索対象となる数式木を提供します。
package expr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidExpression = errors.New("不正な数式: 必要な子ノードが存在しません")
	ErrUnknownOperator   = errors.New("未知の演算子")
)

type Kind int

const (
	ConstantKind Kind = iota
	VariableKind
	UnaryKind
	BinaryKind
)

func (k Kind) String() string {
	switch k {
	case ConstantKind:
		return "constant"
	case VariableKind:
		return "variable"
	case UnaryKind:
		return "unary"
	case BinaryKind:
		return "binary"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Node は数式木のノード。Kind によって意味を持つフィールドが決まる。
// Unary の子は Left に格納する。
type Node struct {
	Kind      Kind
	Value     float64
	Learnable bool
	Index     int
	UnaryOp   UnaryOp
	BinaryOp  BinaryOp
	Left      *Node
	Right     *Node
}

func Constant(v float64) *Node {
	return &Node{Kind: ConstantKind, Value: v}
}

func LearnableConstant(v float64) *Node {
	return &Node{Kind: ConstantKind, Value: v, Learnable: true}
}

func Variable(index int) *Node {
	return &Node{Kind: VariableKind, Index: index}
}

func Unary(op UnaryOp, child *Node) *Node {
	return &Node{Kind: UnaryKind, UnaryOp: op, Left: child}
}

func Binary(op BinaryOp, left, right *Node) *Node {
	return &Node{Kind: BinaryKind, BinaryOp: op, Left: left, Right: right}
}

func (n *Node) IsConstant() bool {
	return n.Kind == ConstantKind
}

func (n *Node) IsConstantValue(v float64) bool {
	return n.Kind == ConstantKind && n.Value == v
}

// Validate checks that every composite node has its children and every
// variable index is non-negative.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidExpression)
	}
	switch n.Kind {
	case ConstantKind:
		return nil
	case VariableKind:
		if n.Index < 0 {
			return fmt.Errorf("%w: variable index=%d", ErrInvalidExpression, n.Index)
		}
		return nil
	case UnaryKind:
		if n.Left == nil {
			return fmt.Errorf("%w: unary %s", ErrInvalidExpression, n.UnaryOp)
		}
		return n.Left.Validate()
	case BinaryKind:
		if n.Left == nil || n.Right == nil {
			return fmt.Errorf("%w: binary %s", ErrInvalidExpression, n.BinaryOp)
		}
		if err := n.Left.Validate(); err != nil {
			return err
		}
		return n.Right.Validate()
	}
	return fmt.Errorf("%w: kind=%v", ErrInvalidExpression, n.Kind)
}

func (n *Node) Size() int {
	switch n.Kind {
	case ConstantKind, VariableKind:
		return 1
	case UnaryKind:
		return 1 + n.Left.Size()
	case BinaryKind:
		return 1 + n.Left.Size() + n.Right.Size()
	}
	panic(fmt.Sprintf("BUG: 未知のKind: %v", n.Kind))
}

func (n *Node) Depth() int {
	switch n.Kind {
	case ConstantKind, VariableKind:
		return 1
	case UnaryKind:
		return 1 + n.Left.Depth()
	case BinaryKind:
		return 1 + max(n.Left.Depth(), n.Right.Depth())
	}
	panic(fmt.Sprintf("BUG: 未知のKind: %v", n.Kind))
}

// VariableUseCounts returns how many times each variable index appears.
// The result has at least numVariables entries.
func (n *Node) VariableUseCounts(numVariables int) []int {
	counts := make([]int, numVariables)
	n.Walk(func(m *Node) {
		if m.Kind != VariableKind {
			return
		}
		for m.Index >= len(counts) {
			counts = append(counts, 0)
		}
		counts[m.Index]++
	})
	return counts
}

// Walk visits n and its descendants in pre-order.
func (n *Node) Walk(f func(*Node)) {
	f(n)
	switch n.Kind {
	case UnaryKind:
		n.Left.Walk(f)
	case BinaryKind:
		n.Left.Walk(f)
		n.Right.Walk(f)
	}
}

// LearnableConstants returns the learnable constant nodes of n in pre-order.
// The returned pointers alias n.
func (n *Node) LearnableConstants() []*Node {
	var cs []*Node
	n.Walk(func(m *Node) {
		if m.Kind == ConstantKind && m.Learnable {
			cs = append(cs, m)
		}
	})
	return cs
}

func (n *Node) Clone() *Node {
	c := *n
	if n.Left != nil {
		c.Left = n.Left.Clone()
	}
	if n.Right != nil {
		c.Right = n.Right.Clone()
	}
	return &c
}
