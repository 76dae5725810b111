// Package builder provides state machines that grow expressions one action
// at a time. Every state supports an exact Undo of its last Apply, so a
// depth-first search can share one mutable state.
//
// Package builder は数式を1手ずつ組み立てる状態機械を提供します。
// Apply と Undo は対になっており、Undo は直前の状態を完全に復元します。
package builder

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/sw965/banditformula/expr"
	"github.com/sw965/omw/mathx/randx"
)

var (
	ErrIllegalAction = errors.New("不正な行動")
	ErrNothingToUndo = errors.New("元に戻す行動がありません")
	ErrTerminal      = errors.New("終端状態です")
)

type ActionKind int

const (
	VariableAction ActionKind = iota
	ConstantAction
	UnaryAction
	BinaryAction
	FinalizeAction
)

// Action is a closed variant; which fields are meaningful depends on Kind.
// Left and Right are operand positions for Flat states.
type Action struct {
	Kind      ActionKind
	Index     int
	Value     float64
	Learnable bool
	UnaryOp   expr.UnaryOp
	BinaryOp  expr.BinaryOp
	Left      int
	Right     int
}

func (a Action) String() string {
	switch a.Kind {
	case VariableAction:
		return "V" + strconv.Itoa(a.Index)
	case ConstantAction:
		s := strconv.FormatFloat(a.Value, 'g', -1, 64)
		if a.Learnable {
			s += "!"
		}
		return s
	case UnaryAction:
		return a.UnaryOp.String()
	case BinaryAction:
		return a.BinaryOp.String()
	case FinalizeAction:
		return "finalize"
	}
	return fmt.Sprintf("Action(%d)", int(a.Kind))
}

func (a Action) leaf() (*expr.Node, bool) {
	switch a.Kind {
	case VariableAction:
		return expr.Variable(a.Index), true
	case ConstantAction:
		return &expr.Node{Kind: expr.ConstantKind, Value: a.Value, Learnable: a.Learnable}, true
	}
	return nil, false
}

// State is implemented by *Compact, *Flat and *RPN.
type State interface {
	Actions() []Action
	Apply(a Action) error
	Undo() error
	IsTerminal() bool
	// Expression returns the expression the state currently describes.
	Expression() (*expr.Node, bool)
	// Description serializes the state; Undo restores it exactly.
	Description() string
	// Depth is the number of actions applied since the initial state.
	Depth() int
}

type Factory func() State

// Config lists the symbols offered by a builder.
type Config struct {
	NumVariables int
	Constants    []float64
	// LearnableConstant adds an action creating C(1!) for later tuning.
	LearnableConstant bool
	UnaryOps          []expr.UnaryOp
	BinaryOps         []expr.BinaryOp
	// MaxSize bounds the number of nodes of the built expression. Zero means
	// unbounded, except for RPN which requires it.
	MaxSize int
}

func (c Config) Validate() error {
	if c.NumVariables < 0 {
		return fmt.Errorf("NumVariablesが不正: %d", c.NumVariables)
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("MaxSizeが不正: %d", c.MaxSize)
	}
	if c.NumVariables == 0 && len(c.Constants) == 0 && !c.LearnableConstant {
		return errors.New("葉となる記号がありません")
	}
	return nil
}

// RPNConstants are the constants offered by default to the RPN builder.
var RPNConstants = []float64{1, 2, 3, 5, 7}

func (c Config) leafActions() []Action {
	as := make([]Action, 0, c.NumVariables+len(c.Constants)+1)
	for i := 0; i < c.NumVariables; i++ {
		as = append(as, Action{Kind: VariableAction, Index: i})
	}
	for _, v := range c.Constants {
		as = append(as, Action{Kind: ConstantAction, Value: v})
	}
	if c.LearnableConstant {
		as = append(as, Action{Kind: ConstantAction, Value: 1, Learnable: true})
	}
	return as
}

// Random applies uniformly chosen actions until the state is terminal, has
// no action left, or maxSteps actions were applied. It returns the final
// expression, if any.
func Random(s State, maxSteps int, rng *rand.Rand) (*expr.Node, bool, error) {
	for step := 0; step < maxSteps && !s.IsTerminal(); step++ {
		actions := s.Actions()
		if len(actions) == 0 {
			break
		}
		a, err := randx.Choice(actions, rng)
		if err != nil {
			return nil, false, err
		}
		if err := s.Apply(a); err != nil {
			return nil, false, err
		}
	}
	e, ok := s.Expression()
	return e, ok, nil
}

func Replay(s State, path []Action) error {
	for i, a := range path {
		if err := s.Apply(a); err != nil {
			return fmt.Errorf("step %d (%v): %w", i, a, err)
		}
	}
	return nil
}

func contains(as []Action, a Action) bool {
	for _, b := range as {
		if b == a {
			return true
		}
	}
	return false
}
