package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sw965/banditformula/expr"
)

type rpnStep struct {
	action Action
	popped []*expr.Node
}

// RPN builds expressions as a reverse-polish token sequence of at most
// MaxSize tokens. Leaves push, operators pop their operands and push the
// result. Actions that could no longer collapse the stack to a single
// expression within MaxSize are not offered. Finalize is offered when the
// stack holds exactly one expression and ends the construction.
type RPN struct {
	cfg       Config
	stack     []*expr.Node
	tokens    int
	finalized bool
	history   []rpnStep
}

func NewRPN(cfg Config) (*RPN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSize < 1 {
		return nil, errors.New("RPNにはMaxSizeが必要です")
	}
	return &RPN{cfg: cfg}, nil
}

// canReach reports whether a stack of height h after tokens tokens can
// still be reduced to one expression within MaxSize.
func (r *RPN) canReach(tokens, h int) bool {
	return tokens+h-1 <= r.cfg.MaxSize
}

func (r *RPN) Actions() []Action {
	if r.finalized {
		return nil
	}
	h := len(r.stack)
	var as []Action
	if r.canReach(r.tokens+1, h+1) {
		as = append(as, r.cfg.leafActions()...)
	}
	if h >= 1 && r.canReach(r.tokens+1, h) {
		for _, op := range r.cfg.UnaryOps {
			as = append(as, Action{Kind: UnaryAction, UnaryOp: op})
		}
	}
	if h >= 2 && r.canReach(r.tokens+1, h-1) {
		for _, op := range r.cfg.BinaryOps {
			as = append(as, Action{Kind: BinaryAction, BinaryOp: op})
		}
	}
	if h == 1 {
		as = append(as, Action{Kind: FinalizeAction})
	}
	return as
}

func (r *RPN) Apply(a Action) error {
	if r.finalized {
		return ErrTerminal
	}
	if !contains(r.Actions(), a) {
		return fmt.Errorf("%w: %v", ErrIllegalAction, a)
	}

	step := rpnStep{action: a}
	h := len(r.stack)
	switch a.Kind {
	case VariableAction, ConstantAction:
		n, _ := a.leaf()
		r.stack = append(r.stack, n)
		r.tokens++
	case UnaryAction:
		child := r.stack[h-1]
		step.popped = []*expr.Node{child}
		r.stack[h-1] = expr.Unary(a.UnaryOp, child)
		r.tokens++
	case BinaryAction:
		left, right := r.stack[h-2], r.stack[h-1]
		step.popped = []*expr.Node{left, right}
		r.stack = append(r.stack[:h-2], expr.Binary(a.BinaryOp, left, right))
		r.tokens++
	case FinalizeAction:
		r.finalized = true
	default:
		panic(fmt.Sprintf("BUG: RPNに不正なActionKind: %d", int(a.Kind)))
	}
	r.history = append(r.history, step)
	return nil
}

func (r *RPN) Undo() error {
	if len(r.history) == 0 {
		return ErrNothingToUndo
	}
	step := r.history[len(r.history)-1]
	r.history = r.history[:len(r.history)-1]

	switch step.action.Kind {
	case FinalizeAction:
		r.finalized = false
		return nil
	case VariableAction, ConstantAction:
		r.stack = r.stack[:len(r.stack)-1]
	default:
		r.stack = append(r.stack[:len(r.stack)-1], step.popped...)
	}
	r.tokens--
	return nil
}

// IsTerminal is true once finalized or when no action is left.
func (r *RPN) IsTerminal() bool {
	return r.finalized || len(r.Actions()) == 0
}

func (r *RPN) Expression() (*expr.Node, bool) {
	if len(r.stack) != 1 {
		return nil, false
	}
	return r.stack[0].Clone(), true
}

func (r *RPN) Depth() int {
	return len(r.history)
}

// Description lists the tokens in order, followed by "|" once finalized.
func (r *RPN) Description() string {
	parts := make([]string, 0, len(r.history))
	for _, s := range r.history {
		if s.action.Kind == FinalizeAction {
			parts = append(parts, "|")
			continue
		}
		parts = append(parts, s.action.String())
	}
	return strings.Join(parts, " ")
}
