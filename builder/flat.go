package builder

import (
	"fmt"
	"strings"

	"github.com/sw965/banditformula/expr"
)

// Flat builds expressions bottom-up. It keeps the list of sub-expressions
// built so far; an action appends a constant, an unused variable (each
// variable at most once), the last sub-expression under a unary operator,
// or a binary combination of the last sub-expression with any other.
// Flat never terminates by itself: the search driver decides when to stop,
// and the current expression is the last sub-expression.
type Flat struct {
	cfg     Config
	exprs   []*expr.Node
	used    []bool
	history []Action
}

func NewFlat(cfg Config) (*Flat, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Flat{cfg: cfg, used: make([]bool, cfg.NumVariables)}, nil
}

func (f *Flat) fits(size int) bool {
	return f.cfg.MaxSize == 0 || size <= f.cfg.MaxSize
}

func (f *Flat) Actions() []Action {
	var as []Action
	for i, used := range f.used {
		if !used {
			as = append(as, Action{Kind: VariableAction, Index: i})
		}
	}
	for _, a := range f.cfg.leafActions() {
		if a.Kind == ConstantAction {
			as = append(as, a)
		}
	}

	last := len(f.exprs) - 1
	if last < 0 {
		return as
	}
	lastSize := f.exprs[last].Size()
	if f.fits(lastSize + 1) {
		for _, op := range f.cfg.UnaryOps {
			as = append(as, Action{Kind: UnaryAction, UnaryOp: op, Left: last})
		}
	}
	for _, op := range f.cfg.BinaryOps {
		for k := 0; k <= last; k++ {
			if f.fits(lastSize + f.exprs[k].Size() + 1) {
				as = append(as, Action{Kind: BinaryAction, BinaryOp: op, Left: last, Right: k})
			}
		}
		if op.Commutative() {
			continue
		}
		for k := 0; k < last; k++ {
			if f.fits(lastSize + f.exprs[k].Size() + 1) {
				as = append(as, Action{Kind: BinaryAction, BinaryOp: op, Left: k, Right: last})
			}
		}
	}
	return as
}

func (f *Flat) Apply(a Action) error {
	if !contains(f.Actions(), a) {
		return fmt.Errorf("%w: %v", ErrIllegalAction, a)
	}
	var n *expr.Node
	switch a.Kind {
	case VariableAction:
		n, _ = a.leaf()
		f.used[a.Index] = true
	case ConstantAction:
		n, _ = a.leaf()
	case UnaryAction:
		n = expr.Unary(a.UnaryOp, f.exprs[a.Left])
	case BinaryAction:
		n = expr.Binary(a.BinaryOp, f.exprs[a.Left], f.exprs[a.Right])
	default:
		panic(fmt.Sprintf("BUG: Flatに不正なActionKind: %d", int(a.Kind)))
	}
	f.exprs = append(f.exprs, n)
	f.history = append(f.history, a)
	return nil
}

func (f *Flat) Undo() error {
	if len(f.history) == 0 {
		return ErrNothingToUndo
	}
	a := f.history[len(f.history)-1]
	f.history = f.history[:len(f.history)-1]
	f.exprs = f.exprs[:len(f.exprs)-1]
	if a.Kind == VariableAction {
		f.used[a.Index] = false
	}
	return nil
}

func (f *Flat) IsTerminal() bool {
	return false
}

// Expression returns a copy of the last sub-expression.
func (f *Flat) Expression() (*expr.Node, bool) {
	if len(f.exprs) == 0 {
		return nil, false
	}
	return f.exprs[len(f.exprs)-1].Clone(), true
}

func (f *Flat) Depth() int {
	return len(f.history)
}

// Description lists the applied actions as "a -> b -> c".
func (f *Flat) Description() string {
	parts := make([]string, len(f.history))
	for i, a := range f.history {
		switch a.Kind {
		case UnaryAction:
			parts[i] = fmt.Sprintf("%s(%d)", a, a.Left)
		case BinaryAction:
			parts[i] = fmt.Sprintf("%s(%d,%d)", a, a.Left, a.Right)
		default:
			parts[i] = a.String()
		}
	}
	return strings.Join(parts, " -> ")
}

// Used reports whether variable i already appears in some sub-expression.
func (f *Flat) Used(i int) bool {
	return f.used[i]
}
