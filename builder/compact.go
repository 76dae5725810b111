package builder

import (
	"fmt"
	"strings"

	"github.com/sw965/banditformula/expr"
)

type slot struct {
	parent *expr.Node
	right  bool
}

type compactStep struct {
	action Action
	slot   slot
	node   *expr.Node
	pushed int
}

// Compact builds an expression top-down: the root is filled first and every
// action fills the top empty slot, pushing one slot for a unary operator and
// two for a binary operator. The state is terminal once no slot is left.
type Compact struct {
	cfg     Config
	root    *expr.Node
	stack   []slot
	size    int
	history []compactStep
}

func NewCompact(cfg Config) (*Compact, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Compact{cfg: cfg, stack: []slot{{}}}, nil
}

// minSizeAfter is the smallest complete expression reachable after adding
// one node that opens the given number of slots in place of the top one.
func (c *Compact) minSizeAfter(opened int) int {
	return c.size + 1 + len(c.stack) - 1 + opened
}

func (c *Compact) allows(opened int) bool {
	return c.cfg.MaxSize == 0 || c.minSizeAfter(opened) <= c.cfg.MaxSize
}

func (c *Compact) Actions() []Action {
	if c.IsTerminal() {
		return nil
	}
	var as []Action
	if c.allows(0) {
		as = append(as, c.cfg.leafActions()...)
	}
	if c.allows(1) {
		for _, op := range c.cfg.UnaryOps {
			as = append(as, Action{Kind: UnaryAction, UnaryOp: op})
		}
	}
	if c.allows(2) {
		for _, op := range c.cfg.BinaryOps {
			as = append(as, Action{Kind: BinaryAction, BinaryOp: op})
		}
	}
	return as
}

func (c *Compact) Apply(a Action) error {
	if c.IsTerminal() {
		return ErrTerminal
	}
	if !contains(c.Actions(), a) {
		return fmt.Errorf("%w: %v", ErrIllegalAction, a)
	}

	top := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]

	var n *expr.Node
	pushed := 0
	switch a.Kind {
	case VariableAction, ConstantAction:
		n, _ = a.leaf()
	case UnaryAction:
		n = &expr.Node{Kind: expr.UnaryKind, UnaryOp: a.UnaryOp}
		c.stack = append(c.stack, slot{parent: n})
		pushed = 1
	case BinaryAction:
		n = &expr.Node{Kind: expr.BinaryKind, BinaryOp: a.BinaryOp}
		c.stack = append(c.stack, slot{parent: n, right: true}, slot{parent: n})
		pushed = 2
	default:
		panic(fmt.Sprintf("BUG: Compactに不正なActionKind: %d", int(a.Kind)))
	}

	c.attach(top, n)
	c.size++
	c.history = append(c.history, compactStep{action: a, slot: top, node: n, pushed: pushed})
	return nil
}

func (c *Compact) attach(s slot, n *expr.Node) {
	switch {
	case s.parent == nil:
		c.root = n
	case s.right:
		s.parent.Right = n
	default:
		s.parent.Left = n
	}
}

func (c *Compact) Undo() error {
	if len(c.history) == 0 {
		return ErrNothingToUndo
	}
	step := c.history[len(c.history)-1]
	c.history = c.history[:len(c.history)-1]

	c.stack = c.stack[:len(c.stack)-step.pushed]
	c.attach(step.slot, nil)
	c.stack = append(c.stack, step.slot)
	c.size--
	return nil
}

func (c *Compact) IsTerminal() bool {
	return len(c.stack) == 0
}

// Expression returns a copy of the finished tree; later Undo calls do not
// affect it.
func (c *Compact) Expression() (*expr.Node, bool) {
	if !c.IsTerminal() {
		return nil, false
	}
	return c.root.Clone(), true
}

func (c *Compact) Depth() int {
	return len(c.history)
}

// Description prints the partial tree with '?' for empty slots.
func (c *Compact) Description() string {
	var sb strings.Builder
	writePartial(&sb, c.root)
	return sb.String()
}

func writePartial(sb *strings.Builder, n *expr.Node) {
	if n == nil {
		sb.WriteByte('?')
		return
	}
	switch n.Kind {
	case expr.ConstantKind, expr.VariableKind:
		sb.WriteString(n.String())
	case expr.UnaryKind:
		sb.WriteString("U(" + n.UnaryOp.String() + ",")
		writePartial(sb, n.Left)
		sb.WriteByte(')')
	case expr.BinaryKind:
		sb.WriteString("B(" + n.BinaryOp.String() + ",")
		writePartial(sb, n.Left)
		sb.WriteByte(',')
		writePartial(sb, n.Right)
		sb.WriteByte(')')
	}
}
