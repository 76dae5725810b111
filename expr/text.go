package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrSyntax = errors.New("構文エラー")

// ParseError describes one malformed formula. Line is 1-based, 0 when the
// text did not come from a file.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, e.Err)
	}
	return fmt.Sprintf("%q: %v", e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Domain names the input variables of a family of expressions.
type Domain struct {
	Name      string
	Variables []string
}

func (d *Domain) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Variables)
}

func (d *Domain) Index(name string) (int, bool) {
	if d == nil {
		return 0, false
	}
	for i, v := range d.Variables {
		if v == name {
			return i, true
		}
	}
	return 0, false
}

func (d *Domain) VariableName(i int) string {
	if d != nil && i >= 0 && i < len(d.Variables) {
		return d.Variables[i]
	}
	return "x" + strconv.Itoa(i)
}

// String renders n in the grammar accepted by Parse:
//
//	C(<float>)  C(<float>!)  V(<index>)  U(<op>,<e>)  B(<op>,<e>,<e>)
//
// A trailing '!' marks a learnable constant.
func (n *Node) String() string {
	var sb strings.Builder
	n.writeText(&sb)
	return sb.String()
}

func (n *Node) writeText(sb *strings.Builder) {
	switch n.Kind {
	case ConstantKind:
		sb.WriteString("C(")
		sb.WriteString(strconv.FormatFloat(n.Value, 'g', -1, 64))
		if n.Learnable {
			sb.WriteByte('!')
		}
		sb.WriteByte(')')
	case VariableKind:
		sb.WriteString("V(")
		sb.WriteString(strconv.Itoa(n.Index))
		sb.WriteByte(')')
	case UnaryKind:
		sb.WriteString("U(")
		sb.WriteString(n.UnaryOp.String())
		sb.WriteByte(',')
		n.Left.writeText(sb)
		sb.WriteByte(')')
	case BinaryKind:
		sb.WriteString("B(")
		sb.WriteString(n.BinaryOp.String())
		sb.WriteByte(',')
		n.Left.writeText(sb)
		sb.WriteByte(',')
		n.Right.writeText(sb)
		sb.WriteByte(')')
	default:
		panic(fmt.Sprintf("BUG: 未知のKind: %v", n.Kind))
	}
}

// Short renders n for logs. It is not parseable.
func (n *Node) Short(d *Domain) string {
	switch n.Kind {
	case ConstantKind:
		return strconv.FormatFloat(n.Value, 'g', 4, 64)
	case VariableKind:
		return d.VariableName(n.Index)
	case UnaryKind:
		x := n.Left.Short(d)
		switch n.UnaryOp {
		case Identity:
			return x
		case Negate:
			return "-" + x
		case Invert:
			return "1/" + x
		case Abs:
			return "|" + x + "|"
		default:
			return n.UnaryOp.String() + "(" + x + ")"
		}
	case BinaryKind:
		l, r := n.Left.Short(d), n.Right.Short(d)
		switch n.BinaryOp {
		case Add:
			return "(" + l + " + " + r + ")"
		case Subtract:
			return "(" + l + " - " + r + ")"
		case Multiply:
			return "(" + l + " * " + r + ")"
		case Divide:
			return "(" + l + " / " + r + ")"
		case Pow:
			return "(" + l + " ^ " + r + ")"
		case LessThan:
			return "(" + l + " < " + r + ")"
		default:
			return n.BinaryOp.String() + "(" + l + ", " + r + ")"
		}
	}
	panic(fmt.Sprintf("BUG: 未知のKind: %v", n.Kind))
}

// Parse reads one expression. Variables may be written as an index or,
// when d is non-nil, as one of d's variable names.
func Parse(text string, d *Domain) (*Node, error) {
	p := parser{s: text, domain: d}
	n, err := p.expr()
	if err == nil {
		p.skipSpaces()
		if p.pos != len(p.s) {
			err = fmt.Errorf("%w: 余分な文字列 %q", ErrSyntax, p.s[p.pos:])
		}
	}
	if err != nil {
		return nil, &ParseError{Text: text, Err: err}
	}
	return n, nil
}

type parser struct {
	s      string
	pos    int
	domain *Domain
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) expect(c byte) error {
	p.skipSpaces()
	if p.pos >= len(p.s) {
		return fmt.Errorf("%w: %q が必要ですが入力が終わりました", ErrSyntax, c)
	}
	if p.s[p.pos] != c {
		return fmt.Errorf("%w: 位置%dで%qが必要ですが%qでした", ErrSyntax, p.pos, c, p.s[p.pos])
	}
	p.pos++
	return nil
}

// token returns the text up to (not including) the next ',' or ')'.
func (p *parser) token() string {
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] != ',' && p.s[p.pos] != ')' {
		p.pos++
	}
	return strings.TrimSpace(p.s[start:p.pos])
}

func (p *parser) expr() (*Node, error) {
	p.skipSpaces()
	if p.pos >= len(p.s) {
		return nil, fmt.Errorf("%w: 数式が空です", ErrSyntax)
	}
	tag := p.s[p.pos]
	p.pos++
	if err := p.expect('('); err != nil {
		return nil, err
	}

	var n *Node
	switch tag {
	case 'C':
		tok := p.token()
		learnable := strings.HasSuffix(tok, "!")
		v, err := strconv.ParseFloat(strings.TrimSuffix(tok, "!"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: 定数 %q: %v", ErrSyntax, tok, err)
		}
		n = &Node{Kind: ConstantKind, Value: v, Learnable: learnable}
	case 'V':
		tok := p.token()
		idx, err := strconv.Atoi(tok)
		if err != nil {
			var ok bool
			if idx, ok = p.domain.Index(tok); !ok {
				return nil, fmt.Errorf("%w: 変数 %q", ErrSyntax, tok)
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: 変数 %q", ErrSyntax, tok)
		}
		n = Variable(idx)
	case 'U':
		op, err := ParseUnaryOp(p.token())
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		child, err := p.expr()
		if err != nil {
			return nil, err
		}
		n = Unary(op, child)
	case 'B':
		op, err := ParseBinaryOp(p.token())
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		left, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(','); err != nil {
			return nil, err
		}
		right, err := p.expr()
		if err != nil {
			return nil, err
		}
		n = Binary(op, left, right)
	default:
		return nil, fmt.Errorf("%w: 未知のノード %q", ErrSyntax, tag)
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return n, nil
}
