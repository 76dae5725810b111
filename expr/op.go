package expr

import (
	"fmt"
	"math"
)

type UnaryOp int

const (
	Identity UnaryOp = iota
	Negate
	Invert
	Sqrt
	Log
	Exp
	Abs
)

var unaryNames = [...]string{"identity", "negate", "invert", "sqrt", "log", "exp", "abs"}

var unaryAliases = map[string]UnaryOp{
	"opposite":      Negate,
	"inverse":       Invert,
	"squareRoot":    Sqrt,
	"logarithm":     Log,
	"exponential":   Exp,
	"absoluteValue": Abs,
}

func UnaryOps() []UnaryOp {
	return []UnaryOp{Identity, Negate, Invert, Sqrt, Log, Exp, Abs}
}

func (op UnaryOp) String() string {
	if op >= 0 && int(op) < len(unaryNames) {
		return unaryNames[op]
	}
	return fmt.Sprintf("UnaryOp(%d)", int(op))
}

func ParseUnaryOp(name string) (UnaryOp, error) {
	for i, n := range unaryNames {
		if n == name {
			return UnaryOp(i), nil
		}
	}
	if op, ok := unaryAliases[name]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("%w: unary %q", ErrUnknownOperator, name)
}

// Apply evaluates the operator. Poles map to ±math.MaxFloat64 so that the
// result stays finite: invert(0) and x/0 give +MaxFloat64, log(x<=0) and
// sqrt(x<0) give -MaxFloat64.
func (op UnaryOp) Apply(x float64) float64 {
	switch op {
	case Identity:
		return x
	case Negate:
		return -x
	case Invert:
		if x == 0 {
			return math.MaxFloat64
		}
		return 1.0 / x
	case Sqrt:
		if x < 0 {
			return -math.MaxFloat64
		}
		return math.Sqrt(x)
	case Log:
		if x <= 0 {
			return -math.MaxFloat64
		}
		return math.Log(x)
	case Exp:
		return math.Exp(x)
	case Abs:
		return math.Abs(x)
	}
	panic(fmt.Sprintf("BUG: 未知のUnaryOp: %d", int(op)))
}

type BinaryOp int

const (
	Add BinaryOp = iota
	Subtract
	Multiply
	Divide
	Min
	Max
	Pow
	LessThan
)

var binaryNames = [...]string{"add", "subtract", "multiply", "divide", "min", "max", "pow", "lessThan"}

var binaryAliases = map[string]BinaryOp{
	"addition":       Add,
	"subtraction":    Subtract,
	"multiplication": Multiply,
	"division":       Divide,
	"power":          Pow,
	"less-than":      LessThan,
}

func BinaryOps() []BinaryOp {
	return []BinaryOp{Add, Subtract, Multiply, Divide, Min, Max, Pow, LessThan}
}

func (op BinaryOp) String() string {
	if op >= 0 && int(op) < len(binaryNames) {
		return binaryNames[op]
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

func ParseBinaryOp(name string) (BinaryOp, error) {
	for i, n := range binaryNames {
		if n == name {
			return BinaryOp(i), nil
		}
	}
	if op, ok := binaryAliases[name]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("%w: binary %q", ErrUnknownOperator, name)
}

func (op BinaryOp) Commutative() bool {
	switch op {
	case Add, Multiply, Min, Max:
		return true
	}
	return false
}

func (op BinaryOp) Apply(a, b float64) float64 {
	switch op {
	case Add:
		return a + b
	case Subtract:
		return a - b
	case Multiply:
		return a * b
	case Divide:
		if b == 0 {
			return math.MaxFloat64
		}
		return a / b
	case Min:
		return math.Min(a, b)
	case Max:
		return math.Max(a, b)
	case Pow:
		return math.Pow(a, b)
	case LessThan:
		if a < b {
			return 1.0
		}
		return 0.0
	}
	panic(fmt.Sprintf("BUG: 未知のBinaryOp: %d", int(op)))
}
