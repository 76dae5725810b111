package fingerprint

import (
	"github.com/sw965/banditformula/expr"
)

type Outcome int

const (
	Rejected Outcome = iota
	Inserted
	Replaced
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// Set keeps, for every fingerprint key, the smallest formula seen so far.
// On equal size the first one is kept.
type Set struct {
	Battery Battery
	Mode    Mode
	// Required lists variable indices every formula must reference.
	Required []int

	keys     []Key
	byKey    map[Key]int
	formulas []*expr.Node
	rejected int
}

func NewSet(b Battery, mode Mode) *Set {
	return &Set{
		Battery: b,
		Mode:    mode,
		byKey:   map[Key]int{},
	}
}

func (s *Set) Add(e *expr.Node) Outcome {
	if len(s.Required) > 0 {
		counts := e.VariableUseCounts(0)
		for _, idx := range s.Required {
			if idx >= len(counts) || counts[idx] == 0 {
				s.rejected++
				return Rejected
			}
		}
	}

	key, ok := Of(e, s.Battery, s.Mode)
	if !ok {
		s.rejected++
		return Rejected
	}

	i, found := s.byKey[key]
	if !found {
		s.byKey[key] = len(s.formulas)
		s.keys = append(s.keys, key)
		s.formulas = append(s.formulas, e)
		return Inserted
	}
	if e.Size() < s.formulas[i].Size() {
		s.formulas[i] = e
		return Replaced
	}
	return Duplicate
}

func (s *Set) Len() int {
	return len(s.formulas)
}

func (s *Set) Rejected() int {
	return s.rejected
}

// Formulas returns the representatives in order of first insertion of their key.
func (s *Set) Formulas() []*expr.Node {
	return append([]*expr.Node(nil), s.formulas...)
}

func (s *Set) Lookup(key Key) (*expr.Node, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	return s.formulas[i], true
}

func (s *Set) Keys() []Key {
	return append([]Key(nil), s.keys...)
}
