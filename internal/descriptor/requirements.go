package descriptor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownAttribute is returned when a requirements expression references an
// attribute the launcher cannot evaluate.
var ErrUnknownAttribute = errors.New("unknown requirements attribute")

// Attributes are the machine properties a requirements expression can reference.
type Attributes struct {
	Arch     string
	OpSys    string
	Cpus     int
	MemoryMB int
}

// Requirements is a conjunctive predicate over machine attributes.
// A machine is eligible only if every conjunct holds.
type Requirements struct {
	raw       string
	conjuncts []conjunct
}

type conjunct struct {
	attr     string
	op       string
	strVal   string
	intVal   int
	isString bool
}

// ParseRequirements parses an expression of the form
//
//	Arch == "X86_64" && OpSys == "LINUX" && Cpus >= 2
//
// Only conjunctions are supported. String attributes compare with == and !=,
// numeric attributes additionally with <, <=, > and >=.
func ParseRequirements(expr string) (r Requirements, err error) {
	r.raw = strings.TrimSpace(expr)
	if r.raw == "" {
		return Requirements{}, errors.New("empty requirements expression")
	}

	for _, part := range strings.Split(r.raw, "&&") {
		c, err := parseConjunct(strings.TrimSpace(part))
		if err != nil {
			return Requirements{}, fmt.Errorf("invalid requirements %q: %w", expr, err)
		}
		r.conjuncts = append(r.conjuncts, c)
	}

	return r, nil
}

var operators = []string{"==", "!=", ">=", "<=", ">", "<"}

func parseConjunct(part string) (conjunct, error) {
	var op string
	var idx int
	for _, candidate := range operators {
		if i := strings.Index(part, candidate); i >= 0 {
			op, idx = candidate, i
			break
		}
	}
	if op == "" {
		return conjunct{}, fmt.Errorf("no comparison operator in %q", part)
	}

	attr := strings.TrimSpace(part[:idx])
	value := strings.TrimSpace(part[idx+len(op):])
	if attr == "" || value == "" {
		return conjunct{}, fmt.Errorf("malformed conjunct %q", part)
	}

	c := conjunct{attr: normalizeAttr(attr), op: op}
	if c.attr == "" {
		return conjunct{}, fmt.Errorf("%w: %s", ErrUnknownAttribute, attr)
	}

	if strings.HasPrefix(value, `"`) {
		if !strings.HasSuffix(value, `"`) || len(value) < 2 {
			return conjunct{}, fmt.Errorf("unterminated string literal in %q", part)
		}
		c.isString = true
		c.strVal = value[1 : len(value)-1]
		if op != "==" && op != "!=" {
			return conjunct{}, fmt.Errorf("operator %s not valid for string attribute %s", op, attr)
		}
		return c, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return conjunct{}, fmt.Errorf("invalid numeric literal %q", value)
	}
	c.intVal = n
	return c, nil
}

func normalizeAttr(attr string) string {
	switch strings.ToLower(attr) {
	case "arch":
		return "Arch"
	case "opsys":
		return "OpSys"
	case "cpus":
		return "Cpus"
	case "memory":
		return "Memory"
	default:
		return ""
	}
}

// String returns the expression as written in the descriptor.
func (r Requirements) String() string {
	return r.raw
}

// Empty reports whether the descriptor declared no requirements.
func (r Requirements) Empty() bool {
	return len(r.conjuncts) == 0
}

// Eval evaluates the predicate against the given machine attributes.
// On failure it returns the first conjunct that did not hold, for diagnostics.
func (r Requirements) Eval(attrs Attributes) (ok bool, failed string) {
	for _, c := range r.conjuncts {
		if !c.holds(attrs) {
			return false, fmt.Sprintf("%s %s %s", c.attr, c.op, c.literal())
		}
	}
	return true, ""
}

func (c conjunct) holds(attrs Attributes) bool {
	if c.isString {
		var got string
		switch c.attr {
		case "Arch":
			got = attrs.Arch
		case "OpSys":
			got = attrs.OpSys
		default:
			return false
		}
		if c.op == "==" {
			return strings.EqualFold(got, c.strVal)
		}
		return !strings.EqualFold(got, c.strVal)
	}

	var got int
	switch c.attr {
	case "Cpus":
		got = attrs.Cpus
	case "Memory":
		got = attrs.MemoryMB
	default:
		return false
	}

	switch c.op {
	case "==":
		return got == c.intVal
	case "!=":
		return got != c.intVal
	case ">=":
		return got >= c.intVal
	case "<=":
		return got <= c.intVal
	case ">":
		return got > c.intVal
	case "<":
		return got < c.intVal
	default:
		return false
	}
}

func (c conjunct) literal() string {
	if c.isString {
		return `"` + c.strVal + `"`
	}
	return strconv.Itoa(c.intVal)
}
