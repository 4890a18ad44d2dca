package dd

import (
	"fmt"
	"strings"
)

// Outcome is the three-valued result of testing a configuration.
type Outcome int

const (
	// Unresolved means the test was inconclusive: neither a clean pass nor
	// a reproduction of the target failure.
	Unresolved Outcome = iota
	// Pass means the failure was not reproduced.
	Pass
	// Fail means the target failure was reproduced.
	Fail
)

// String returns PASS, FAIL or UNRESOLVED.
func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	case Unresolved:
		return "UNRESOLVED"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Valid reports whether o is one of the three defined outcomes.
func (o Outcome) Valid() bool {
	return o == Pass || o == Fail || o == Unresolved
}

// ParseOutcome parses the String form of an outcome, case-insensitively.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PASS":
		return Pass, nil
	case "FAIL":
		return Fail, nil
	case "UNRESOLVED":
		return Unresolved, nil
	default:
		return Unresolved, fmt.Errorf("unknown outcome %q", s)
	}
}

// Outcomes lists the defined outcomes in a stable order.
func Outcomes() []Outcome {
	return []Outcome{Pass, Fail, Unresolved}
}
