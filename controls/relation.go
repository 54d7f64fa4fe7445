package controls

import (
	"fmt"
	"math"
	"strings"
)

// Relation is a comparison operator between a live attribute and a
// threshold (or a second attribute, for relative conditions).
type Relation string

const (
	RelationEQ Relation = "="
	RelationNE Relation = "<>"
	RelationGT Relation = ">"
	RelationGE Relation = ">="
	RelationLT Relation = "<"
	RelationLE Relation = "<="
)

// equality comparisons on hydraulic floats use a small absolute band
// so that = is satisfiable at all.
const relationEqTolerance = 1e-9

// Compare applies the relation to (a, b).
func (r Relation) Compare(a, b float64) bool {
	switch r {
	case RelationEQ:
		return math.Abs(a-b) <= relationEqTolerance
	case RelationNE:
		return math.Abs(a-b) > relationEqTolerance
	case RelationGT:
		return a > b
	case RelationGE:
		return a >= b
	case RelationLT:
		return a < b
	case RelationLE:
		return a <= b
	default:
		return false
	}
}

// Valid reports whether r is one of the six supported relations.
func (r Relation) Valid() bool {
	switch r {
	case RelationEQ, RelationNE, RelationGT, RelationGE, RelationLT, RelationLE:
		return true
	}
	return false
}

// ParseRelation accepts both symbolic and word forms ("=", "==", "eq",
// "is", ">", "gt", "above", ...). Unknown forms are construction
// errors.
func ParseRelation(s string) (Relation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "=", "==", "eq", "is":
		return RelationEQ, nil
	case "<>", "!=", "ne", "not":
		return RelationNE, nil
	case ">", "gt", "above":
		return RelationGT, nil
	case ">=", "ge":
		return RelationGE, nil
	case "<", "lt", "below":
		return RelationLT, nil
	case "<=", "le":
		return RelationLE, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadRelation, s)
	}
}
