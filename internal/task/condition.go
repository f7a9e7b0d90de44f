package task

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Condition is a named comparison operator applied during trigger
// evaluation.
type Condition string

const (
	CondLT         Condition = "<"
	CondLE         Condition = "<="
	CondGT         Condition = ">"
	CondGE         Condition = ">="
	CondEQ         Condition = "="
	CondNE         Condition = "!="
	CondContains   Condition = "contains"
	CondStartsWith Condition = "startsWith"
	CondMatches    Condition = "matches"
)

func (c Condition) Valid() bool {
	switch c {
	case CondLT, CondLE, CondGT, CondGE, CondEQ, CondNE, CondContains, CondStartsWith, CondMatches:
		return true
	}
	return false
}

// conditionPrefixes is ordered longest-first so "<=" wins over "<" and the
// word operators win over their substrings.
var conditionPrefixes = []Condition{
	CondStartsWith, CondContains, CondMatches,
	CondLE, CondGE, CondNE, CondLT, CondGT, CondEQ,
}

// ParseConditionPrefix splits an operator prefix off a trigger value:
// ">=25" yields (">=", "25"). Values without a recognized prefix default to
// equality.
func ParseConditionPrefix(value string) (Condition, string) {
	for _, op := range conditionPrefixes {
		if strings.HasPrefix(value, string(op)) {
			return op, strings.TrimSpace(value[len(op):])
		}
	}
	return CondEQ, value
}

// Evaluate compares an observed payload against a stored operand.
//
// When both sides parse as finite numbers the comparison is numeric and only
// the relational operators apply. Otherwise the comparison is textual:
// equality, startsWith, contains, or matches (operand compiled as a regular
// expression; an invalid pattern evaluates to false, never panics).
//
// Unknown conditions evaluate to false. They indicate a configuration
// defect; callers are expected to log them.
func Evaluate(observed, operand string, cond Condition) bool {
	obs, errO := strconv.ParseFloat(strings.TrimSpace(observed), 64)
	opd, errP := strconv.ParseFloat(strings.TrimSpace(operand), 64)
	if errO == nil && errP == nil && finite(obs) && finite(opd) {
		switch cond {
		case CondLT:
			return obs < opd
		case CondLE:
			return obs <= opd
		case CondGT:
			return obs > opd
		case CondGE:
			return obs >= opd
		case CondEQ:
			return obs == opd
		case CondNE:
			return obs != opd
		}
		return false
	}
	switch cond {
	case CondEQ:
		return observed == operand
	case CondNE:
		return observed != operand
	case CondStartsWith:
		return strings.HasPrefix(observed, operand)
	case CondContains:
		return strings.Contains(observed, operand)
	case CondMatches:
		re, err := regexp.Compile(operand)
		if err != nil {
			return false
		}
		return re.MatchString(observed)
	}
	return false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
