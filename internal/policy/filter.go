// Package policy expresses per-role visibility as filters that can be
// evaluated in memory or rendered into a parameterised SQL predicate.
package policy

import (
	"fmt"
	"strconv"
	"strings"
)

type Op int

const (
	OpEq Op = iota
	OpIsNull
	OpIn
	OpMember
)

// Cond is a single field test.
type Cond struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

func IsNull(field string) Cond { return Cond{Field: field, Op: OpIsNull} }

func In(field string, values ...string) Cond { return Cond{Field: field, Op: OpIn, Value: values} }

// Member matches when the list held in field contains value.
func Member(field, value string) Cond { return Cond{Field: field, Op: OpMember, Value: value} }

// Term is a conjunction of conditions.
type Term []Cond

// Filter is a disjunction of terms. The zero value matches nothing.
type Filter struct {
	all   bool
	terms []Term
}

func All() Filter { return Filter{all: true} }

func None() Filter { return Filter{} }

func Any(terms ...Term) Filter {
	kept := make([]Term, 0, len(terms))
	for _, term := range terms {
		if term != nil {
			kept = append(kept, term)
		}
	}
	return Filter{terms: kept}
}

func (f Filter) IsAll() bool { return f.all }

func (f Filter) IsNone() bool { return !f.all && len(f.terms) == 0 }

func (f Filter) Terms() []Term { return f.terms }

// And narrows every term of the filter with cond.
func (f Filter) And(cond Cond) Filter {
	if f.all {
		return Filter{terms: []Term{{cond}}}
	}
	terms := make([]Term, 0, len(f.terms))
	for _, term := range f.terms {
		next := make(Term, 0, len(term)+1)
		next = append(next, term...)
		terms = append(terms, append(next, cond))
	}
	return Filter{terms: terms}
}

// Record is a flat view of a row used for in-memory evaluation. Missing keys,
// nil values and empty strings are treated as NULL.
type Record map[string]any

func (f Filter) Matches(record Record) bool {
	if f.all {
		return true
	}
	for _, term := range f.terms {
		if term.matches(record) {
			return true
		}
	}
	return false
}

func (t Term) matches(record Record) bool {
	for _, cond := range t {
		if !cond.matches(record) {
			return false
		}
	}
	return true
}

func (c Cond) matches(record Record) bool {
	value := record[c.Field]
	switch c.Op {
	case OpEq:
		if isNull(value) {
			return false
		}
		return value == c.Value
	case OpIsNull:
		return isNull(value)
	case OpIn:
		text, ok := value.(string)
		if !ok {
			return false
		}
		for _, candidate := range c.Value.([]string) {
			if candidate == text {
				return true
			}
		}
		return false
	case OpMember:
		members, _ := value.([]string)
		for _, member := range members {
			if member == c.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func isNull(value any) bool {
	if value == nil {
		return true
	}
	if text, ok := value.(string); ok && text == "" {
		return true
	}
	return false
}

// Args accumulates positional parameters for a query.
type Args struct {
	values []any
}

func NewArgs(values ...any) *Args {
	return &Args{values: append([]any(nil), values...)}
}

// Add appends value and returns its placeholder.
func (a *Args) Add(value any) string {
	a.values = append(a.values, value)
	return "$" + strconv.Itoa(len(a.values))
}

func (a *Args) Values() []any { return a.values }

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikeContains turns text into a substring pattern for ILIKE ... ESCAPE '\'
// with wildcard characters matched literally.
func LikeContains(text string) string {
	return "%" + likeEscaper.Replace(text) + "%"
}

// Columns maps filter fields to SQL expressions. Member fields map to a
// format string with a single %s for the placeholder, e.g. an EXISTS subquery.
type Columns map[string]string

func (f Filter) SQL(columns Columns, args *Args) string {
	if f.all {
		return "TRUE"
	}
	if len(f.terms) == 0 {
		return "FALSE"
	}
	parts := make([]string, 0, len(f.terms))
	for _, term := range f.terms {
		conds := make([]string, 0, len(term))
		for _, cond := range term {
			conds = append(conds, cond.sql(columns, args))
		}
		parts = append(parts, "("+strings.Join(conds, " AND ")+")")
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (c Cond) sql(columns Columns, args *Args) string {
	column, ok := columns[c.Field]
	if !ok {
		column = c.Field
	}
	switch c.Op {
	case OpEq:
		return fmt.Sprintf("%s = %s", column, args.Add(c.Value))
	case OpIsNull:
		return fmt.Sprintf("COALESCE(%s, '') = ''", column)
	case OpIn:
		return fmt.Sprintf("%s = ANY(%s)", column, args.Add(c.Value))
	case OpMember:
		return fmt.Sprintf(column, args.Add(c.Value))
	default:
		return "FALSE"
	}
}
