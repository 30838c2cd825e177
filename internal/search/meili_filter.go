package search

import (
	"fmt"
	"strings"

	"council/api/internal/policy"
)

// meiliAttrs maps policy fields to the indexed document attributes.
var meiliAttrs = map[string]string{
	policy.FieldDomain:     "domain",
	policy.FieldAssignedTo: "assignedTo",
	policy.FieldAssignedBy: "assignedBy",
	policy.FieldAuthor:     "author",
	policy.FieldPublic:     "isPublic",
}

// meiliFilter renders scope as a Meilisearch filter expression. An empty
// expression means no restriction; ok is false when nothing can match or the
// scope uses a field the index does not carry.
func meiliFilter(scope policy.Filter) (expr string, ok bool) {
	if scope.IsAll() {
		return "", true
	}
	if scope.IsNone() {
		return "", false
	}
	terms := make([]string, 0, len(scope.Terms()))
	for _, term := range scope.Terms() {
		conds := make([]string, 0, len(term))
		for _, cond := range term {
			rendered, ok := meiliCond(cond)
			if !ok {
				return "", false
			}
			conds = append(conds, rendered)
		}
		terms = append(terms, "("+strings.Join(conds, " AND ")+")")
	}
	return strings.Join(terms, " OR "), true
}

func meiliCond(cond policy.Cond) (string, bool) {
	attr, ok := meiliAttrs[cond.Field]
	if !ok {
		return "", false
	}
	switch cond.Op {
	case policy.OpEq:
		switch v := cond.Value.(type) {
		case bool:
			return fmt.Sprintf("%s = %t", attr, v), true
		case string:
			return fmt.Sprintf("%s = %q", attr, v), true
		}
	case policy.OpIsNull:
		return fmt.Sprintf("(%s IS NULL OR %s IS EMPTY)", attr, attr), true
	case policy.OpIn:
		values, _ := cond.Value.([]string)
		if len(values) == 0 {
			return "", false
		}
		quoted := make([]string, len(values))
		for i, v := range values {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		return fmt.Sprintf("%s IN [%s]", attr, strings.Join(quoted, ", ")), true
	}
	return "", false
}
