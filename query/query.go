// Package query builds ServiceNow encoded query strings (the
// sysparm_query mini-language: "field=value" terms joined with ^ for
// AND and ^OR for OR, plus ORDERBY clauses). Every tool that filters
// records goes through this builder instead of concatenating strings.
package query

import "strings"

// Operator is one comparison in an encoded query term.
type Operator string

const (
	OpEq         Operator = "="
	OpNe         Operator = "!="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpContains   Operator = "LIKE"
	OpNotContain Operator = "NOTLIKE"
	OpStartsWith Operator = "STARTSWITH"
	OpEndsWith   Operator = "ENDSWITH"
	OpIn         Operator = "IN"
	OpNotIn      Operator = "NOT IN"
)

// ParseOperator maps the wire names accepted in tool arguments onto an
// Operator. Both symbolic ("!=") and word ("not_equals") forms are
// accepted.
func ParseOperator(s string) (Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "=", "eq", "equals", "":
		return OpEq, true
	case "!=", "ne", "not_equals":
		return OpNe, true
	case ">", "gt", "greater_than":
		return OpGt, true
	case ">=", "gte":
		return OpGte, true
	case "<", "lt", "less_than":
		return OpLt, true
	case "<=", "lte":
		return OpLte, true
	case "like", "contains":
		return OpContains, true
	case "notlike", "not_contains":
		return OpNotContain, true
	case "startswith", "starts_with":
		return OpStartsWith, true
	case "endswith", "ends_with":
		return OpEndsWith, true
	case "in":
		return OpIn, true
	case "not in", "not_in":
		return OpNotIn, true
	}
	return "", false
}

type term struct {
	text string
	or   bool
}

// Builder accumulates query terms. The zero value is ready to use.
type Builder struct {
	terms  []term
	orders []string
}

// New returns an empty builder.
func New() *Builder { return &Builder{} }

// Where adds an AND term with an explicit operator.
func (b *Builder) Where(field string, op Operator, value string) *Builder {
	b.terms = append(b.terms, term{text: field + string(op) + value})
	return b
}

// OrWhere adds an OR term (rendered as ^OR).
func (b *Builder) OrWhere(field string, op Operator, value string) *Builder {
	b.terms = append(b.terms, term{text: field + string(op) + value, or: true})
	return b
}

// Eq adds "field=value".
func (b *Builder) Eq(field, value string) *Builder { return b.Where(field, OpEq, value) }

// Ne adds "field!=value".
func (b *Builder) Ne(field, value string) *Builder { return b.Where(field, OpNe, value) }

// Contains adds "fieldLIKEvalue".
func (b *Builder) Contains(field, value string) *Builder { return b.Where(field, OpContains, value) }

// In adds "fieldINv1,v2,...".
func (b *Builder) In(field string, values ...string) *Builder {
	return b.Where(field, OpIn, strings.Join(values, ","))
}

// IsEmpty adds "fieldISEMPTY".
func (b *Builder) IsEmpty(field string) *Builder {
	b.terms = append(b.terms, term{text: field + "ISEMPTY"})
	return b
}

// IsNotEmpty adds "fieldISNOTEMPTY".
func (b *Builder) IsNotEmpty(field string) *Builder {
	b.terms = append(b.terms, term{text: field + "ISNOTEMPTY"})
	return b
}

// Raw appends an already-encoded fragment unchanged, for callers that
// accept a pass-through encoded query from the agent.
func (b *Builder) Raw(fragment string) *Builder {
	if fragment != "" {
		b.terms = append(b.terms, term{text: fragment})
	}
	return b
}

// OrderBy appends an ascending ORDERBY clause.
func (b *Builder) OrderBy(field string) *Builder {
	b.orders = append(b.orders, "ORDERBY"+field)
	return b
}

// OrderByDesc appends a descending ORDERBYDESC clause.
func (b *Builder) OrderByDesc(field string) *Builder {
	b.orders = append(b.orders, "ORDERBYDESC"+field)
	return b
}

// Empty reports whether the builder holds no terms or orderings.
func (b *Builder) Empty() bool {
	return len(b.terms) == 0 && len(b.orders) == 0
}

// String renders the encoded query. ORDERBY clauses come last, joined
// with ^ like ordinary terms.
func (b *Builder) String() string {
	var sb strings.Builder
	for i, t := range b.terms {
		if i > 0 {
			if t.or {
				sb.WriteString("^OR")
			} else {
				sb.WriteString("^")
			}
		}
		sb.WriteString(t.text)
	}
	for _, o := range b.orders {
		if sb.Len() > 0 {
			sb.WriteString("^")
		}
		sb.WriteString(o)
	}
	return sb.String()
}
