package index

import (
	"regexp"
	"strings"
)

// QueryBuilder assembles boolean query strings for the search index:
// fluent AND / OR / AND NOT composition with nested subqueries. The
// output is cleaned at build time, so callers can append conditions
// unconditionally and let empty ones vanish.
type QueryBuilder struct {
	parent *QueryBuilder
	op     string
	sb     strings.Builder
}

// NewQueryBuilder starts an empty query.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// And appends a condition with AND.
func (qb *QueryBuilder) And(condition string) *QueryBuilder {
	return qb.append("AND", condition)
}

// Or appends a condition with OR.
func (qb *QueryBuilder) Or(condition string) *QueryBuilder {
	return qb.append("OR", condition)
}

// AndNot appends a negated condition.
func (qb *QueryBuilder) AndNot(condition string) *QueryBuilder {
	return qb.append("AND NOT", condition)
}

func (qb *QueryBuilder) append(op, condition string) *QueryBuilder {
	if condition == "" {
		return qb
	}
	if qb.sb.Len() > 0 {
		qb.sb.WriteString(" " + op + " ")
	}
	qb.sb.WriteString(condition)
	return qb
}

// AndSubquery opens a parenthesized group joined with AND. Close it
// with End to return to this builder.
func (qb *QueryBuilder) AndSubquery() *QueryBuilder {
	return &QueryBuilder{parent: qb, op: "AND"}
}

// OrSubquery opens a parenthesized group joined with OR.
func (qb *QueryBuilder) OrSubquery() *QueryBuilder {
	return &QueryBuilder{parent: qb, op: "OR"}
}

// End closes a subquery and returns the parent builder. Empty groups
// are dropped.
func (qb *QueryBuilder) End() *QueryBuilder {
	if qb.parent == nil {
		return qb
	}
	inner := strings.TrimSpace(qb.sb.String())
	if inner != "" {
		qb.parent.append(qb.op, "("+inner+")")
	}
	return qb.parent
}

// ToSubquery wraps everything accumulated so far in parentheses.
func (qb *QueryBuilder) ToSubquery() *QueryBuilder {
	current := strings.TrimSpace(qb.sb.String())
	qb.sb.Reset()
	if current != "" {
		qb.sb.WriteString("(" + current + ")")
	}
	return qb
}

// Remove strips a previously appended condition, with its conjunction.
func (qb *QueryBuilder) Remove(condition string) *QueryBuilder {
	current := qb.sb.String()
	for _, form := range []string{
		" AND NOT " + condition,
		" AND " + condition,
		" OR " + condition,
		condition,
	} {
		if strings.Contains(current, form) {
			current = strings.Replace(current, form, "", 1)
			break
		}
	}
	qb.sb.Reset()
	qb.sb.WriteString(current)
	return qb
}

// Matches renders a field condition. Empty values produce the is-not-null
// range form, a leading ! negates, and values with non-alphanumeric
// characters are quoted.
func Matches(field, value string) string {
	if value == "" {
		return field + ":[* TO *]"
	}
	if strings.HasPrefix(value, "!") {
		return "!" + field + ":" + escapeValue(value[1:])
	}
	return field + ":" + escapeValue(value)
}

var plainValue = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func escapeValue(value string) string {
	if plainValue.MatchString(value) {
		return value
	}
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}

// Build renders the final query string: empty parentheses removed,
// leading conjunctions stripped, surrounding whitespace trimmed.
func (qb *QueryBuilder) Build() string {
	query := qb.sb.String()
	for strings.Contains(query, "()") {
		query = strings.ReplaceAll(query, "()", "")
	}
	query = strings.TrimSpace(query)
	for {
		switch {
		case strings.HasPrefix(query, "AND NOT "):
			query = strings.TrimSpace(query[8:])
		case strings.HasPrefix(query, "AND "):
			query = strings.TrimSpace(query[4:])
		case strings.HasPrefix(query, "OR "):
			query = strings.TrimSpace(query[3:])
		default:
			return query
		}
	}
}
