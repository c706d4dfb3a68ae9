package tenant

import "strings"

// Criteria builds a WHERE clause for a tenant-scoped query. The tenant
// predicate itself is injected by Repository, never by the caller — see
// spec §4.A "Bracketing discipline for disjunctions": the tenant predicate
// is always an AND sibling of the entire user-supplied disjunction, so a
// disjunction must be built through Group, never as bare top-level Or
// calls that could otherwise slip outside that AND.
type Criteria struct {
	clauses []string
	args    []any
}

// NewCriteria returns an empty criteria builder.
func NewCriteria() *Criteria {
	return &Criteria{}
}

// Where adds an AND-ed "column op ?" predicate.
func (c *Criteria) Where(column, op string, value any) *Criteria {
	c.clauses = append(c.clauses, column+" "+op+" ?")
	c.args = append(c.args, value)
	return c
}

// Group adds a single bracketed, OR-joined predicate as an AND sibling of
// everything else in c. fn receives a fresh *OrGroup to populate.
func (c *Criteria) Group(fn func(g *OrGroup)) *Criteria {
	g := &OrGroup{}
	fn(g)
	if len(g.clauses) == 0 {
		return c
	}
	c.clauses = append(c.clauses, "("+strings.Join(g.clauses, " OR ")+")")
	c.args = append(c.args, g.args...)
	return c
}

// OrGroup collects OR-joined predicates for use inside Criteria.Group.
// There is deliberately no top-level Or on Criteria itself — see the
// static linter's bracketed-disjunction contract (spec §4.I), which this
// type exists to make structurally impossible to violate from Go code.
type OrGroup struct {
	clauses []string
	args    []any
}

func (g *OrGroup) Or(column, op string, value any) *OrGroup {
	g.clauses = append(g.clauses, column+" "+op+" ?")
	g.args = append(g.args, value)
	return g
}

// Render returns the WHERE body (without leading "WHERE") using
// placeholder, a function turning a 1-based positional index into the
// driver's bind-parameter syntax (e.g. "$1" for lib/pq), and the
// flattened argument list in order.
func (c *Criteria) Render(startAt int, placeholder func(int) string) (string, []any) {
	if len(c.clauses) == 0 {
		return "", nil
	}
	var sb strings.Builder
	idx := startAt
	args := make([]any, 0, len(c.args))
	for i, clause := range c.clauses {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		rendered := clause
		// Replace each "?" in this clause with the next positional placeholder.
		for strings.Contains(rendered, "?") {
			rendered = strings.Replace(rendered, "?", placeholder(idx), 1)
			idx++
		}
		sb.WriteString(rendered)
	}
	args = append(args, c.args...)
	return sb.String(), args
}
