package lint

import (
	"go/ast"
	"regexp"
	"strconv"
	"strings"
)

var whereClauseRe = regexp.MustCompile(`(?i)\bwhere\b`)

// CheckDisjunctions implements spec §4.I contract 2. internal/tenant's
// Criteria/OrGroup types make a bare top-level Or structurally
// impossible to express in Go (OrGroup.Or only exists inside the
// closure Criteria.Group hands out), so the residual risk this check
// guards against is hand-written SQL literals that reintroduce a bare
// OR as a sibling of the WHERE clause's other predicates instead of
// going through Criteria at all.
func CheckDisjunctions(files []SourceFile) []Finding {
	var findings []Finding
	for _, f := range files {
		ast.Inspect(f.AST, func(n ast.Node) bool {
			bl, ok := n.(*ast.BasicLit)
			if !ok {
				return true
			}
			s, ok := lit(bl)
			if !ok {
				return true
			}
			if loc, bad := bareOrOffset(s); bad {
				pos := f.Fset.Position(bl.Pos())
				findings = append(findings, Finding{
					Rule:  RuleDisjunction,
					File:  f.Path,
					Line:  pos.Line,
					Scope: enclosingFunc(f.AST, bl.Pos()),
					Message: "bare OR at top level of a WHERE clause (offset " +
						strconv.Itoa(loc) + "); wrap it in an explicit grouping",
				})
			}
			return true
		})
	}
	return findings
}

// bareOrOffset reports whether sql contains a WHERE clause with a " or "
// token at parenthesis depth 0 — i.e. not inside any bracketed group.
func bareOrOffset(sql string) (int, bool) {
	loc := whereClauseRe.FindStringIndex(sql)
	if loc == nil {
		return 0, false
	}
	clause := sql[loc[1]:]
	depth := 0
	lower := strings.ToLower(clause)
	for i := 0; i < len(lower); i++ {
		switch lower[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && i+4 <= len(lower) && lower[i:i+4] == " or " {
			return loc[1] + i, true
		}
	}
	return 0, false
}
