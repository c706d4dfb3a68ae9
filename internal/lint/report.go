// Package lint implements the three CI-time contract checks the core
// relies on instead of runtime enforcement: tenant safety, bracketed
// disjunctions, and the authorization contract. It parses the module's
// own source with go/ast — there is no business logic here, only a
// source-level audit of the business logic that lives everywhere else.
package lint

import (
	"encoding/json"
	"sort"
)

// Rule names, stable across releases since CI allowlists key on them.
const (
	RuleTenantSafety   = "tenant-safety"
	RuleDisjunction    = "bracketed-disjunction"
	RuleAuthzContract  = "authz-contract"
)

// Finding is one contract violation located in source.
type Finding struct {
	Rule    string `json:"rule"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Scope   string `json:"scope,omitempty"` // enclosing function/decorator name, for allowlist matching
	Message string `json:"message"`
}

// Report is the linter's full output: surviving findings plus the
// allowlisted ones, kept visible so a stale allowlist entry is easy to
// spot in review.
type Report struct {
	Findings   []Finding `json:"findings"`
	Suppressed []Finding `json:"suppressed,omitempty"`
}

// Sort orders findings deterministically by file, then line, then rule,
// so two runs over identical source produce byte-identical JSON.
func (r *Report) Sort() {
	sortFindings(r.Findings)
	sortFindings(r.Suppressed)
}

func sortFindings(fs []Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].File != fs[j].File {
			return fs[i].File < fs[j].File
		}
		if fs[i].Line != fs[j].Line {
			return fs[i].Line < fs[j].Line
		}
		return fs[i].Rule < fs[j].Rule
	})
}

// JSON renders the report deterministically.
func (r *Report) JSON() ([]byte, error) {
	r.Sort()
	return json.MarshalIndent(r, "", "  ")
}

// Failed reports whether CI should fail: any non-suppressed finding.
func (r *Report) Failed() bool { return len(r.Findings) > 0 }
