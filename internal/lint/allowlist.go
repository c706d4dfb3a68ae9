package lint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// AllowEntry suppresses one specific finding. File and Rule are
// required; Scope narrows the suppression to one function/decorator
// when a file has more than one match. Rationale is mandatory — an
// entry without one is rejected at load time rather than silently
// accepted, since an unexplained allowlist entry is exactly what this
// tool exists to catch.
type AllowEntry struct {
	File      string `yaml:"file"`
	Rule      string `yaml:"rule"`
	Scope     string `yaml:"scope,omitempty"`
	Rationale string `yaml:"rationale"`
}

// Allowlist is the parsed contents of lint/allowlist.yaml.
type Allowlist struct {
	Allow []AllowEntry `yaml:"allow"`
}

// LoadAllowlist reads and validates path. A missing file is treated as
// an empty allowlist (most repos have no exceptions); a present but
// malformed file is an error.
func LoadAllowlist(path string) (*Allowlist, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Allowlist{}, nil
	}
	if err != nil {
		return nil, err
	}
	var a Allowlist
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("lint: parsing %s: %w", path, err)
	}
	for i, e := range a.Allow {
		if e.Rationale == "" {
			return nil, fmt.Errorf("lint: %s entry %d (%s:%s) has no rationale", path, i, e.File, e.Rule)
		}
	}
	return &a, nil
}

// Suppresses reports whether f matches an allowlist entry, and the
// rationale that justified the suppression.
func (a *Allowlist) Suppresses(f Finding) (bool, string) {
	for _, e := range a.Allow {
		if e.File != f.File || e.Rule != f.Rule {
			continue
		}
		if e.Scope != "" && e.Scope != f.Scope {
			continue
		}
		return true, e.Rationale
	}
	return false, ""
}

// Apply partitions findings into surviving and suppressed sets.
func (a *Allowlist) Apply(findings []Finding) (kept, suppressed []Finding) {
	for _, f := range findings {
		if ok, rationale := a.Suppresses(f); ok {
			f.Message = f.Message + " (allowlisted: " + rationale + ")"
			suppressed = append(suppressed, f)
			continue
		}
		kept = append(kept, f)
	}
	return kept, suppressed
}
