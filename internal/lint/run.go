package lint

// Run parses every Go file under root and evaluates all three
// contracts, applying allow against the raw findings before returning
// the final report.
func Run(root string, allow *Allowlist) (*Report, error) {
	files, err := Load(root)
	if err != nil {
		return nil, err
	}

	var all []Finding
	all = append(all, CheckTenantSafety(files)...)
	all = append(all, CheckDisjunctions(files)...)
	all = append(all, CheckAuthzContract(files)...)

	kept, suppressed := allow.Apply(all)
	report := &Report{Findings: kept, Suppressed: suppressed}
	report.Sort()
	return report, nil
}
