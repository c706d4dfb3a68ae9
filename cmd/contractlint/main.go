// Command contractlint is the CI-time static contract checker for the
// core: tenant safety, bracketed disjunctions, and the authorization
// contract (spec §4.I). It is never run in production — only in CI.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ocx/opscore/internal/lint"
)

func main() {
	root := flag.String("root", ".", "module root to scan")
	allowlistPath := flag.String("allowlist", "lint/allowlist.yaml", "path to the allowlist file")
	flag.Parse()

	allow, err := lint.LoadAllowlist(*allowlistPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "contractlint:", err)
		os.Exit(2)
	}

	report, err := lint.Run(*root, allow)
	if err != nil {
		fmt.Fprintln(os.Stderr, "contractlint:", err)
		os.Exit(2)
	}

	out, err := report.JSON()
	if err != nil {
		fmt.Fprintln(os.Stderr, "contractlint:", err)
		os.Exit(2)
	}
	fmt.Println(string(out))

	if report.Failed() {
		os.Exit(1)
	}
}
