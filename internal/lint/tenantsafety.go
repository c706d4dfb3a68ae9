package lint

import (
	"go/ast"
	"strings"
)

// requestReadMethods are the calls that pull a value out of the
// incoming request body or query string rather than the tenant
// context.
var requestReadMethods = map[string]bool{
	"FormValue":     true,
	"PostFormValue": true,
	"PathValue":     true,
	"Get":           true, // url.Values.Get / http.Header.Get
}

// tenantIDSpellings catches the common renderings of the tenant id
// field/param name a handler might read off a request.
var tenantIDSpellings = map[string]bool{
	"tenant_id": true,
	"tenantid":  true,
	"tenant-id": true,
	"tenantId":  true,
}

// rawQueryMethods are sql.DB/sql.Tx methods that issue SQL directly,
// bypassing the tenant-scoped repository.
var rawQueryMethods = map[string]bool{
	"Query":        true,
	"QueryContext": true,
	"QueryRow":     true,
	"QueryRowContext": true,
	"Exec":         true,
	"ExecContext":  true,
}

// CheckTenantSafety implements spec §4.I contract 1: handlers/services
// must derive tenant id only from context, and must not issue raw SQL
// against tenant-owned tables outside the designated core packages.
func CheckTenantSafety(files []SourceFile) []Finding {
	var findings []Finding
	for _, f := range files {
		ast.Inspect(f.AST, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}

			if requestReadMethods[sel.Sel.Name] && len(call.Args) > 0 {
				if s, ok := lit(call.Args[0]); ok && tenantIDSpellings[strings.ToLower(s)] {
					pos := f.Fset.Position(call.Pos())
					findings = append(findings, Finding{
						Rule:  RuleTenantSafety,
						File:  f.Path,
						Line:  pos.Line,
						Scope: enclosingFunc(f.AST, call.Pos()),
						Message: "tenant id must come from the context-derived tenant, not request " +
							sel.Sel.Name + "(\"" + s + "\")",
					})
				}
			}

			if rawQueryMethods[sel.Sel.Name] && !CoreTenantPackages[f.Package] {
				if mentionsTenantTable(call) {
					pos := f.Fset.Position(call.Pos())
					findings = append(findings, Finding{
						Rule:  RuleTenantSafety,
						File:  f.Path,
						Line:  pos.Line,
						Scope: enclosingFunc(f.AST, call.Pos()),
						Message: "raw SQL against a tenant-owned table outside the tenant-aware repository layer; " +
							"use internal/tenant.Repository or a core package method instead",
					})
				}
			}
			return true
		})
	}
	return findings
}

// tenantOwnedTables are the tables a tenant-scoped repository governs;
// any file outside CoreTenantPackages issuing raw SQL against one of
// these has bypassed the tenant-aware base.
var tenantOwnedTables = []string{
	"transactions", "employee_wallets", "payouts", "audit_log",
	"webhooks", "webhook_deliveries", "jobs", "outbox_events",
	"recurring_transaction_rules",
}

func mentionsTenantTable(call *ast.CallExpr) bool {
	for _, arg := range call.Args {
		s, ok := lit(arg)
		if !ok {
			continue
		}
		lower := strings.ToLower(s)
		for _, t := range tenantOwnedTables {
			if strings.Contains(lower, t) {
				return true
			}
		}
	}
	return false
}
