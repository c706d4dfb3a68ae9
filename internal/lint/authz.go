package lint

import (
	"go/ast"
)

var stateChangingMethods = map[string]bool{
	"\"POST\"":   true,
	"\"PUT\"":    true,
	"\"PATCH\"":  true,
	"\"DELETE\"": true,
}

// authGuardWrappers are the recognized ways a route handler declares its
// auth posture. requireAuth/requireRole wrap a handler in the bearer-token
// check; publicEndpoint is the explicit opt-out. A publicEndpoint wrapper
// passes the contract on its own: the check does not look for an
// allowlist rationale for it.
var authGuardWrappers = map[string]bool{
	"requireAuth":    true,
	"requireRole":    true,
	"publicEndpoint": true,
}

// CheckAuthzContract implements spec §4.I contract 3: every
// state-changing route registration's handler expression must be
// wrapped in one of authGuardWrappers.
func CheckAuthzContract(files []SourceFile) []Finding {
	var findings []Finding
	for _, f := range files {
		ast.Inspect(f.AST, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || sel.Sel.Name != "Methods" {
				return true
			}
			if !anyStateChangingArg(call.Args) {
				return true
			}
			route, ok := sel.X.(*ast.CallExpr)
			if !ok {
				return true
			}
			routeSel, ok := route.Fun.(*ast.SelectorExpr)
			if !ok || (routeSel.Sel.Name != "HandleFunc" && routeSel.Sel.Name != "Handle") {
				return true
			}
			if len(route.Args) < 2 || guardedHandler(route.Args[1]) {
				return true
			}
			pos := f.Fset.Position(call.Pos())
			findings = append(findings, Finding{
				Rule:  RuleAuthzContract,
				File:  f.Path,
				Line:  pos.Line,
				Scope: enclosingFunc(f.AST, call.Pos()),
				Message: "state-changing route has no auth guard; wrap the handler in requireAuth/" +
					"requireRole, or publicEndpoint with an allowlist rationale",
			})
			return true
		})
	}
	return findings
}

func anyStateChangingArg(args []ast.Expr) bool {
	for _, a := range args {
		bl, ok := a.(*ast.BasicLit)
		if !ok {
			continue
		}
		if stateChangingMethods[bl.Value] {
			return true
		}
	}
	return false
}

func guardedHandler(handler ast.Expr) bool {
	call, ok := handler.(*ast.CallExpr)
	if !ok {
		return false
	}
	ident, ok := call.Fun.(*ast.Ident)
	if !ok {
		return authGuardWrappers[selectorName(call.Fun)]
	}
	return authGuardWrappers[ident.Name]
}

func selectorName(e ast.Expr) string {
	sel, ok := e.(*ast.SelectorExpr)
	if !ok {
		return ""
	}
	return sel.Sel.Name
}
