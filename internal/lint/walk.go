package lint

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
)

// SourceFile is one parsed Go file ready for checking.
type SourceFile struct {
	Path    string
	Package string // import-path-relative package directory, e.g. "internal/httpapi"
	Fset    *token.FileSet
	AST     *ast.File
}

// CoreTenantPackages are the packages allowed to issue raw SQL directly
// against tenant-owned tables — everything else must route through
// them (the tenant-safety "repository usage" contract).
var CoreTenantPackages = map[string]bool{
	"internal/tenant":       true,
	"internal/store":        true,
	"internal/finance":      true,
	"internal/audit":        true,
	"internal/outbox":       true,
	"internal/jobs":         true,
	"internal/notify/webhook": true,
	"internal/auth":         true,
}

// Load parses every non-test .go file under root (recursively, skipping
// vendor, testdata, _examples, and dot-prefixed directories) for the
// three checkers to walk.
func Load(root string) ([]SourceFile, error) {
	var files []SourceFile
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			base := info.Name()
			if base == "vendor" || base == "testdata" || base == "_examples" || strings.HasPrefix(base, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		fset := token.NewFileSet()
		f, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		files = append(files, SourceFile{
			Path:    rel,
			Package: filepath.ToSlash(filepath.Dir(rel)),
			Fset:    fset,
			AST:     f,
		})
		return nil
	})
	return files, err
}

// enclosingFunc finds the function or method declaration whose body
// contains pos, for use as a Finding's Scope.
func enclosingFunc(file *ast.File, pos token.Pos) string {
	var name string
	ast.Inspect(file, func(n ast.Node) bool {
		fd, ok := n.(*ast.FuncDecl)
		if !ok {
			return true
		}
		if fd.Pos() <= pos && pos <= fd.End() {
			name = fd.Name.Name
		}
		return true
	})
	return name
}

func lit(e ast.Expr) (string, bool) {
	bl, ok := e.(*ast.BasicLit)
	if !ok || bl.Kind != token.STRING {
		return "", false
	}
	s := strings.Trim(bl.Value, "`\"")
	return s, true
}
