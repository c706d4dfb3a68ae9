package lint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, relPath, src string) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(src), 0o644))
}

func TestCheckTenantSafety_FlagsTenantIDFromRequest(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "internal/widgets/handler.go", `package widgets

import "net/http"

func handle(r *http.Request) {
	tenantID := r.FormValue("tenantId")
	_ = tenantID
}
`)

	files, err := Load(dir)
	require.NoError(t, err)

	findings := CheckTenantSafety(files)
	require.Len(t, findings, 1)
	assert.Equal(t, RuleTenantSafety, findings[0].Rule)
	assert.Contains(t, findings[0].Message, "FormValue")
}

func TestCheckTenantSafety_FlagsRawSQLOutsideCorePackages(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "internal/widgets/repo.go", `package widgets

import (
	"context"
	"database/sql"
)

func listPayouts(ctx context.Context, db *sql.DB, tenantID string) {
	db.QueryContext(ctx, "SELECT * FROM payouts WHERE tenant_id = $1", tenantID)
}
`)

	files, err := Load(dir)
	require.NoError(t, err)

	findings := CheckTenantSafety(files)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Message, "tenant-aware repository")
}

func TestCheckTenantSafety_AllowsRawSQLInsideCorePackage(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "internal/finance/repo.go", `package finance

import (
	"context"
	"database/sql"
)

func listPayouts(ctx context.Context, db *sql.DB, tenantID string) {
	db.QueryContext(ctx, "SELECT * FROM payouts WHERE tenant_id = $1", tenantID)
}
`)

	files, err := Load(dir)
	require.NoError(t, err)

	findings := CheckTenantSafety(files)
	assert.Empty(t, findings)
}

func TestLoadAllowlist_RejectsEntryWithoutRationale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allowlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
allow:
  - file: internal/widgets/repo.go
    rule: tenant-safety
`), 0o644))

	_, err := LoadAllowlist(path)
	assert.Error(t, err)
}

func TestLoadAllowlist_MissingFileIsEmptyNotError(t *testing.T) {
	a, err := LoadAllowlist(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, a.Allow)
}

func TestAllowlist_SuppressesMatchingFinding(t *testing.T) {
	a := &Allowlist{Allow: []AllowEntry{
		{File: "internal/widgets/repo.go", Rule: RuleTenantSafety, Rationale: "legacy migration shim, ticket OCX-482"},
	}}
	findings := []Finding{{File: "internal/widgets/repo.go", Rule: RuleTenantSafety, Message: "raw SQL"}}

	kept, suppressed := a.Apply(findings)
	assert.Empty(t, kept)
	require.Len(t, suppressed, 1)
	assert.Contains(t, suppressed[0].Message, "OCX-482")
}

func TestRun_EndToEnd_ProducesSortedReport(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "internal/widgets/b.go", `package widgets

import "net/http"

func handleB(r *http.Request) {
	_ = r.FormValue("tenantId")
}
`)
	writeFixture(t, dir, "internal/widgets/a.go", `package widgets

import "net/http"

func handleA(r *http.Request) {
	_ = r.FormValue("tenant_id")
}
`)

	report, err := Run(dir, &Allowlist{})
	require.NoError(t, err)
	require.Len(t, report.Findings, 2)
	assert.True(t, report.Failed())
	assert.Equal(t, "internal/widgets/a.go", report.Findings[0].File)
	assert.Equal(t, "internal/widgets/b.go", report.Findings[1].File)
}
