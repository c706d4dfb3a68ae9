package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMasker_RedactsSensitiveKeys(t *testing.T) {
	m := NewMasker(nil)
	out := m.Mask(map[string]any{
		"email":         "jane@example.com",
		"password_hash": "abc123",
		"mfa_secret":    "JBSWY3DPEHPK3PXP",
	})

	assert.Equal(t, "jane@example.com", out["email"])
	assert.Equal(t, redactedValue, out["password_hash"])
	assert.Equal(t, redactedValue, out["mfa_secret"])
}

func TestMasker_RedactsNestedMaps(t *testing.T) {
	m := NewMasker(nil)
	out := m.Mask(map[string]any{
		"profile": map[string]any{
			"ssn":  "123-45-6789",
			"name": "Jane Doe",
		},
	})

	nested := out["profile"].(map[string]any)
	assert.Equal(t, redactedValue, nested["ssn"])
	assert.Equal(t, "Jane Doe", nested["name"])
}

func TestMasker_NilInNilOut(t *testing.T) {
	m := NewMasker(nil)
	assert.Nil(t, m.Mask(nil))
}

func TestMasker_CustomFieldList(t *testing.T) {
	m := NewMasker([]string{"custom_field"})
	out := m.Mask(map[string]any{
		"custom_field":  "sensitive",
		"password_hash": "not redacted under a custom list",
	})

	assert.Equal(t, redactedValue, out["custom_field"])
	assert.Equal(t, "not redacted under a custom list", out["password_hash"])
}

func TestMaskEntry_MasksBothValueSets(t *testing.T) {
	m := NewMasker(nil)
	e := Entry{
		TenantID:  "tenant-1",
		Action:    "user.update",
		OldValues: map[string]any{"token": "old-token"},
		NewValues: map[string]any{"token": "new-token"},
	}

	masked := m.MaskEntry(e)
	assert.Equal(t, redactedValue, masked.OldValues["token"])
	assert.Equal(t, redactedValue, masked.NewValues["token"])
}
