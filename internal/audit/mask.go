package audit

import "strings"

// DefaultSensitiveFields is the configurable sensitive-field set the
// masker checks keys against (case-insensitive, substring match) before
// an entry ever leaves the producer.
var DefaultSensitiveFields = []string{
	"password",
	"token",
	"secret",
	"ssn",
	"mfa_secret",
	"recovery_code",
	"card_number",
	"cvv",
}

const redactedValue = "***REDACTED***"

// Masker recursively walks a values map and replaces any key matching the
// sensitive-field set with a redacted placeholder. It runs at the
// producer, before the entry is enqueued, so unmasked PII never reaches
// the audit queue or the database.
type Masker struct {
	sensitive []string
}

// NewMasker builds a Masker over the given sensitive-field substrings. A
// nil/empty slice falls back to DefaultSensitiveFields.
func NewMasker(sensitiveFields []string) *Masker {
	if len(sensitiveFields) == 0 {
		sensitiveFields = DefaultSensitiveFields
	}
	lowered := make([]string, len(sensitiveFields))
	for i, f := range sensitiveFields {
		lowered[i] = strings.ToLower(f)
	}
	return &Masker{sensitive: lowered}
}

// Mask returns a new map with sensitive values replaced. nil in, nil out.
func (m *Masker) Mask(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		if m.isSensitiveKey(k) {
			out[k] = redactedValue
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = m.Mask(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func (m *Masker) isSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, s := range m.sensitive {
		if strings.Contains(lowered, s) {
			return true
		}
	}
	return false
}

// MaskEntry masks OldValues and NewValues in place on a copy of e.
func (m *Masker) MaskEntry(e Entry) Entry {
	e.OldValues = m.Mask(e.OldValues)
	e.NewValues = m.Mask(e.NewValues)
	return e
}
