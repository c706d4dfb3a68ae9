package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	body := []byte(`{"eventType":"payout.created"}`)
	header := Sign("secret-1", time.Now(), body)

	err := Verify("secret-1", header, body, 5*time.Minute)
	require.NoError(t, err)
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"eventType":"payout.created"}`)
	header := Sign("secret-1", time.Now(), body)

	err := Verify("secret-1", header, []byte(`{"eventType":"payout.failed"}`), 5*time.Minute)
	assert.Error(t, err)
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{"eventType":"payout.created"}`)
	header := Sign("secret-1", time.Now(), body)

	err := Verify("other-secret", header, body, 5*time.Minute)
	assert.Error(t, err)
}

func TestVerify_RejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{"eventType":"payout.created"}`)
	header := Sign("secret-1", time.Now().Add(-10*time.Minute), body)

	err := Verify("secret-1", header, body, 5*time.Minute)
	assert.Error(t, err)
}

func TestVerify_RejectsMalformedHeader(t *testing.T) {
	err := Verify("secret-1", "garbage-header", []byte("{}"), 5*time.Minute)
	assert.Error(t, err)
}
