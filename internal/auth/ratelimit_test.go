package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveIdentity_PrefersTrustedProxyIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon-1"})

	id := ResolveIdentity(r, "203.0.113.5", "user-1")
	assert.Equal(t, Identity{Kind: IdentityIP, Value: "203.0.113.5"}, id)
}

func TestResolveIdentity_FallsBackToUserID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	id := ResolveIdentity(r, "", "user-1")
	assert.Equal(t, Identity{Kind: IdentityUser, Value: "user-1"}, id)
}

func TestResolveIdentity_FallsBackToAnonCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon-1"})

	id := ResolveIdentity(r, "", "")
	assert.Equal(t, Identity{Kind: IdentityAnonymous, Value: "anon-1"}, id)
}

func TestResolveIdentity_DistinctIdentitiesNeverCollide(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	a := ResolveIdentity(r, "", "same-value")
	b := ResolveIdentity(r, "same-value", "")
	assert.NotEqual(t, a.String(), b.String(), "a user id and an IP with the same literal value must key different buckets")
}

func TestTrustedProxyIP_IgnoresUntrustedPeer(t *testing.T) {
	ip := TrustedProxyIP("10.0.0.1:5555", "203.0.113.9", map[string]bool{"10.0.0.2": true})
	assert.Empty(t, ip, "X-Forwarded-For from an untrusted peer must never be honored")
}

func TestTrustedProxyIP_HonorsTrustedPeer(t *testing.T) {
	ip := TrustedProxyIP("10.0.0.2:5555", "203.0.113.9, 10.0.0.2", map[string]bool{"10.0.0.2": true})
	assert.Equal(t, "203.0.113.9", ip)
}

func TestTrustedProxyIP_EmptyHeaderYieldsEmpty(t *testing.T) {
	ip := TrustedProxyIP("10.0.0.2:5555", "", map[string]bool{"10.0.0.2": true})
	assert.Empty(t, ip)
}
