package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ocx/opscore/internal/apierr"
	"github.com/ocx/opscore/internal/auth"
	"github.com/ocx/opscore/internal/store"
	"github.com/ocx/opscore/internal/tenant"
)

// AuthHandlers wires the auth package's domain functions to HTTP.
type AuthHandlers struct {
	DB     *store.DB
	Issuer *auth.TokenIssuer
}

// refreshCookieName is an HttpOnly alternative to returning the refresh
// token in the response body, for browser clients. API/mobile clients
// keep using the body field instead; whichever is present wins.
const refreshCookieName = "ocx_refresh"

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenantId"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.Validation("malformed request body"))
		return
	}
	if body.TenantID == "" || body.Email == "" || body.Password == "" {
		writeError(w, r, apierr.Validation("tenantId, email, and password are required"))
		return
	}

	u, err := auth.Register(r.Context(), h.DB, body.TenantID, auth.RegisterInput{
		Email: body.Email, Password: body.Password, Role: "member",
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"id": u.ID, "email": u.Email})
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID string `json:"tenantId"`
		Email    string `json:"email"`
		Password string `json:"password"`
		MFACode  string `json:"mfaCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apierr.Validation("malformed request body"))
		return
	}

	u, err := auth.Login(r.Context(), h.DB, auth.LoginInput{
		TenantID: body.TenantID, Email: body.Email, Password: body.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	mfaPassed := !u.MFAEnabled
	if u.MFAEnabled {
		if body.MFACode == "" {
			writeData(w, http.StatusOK, map[string]any{"mfaRequired": true})
			return
		}
		usedIndex, err := auth.MFAChallenge(u.MFASecretEncrypted, u.MFARecoveryCodes, body.MFACode)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if usedIndex >= 0 {
			if err := auth.ConsumeRecoveryCode(r.Context(), h.DB, u, usedIndex); err != nil {
				writeError(w, r, err)
				return
			}
		}
		mfaPassed = true
	}

	h.issueSession(w, r, u, mfaPassed)
}

func (h *AuthHandlers) issueSession(w http.ResponseWriter, r *http.Request, u auth.User, mfaPassed bool) {
	access, err := h.Issuer.IssueAccess(u.ID, u.TenantID, u.Role, mfaPassed)
	if err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	refresh, refreshHash, err := h.Issuer.NewRefreshToken()
	if err != nil {
		writeError(w, r, apierr.Internal(err))
		return
	}
	if err := auth.StoreRefreshToken(r.Context(), h.DB, u.TenantID, u.ID, refreshHash, h.Issuer.RefreshTTL()); err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name: refreshCookieName, Value: refresh, HttpOnly: true, Path: "/auth/refresh",
		SameSite: http.SameSiteLaxMode, MaxAge: int(h.Issuer.RefreshTTL().Seconds()),
	})
	writeData(w, http.StatusOK, tokenPair{AccessToken: access, RefreshToken: refresh})
}

func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	rawToken, fromCookie := refreshTokenFromRequest(r)
	if rawToken == "" {
		writeError(w, r, apierr.Validation("refreshToken is required"))
		return
	}
	// A cookie-borne refresh token is auto-attached by the browser, so it
	// carries the same CSRF exposure as any other cookie-authenticated
	// state-changing request; a body-supplied token has no such exposure.
	if fromCookie && !auth.VerifyCSRF(r) {
		writeError(w, r, apierr.Forbidden("CSRF validation failed"))
		return
	}

	tenantID, userID, err := auth.RotateRefreshToken(r.Context(), h.DB, auth.HashRefreshToken(rawToken))
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Refresh tokens carry no role claim, so the rotated access token is
	// re-derived from the current user row.
	u, err := auth.UserByTenantAndID(r.Context(), h.DB, tenantID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.issueSession(w, r, u, true)
}

// refreshTokenFromRequest prefers the HttpOnly cookie over the JSON body
// so a browser client never needs to read the refresh token into JS.
func refreshTokenFromRequest(r *http.Request) (token string, fromCookie bool) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body.RefreshToken, false
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	u, err := auth.UserByID(r.Context(), h.DB, tenant.UserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"id": u.ID, "email": u.Email, "role": u.Role, "mfaEnabled": u.MFAEnabled,
	})
}
