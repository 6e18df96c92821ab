package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func TestJWTRoundTrip(t *testing.T) {
	token, err := SignJWT(testSecret, TokenClaims{Sub: "owner-1", Exp: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	claims, err := VerifyJWT(testSecret, token)
	require.NoError(t, err)
	require.Equal(t, "owner-1", claims.Sub)
}

func TestVerifyJWTRejects(t *testing.T) {
	expired, err := SignJWT(testSecret, TokenClaims{Sub: "owner-1", Exp: time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, err)
	_, err = VerifyJWT(testSecret, expired)
	require.Error(t, err)

	forged, err := SignJWT("some-other-secret", TokenClaims{Sub: "owner-1"})
	require.NoError(t, err)
	_, err = VerifyJWT(testSecret, forged)
	require.Error(t, err)

	_, err = VerifyJWT(testSecret, "not.a.token.at.all")
	require.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	var gotOwner string
	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner = OwnerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := SignJWT(testSecret, TokenClaims{Sub: "owner-7", Exp: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "owner-7", gotOwner)

	for _, header := range []string{"", "Basic dXNlcg==", "Bearer bogus"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "header: %q", header)
	}
}
