package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier(testSecret, "task-timer")
	require.NoError(t, err)

	token, err := v.Issue("user-1", time.Hour)
	require.NoError(t, err)
	uid, err := v.UserID(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier(testSecret, "task-timer")
	require.NoError(t, err)

	expired, err := v.Issue("user-1", -time.Minute)
	require.NoError(t, err)
	_, err = v.UserID(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier("ffffffffffffffffffffffffffffffff", "task-timer")
	require.NoError(t, err)
	forged, err := other.Issue("user-1", time.Hour)
	require.NoError(t, err)
	_, err = v.UserID(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewVerifier(testSecret, "someone-else")
	require.NoError(t, err)
	tok, err := wrongIssuer.Issue("user-1", time.Hour)
	require.NoError(t, err)
	_, err = v.UserID(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.UserID(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifier_ShortSecret(t *testing.T) {
	_, err := NewVerifier("short", "")
	assert.Error(t, err)
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/tasks/stream?taskId=t1&token=q", nil)
	tok, err := FromRequest(r, true)
	require.NoError(t, err)
	assert.Equal(t, "q", tok)

	_, err = FromRequest(r, false)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Bearer h")
	tok, err = FromRequest(r, true)
	require.NoError(t, err)
	assert.Equal(t, "h", tok)

	r.Header.Set("Authorization", "Basic abc")
	_, err = FromRequest(r, true)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
