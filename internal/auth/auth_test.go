package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, "teacher-1", "teacher", time.Hour)
	require.NoError(t, err)

	caller, err := Parse(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", caller.Subject)
	assert.Equal(t, "teacher", caller.Role)

	_, err = Parse([]byte("other-secret"), token)
	assert.Error(t, err)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, "teacher-1", "teacher", -time.Minute)
	require.NoError(t, err)

	// a negative ttl means no expiry
	_, err = Parse(secret, token)
	assert.NoError(t, err)

	token, err = Issue(secret, "teacher-1", "teacher", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = Parse(secret, token)
	assert.Error(t, err)
}

func TestIssueNeedsSecret(t *testing.T) {
	_, err := Issue(nil, "u", "", 0)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/query", nil)
	_, err := BearerToken(req)
	assert.ErrorIs(t, err, ErrNoToken)

	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	token, err := BearerToken(req)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = BearerToken(req)
	assert.Error(t, err)
}
