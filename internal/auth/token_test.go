package auth

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestVerifyTokenRoundTrip(t *testing.T) {
	token, err := MintToken("test-secret", "user-1")
	assert.Equal(t, err, nil)

	v := NewTokenVerifier("test-secret")
	userID, err := v.VerifyToken(token)
	assert.Equal(t, err, nil)
	assert.Equal(t, userID, "user-1")
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	token, err := MintToken("test-secret", "user-1")
	assert.Equal(t, err, nil)

	v := NewTokenVerifier("other-secret")
	_, err = v.VerifyToken(token)
	assert.NotEqual(t, err, nil)
}

func TestVerifyTokenGarbage(t *testing.T) {
	v := NewTokenVerifier("test-secret")
	_, err := v.VerifyToken("not-a-token")
	assert.NotEqual(t, err, nil)
}
