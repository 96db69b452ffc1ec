package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates bearer tokens and extracts the user id claim.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for HMAC-signed tokens
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// VerifyToken validates the signature and returns the user id carried in
// the token. Accepts the id under "id", "_id" or "userId" so tokens minted
// by older auth services keep working.
func (v *TokenVerifier) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}

	for _, key := range []string{"id", "_id", "userId"} {
		if id, ok := claims[key].(string); ok && id != "" {
			return id, nil
		}
	}

	return "", fmt.Errorf("token carries no user id claim")
}

// MintToken signs a token for the given user id.
// Used by tests and local tooling; the production auth service mints its own.
func MintToken(secret, userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
	})
	return token.SignedString([]byte(secret))
}
