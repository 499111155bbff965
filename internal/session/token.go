package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "livechat"

// tokenCodec signs and verifies session cookie values. The cookie carries a
// JWT whose ID claim is the opaque session identifier, so a forged or
// tampered cookie is rejected before the session store is consulted.
type tokenCodec struct {
	secret []byte
}

func newTokenCodec(secret string) (tokenCodec, error) {
	if len(secret) < 32 {
		return tokenCodec{}, errors.New("session secret must be at least 32 bytes")
	}
	return tokenCodec{secret: []byte(secret)}, nil
}

func (c tokenCodec) sign(sessionID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// parse returns the session identifier embedded in a valid token.
func (c tokenCodec) parse(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.ID == "" {
		return "", fmt.Errorf("token has no session id")
	}
	return claims.ID, nil
}
