// Package auth issues short-lived service tokens the (out-of-scope) REST
// surface can validate when it calls back into core-owned admin operations,
// e.g. triggering emergency stop. This core never verifies inbound tokens —
// that's the REST layer's job — it only signs outbound ones.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenIssuer signs service tokens with a process-configured HMAC secret.
type TokenIssuer struct {
	secret        []byte
	algorithm     string
	expireMinutes int
}

func NewTokenIssuer(secret, algorithm string, expireMinutes int) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), algorithm: algorithm, expireMinutes: expireMinutes}
}

// IssueServiceToken returns a compact JWT asserting the given subject
// (typically "core:emergency-stop" or similar), expiring after the
// configured number of minutes.
func (t *TokenIssuer) IssueServiceToken(subject string) (string, error) {
	method := jwt.GetSigningMethod(t.algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported jwt algorithm %q", t.algorithm)
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(t.expireMinutes) * time.Minute)),
	}
	token := jwt.NewWithClaims(method, claims)
	return token.SignedString(t.secret)
}
