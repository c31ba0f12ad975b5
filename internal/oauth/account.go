package oauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// accountClaims is the subset of JWT payload claims the provider issuers use
// to carry an account identifier. Different providers nest it at different
// claim paths; DecodeAccountID tries each in turn.
type accountClaims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id,omitempty"`
	Account   struct {
		UUID string `json:"uuid,omitempty"`
	} `json:"account,omitempty"`
}

// DecodeAccountID extracts an account identifier from an OAuth access token
// that is a JWT, without verifying its signature (the token was already
// obtained over a trusted TLS channel from the provider; this only reads a
// claim for display/bookkeeping). Grounded on original_source's
// decode_account_id.
func DecodeAccountID(token string) (string, error) {
	parser := jwt.NewParser()
	var claims accountClaims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("decode account id from token: %w", err)
	}
	if claims.AccountID != "" {
		return claims.AccountID, nil
	}
	if claims.Account.UUID != "" {
		return claims.Account.UUID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", fmt.Errorf("no account id claim found in token")
}
