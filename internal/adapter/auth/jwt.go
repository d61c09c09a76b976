package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims. Subject is the account ID.
type Claims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Username string `json:"username,omitempty"`
}

// JWTVerifier validates HS256 self-contained access tokens.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJWTVerifier creates a verifier. Empty issuer or audience are not checked.
func NewJWTVerifier(secret, issuer, audience string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, audience: audience}
}

// Verify parses raw and checks signature, expiry, issuer and audience.
func (v *JWTVerifier) Verify(_ context.Context, raw string) (*Token, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}

	tok := &Token{
		Active:   true,
		Subject:  claims.Subject,
		Username: claims.Username,
		ClientID: claims.ClientID,
		Scope:    claims.Scope,
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return tok, nil
}
