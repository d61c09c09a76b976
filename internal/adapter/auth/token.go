// Package auth authenticates bearer tokens issued by the OAuth2 provider
// and resolves them to the account they were issued for.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "account-service/internal/domain/user"
	pkgerrors "account-service/pkg/errors"
)

// Token is what the provider tells us about an access token.
type Token struct {
	Active    bool      `json:"active"`
	Subject   string    `json:"sub,omitempty"`
	Username  string    `json:"username,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Verifier checks a raw access token. Invalid, expired or revoked tokens
// yield an UnauthorizedError; a provider failure yields a ProviderError.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Token, error)
}

// ProviderError means the token could not be checked at all.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("authorization server unavailable: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatus returns 503
func (e *ProviderError) HTTPStatus() int { return http.StatusServiceUnavailable }

var errInvalidToken = pkgerrors.NewUnauthorizedError("Invalid token.")

// UserLookup is the slice of the user store the resolver needs.
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Authenticator turns a bearer token into the Actor it speaks for.
type Authenticator struct {
	verifier Verifier
	users    UserLookup
	log      *zap.Logger
}

// NewAuthenticator creates a new Authenticator.
func NewAuthenticator(verifier Verifier, users UserLookup, log *zap.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, users: users, log: log}
}

// Authenticate verifies raw and resolves the account. A numeric subject is
// taken as the account ID; otherwise the username is the account email.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (domain.Actor, error) {
	tok, err := a.verifier.Verify(ctx, raw)
	if err != nil {
		return domain.Actor{}, err
	}
	if !tok.Active {
		return domain.Actor{}, errInvalidToken
	}

	actor := domain.Actor{ClientID: tok.ClientID, Scope: tok.Scope}

	if id, err := strconv.ParseInt(tok.Subject, 10, 64); err == nil && id > 0 {
		actor.UserID = id
		return actor, nil
	}

	username := strings.TrimSpace(tok.Username)
	if username == "" {
		// client credentials grant: no resource owner
		a.log.Debug("token has no resource owner", zap.String("client_id", tok.ClientID))
		return domain.Actor{}, errInvalidToken
	}

	u, err := a.users.GetByEmail(ctx, domain.NormalizeEmail(username))
	if err != nil {
		var notFound *pkgerrors.NotFoundError
		if errors.As(err, &notFound) {
			a.log.Warn("token owner has no account", zap.String("username", username))
			return domain.Actor{}, pkgerrors.NewUnauthorizedError("user not found")
		}
		return domain.Actor{}, err
	}

	actor.UserID = u.ID
	return actor, nil
}
