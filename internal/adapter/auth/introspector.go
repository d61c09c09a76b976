package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// introspectionResponse is the RFC 7662 response body.
type introspectionResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Sub      string `json:"sub"`
	Exp      int64  `json:"exp"`
}

// Introspector validates access tokens against the provider's RFC 7662
// introspection endpoint, authenticating as a confidential client.
type Introspector struct {
	url          string
	clientID     string
	clientSecret string
	client       *http.Client
}

// NewIntrospector creates an introspector that POSTs to the given URL.
func NewIntrospector(url, clientID, clientSecret string, client *http.Client) *Introspector {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Introspector{
		url:          url,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       client,
	}
}

// Verify asks the provider about raw.
func (i *Introspector) Verify(ctx context.Context, raw string) (*Token, error) {
	form := url.Values{
		"token":           {raw},
		"token_type_hint": {"access_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build introspect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if i.clientID != "" {
		req.SetBasicAuth(url.QueryEscape(i.clientID), url.QueryEscape(i.clientSecret))
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("introspect request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Err: fmt.Errorf("introspect returned %s", resp.Status)}
	}

	var body introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &ProviderError{Err: fmt.Errorf("decode introspect response: %w", err)}
	}

	if !body.Active {
		return nil, errInvalidToken
	}

	tok := &Token{
		Active:   true,
		Subject:  body.Sub,
		Username: body.Username,
		ClientID: body.ClientID,
		Scope:    body.Scope,
	}
	if body.Exp > 0 {
		tok.ExpiresAt = time.Unix(body.Exp, 0).UTC()
		if !tok.ExpiresAt.After(time.Now()) {
			return nil, errInvalidToken
		}
	}
	return tok, nil
}
