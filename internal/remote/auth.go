package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"cartsync/internal/service/session"
)

// AuthAPI calls the authentication service. It never attaches a bearer token.
type AuthAPI struct {
	client *Client
}

// NewAuthAPI shares transport and logging with c but sends anonymous requests.
func NewAuthAPI(c *Client) *AuthAPI {
	anon := *c
	anon.auth = nil
	return &AuthAPI{client: &anon}
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Login posts credentials to /auth/login.
func (a *AuthAPI) Login(ctx context.Context, email, password string) (session.Tokens, error) {
	body, err := a.client.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return session.Tokens{}, err
	}
	return decodeTokens(body)
}

// Refresh exchanges a refresh token at /auth/refresh.
func (a *AuthAPI) Refresh(ctx context.Context, refreshToken string) (session.Tokens, error) {
	body, err := a.client.do(ctx, http.MethodPost, "/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	})
	if err != nil {
		return session.Tokens{}, err
	}
	return decodeTokens(body)
}

func decodeTokens(body []byte) (session.Tokens, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return session.Tokens{}, fmt.Errorf("decode tokens: %w", err)
	}
	access := resp.AccessToken
	if access == "" {
		access = resp.Token
	}
	if access == "" {
		return session.Tokens{}, errors.New("auth response carries no access token")
	}
	return session.Tokens{AccessToken: access, RefreshToken: resp.RefreshToken}, nil
}
