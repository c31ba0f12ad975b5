package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClaudeProviderKey is the cache key for the Claude-CLI (Anthropic) OAuth
// flow, grounded on original_source's claude_cli::PROVIDER_KEY.
const ClaudeProviderKey = "claude-cli"

const (
	claudeClientID     = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	claudeAuthorizeURL = "https://claude.ai/oauth/authorize"
	claudeTokenURL     = "https://console.anthropic.com/v1/oauth/token"
	claudeScopes       = "org:create_api_key user:profile user:inference user:sessions:claude_code"
	claudeClientHint   = "claude-code"
)

// ClaudeAuthURL builds the authorization URL for the Claude CLI OAuth flow.
func ClaudeAuthURL(pkce PKCE, state, redirectURI string) string {
	q := url.Values{}
	q.Set("code", "true")
	q.Set("client_id", claudeClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", claudeScopes)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", state)
	q.Set("client", claudeClientHint)
	return claudeAuthorizeURL + "?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ClaudeExchangeCode exchanges an authorization code (format "code#state",
// per the Claude CLI redirect convention) for OAuth credentials.
func ClaudeExchangeCode(ctx context.Context, authCode string, pkce PKCE, redirectURI string) (Credentials, error) {
	parts := strings.SplitN(authCode, "#", 2)
	if len(parts) != 2 {
		return Credentials{}, fmt.Errorf("invalid authorization code format, expected %q, got %q", "code#state", truncate(authCode, 20))
	}
	code, state := parts[0], parts[1]

	body, err := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     claudeClientID,
		"code":          code,
		"state":         state,
		"redirect_uri":  redirectURI,
		"code_verifier": pkce.Verifier,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("marshal token exchange request: %w", err)
	}

	tok, err := postToken(ctx, body)
	if err != nil {
		return Credentials{}, err
	}
	return tokenToCredentials(tok), nil
}

// ClaudeRefresh exchanges a refresh token for a new access token.
func ClaudeRefresh(ctx context.Context, refreshToken string) (Credentials, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     claudeClientID,
		"refresh_token": refreshToken,
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("marshal token refresh request: %w", err)
	}

	tok, err := postToken(ctx, body)
	if err != nil {
		return Credentials{}, err
	}
	return tokenToCredentials(tok), nil
}

func postToken(ctx context.Context, body []byte) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeTokenURL, strings.NewReader(string(body)))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("send token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenResponse{}, fmt.Errorf("token exchange failed (HTTP %d)", resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return tokenResponse{}, fmt.Errorf("parse token response: %w", err)
	}
	return tok, nil
}

func tokenToCredentials(tok tokenResponse) Credentials {
	// 5-minute buffer before expiry, per original_source's exchange_code/refresh_token.
	expiresAt := time.Now().UnixMilli() + tok.ExpiresIn*1000 - 5*60*1000
	return Credentials{
		CredType:  "oauth",
		Refresh:   tok.RefreshToken,
		Access:    tok.AccessToken,
		ExpiresMs: expiresAt,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
