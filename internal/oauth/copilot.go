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

// CopilotProviderKey is the cache key for the Copilot device-code flow.
const CopilotProviderKey = "copilot"

const (
	copilotClientID        = "01ab8ac9400c4e429b23"
	copilotDeviceCodeURL    = "https://github.com/login/device/code"
	copilotAccessTokenURL   = "https://github.com/login/oauth/access_token"
	copilotInternalTokenURL = "https://api.github.com/copilot_internal/v2/token"
	copilotScope            = "read:user"
)

// CopilotCredentials is what AuthenticateCopilot returns: a long-lived
// GitHub OAuth token plus the short-lived Copilot session token exchanged
// from it.
type CopilotCredentials struct {
	GitHubToken  string
	SessionToken string
	ExpiresAt    int64 // unix seconds, session token expiry
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type accessTokenResponse struct {
	AccessToken      string `json:"access_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// AuthenticateCopilot runs GitHub's device-code flow: requests a device code,
// prints the verification URL and user code for the operator to enter in a
// browser, then polls until the token is approved.
func AuthenticateCopilot(ctx context.Context) (*CopilotCredentials, error) {
	device, err := requestCopilotDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Go to %s and enter code: %s\n", device.VerificationURI, device.UserCode)

	interval := time.Duration(device.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(device.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		token, err := pollCopilotAccessToken(ctx, device.DeviceCode)
		if err != nil {
			return nil, err
		}
		if token == "" {
			continue // authorization_pending
		}

		session, expiresAt, err := ExchangeCopilotSessionToken(ctx, token)
		if err != nil {
			return nil, err
		}
		return &CopilotCredentials{
			GitHubToken:  token,
			SessionToken: session,
			ExpiresAt:    expiresAt,
		}, nil
	}

	return nil, fmt.Errorf("copilot device code authorization timed out")
}

func requestCopilotDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	form := url.Values{}
	form.Set("client_id", copilotClientID)
	form.Set("scope", copilotScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, copilotDeviceCodeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}
	defer resp.Body.Close()

	var device deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&device); err != nil {
		return nil, fmt.Errorf("parse device code response: %w", err)
	}
	if device.DeviceCode == "" {
		return nil, fmt.Errorf("github did not return a device code")
	}
	return &device, nil
}

func pollCopilotAccessToken(ctx context.Context, deviceCode string) (string, error) {
	form := url.Values{}
	form.Set("client_id", copilotClientID)
	form.Set("device_code", deviceCode)
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, copilotAccessTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build access token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("poll access token: %w", err)
	}
	defer resp.Body.Close()

	var tok accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("parse access token response: %w", err)
	}
	switch tok.Error {
	case "":
		return tok.AccessToken, nil
	case "authorization_pending", "slow_down":
		return "", nil
	default:
		return "", fmt.Errorf("copilot device code error: %s (%s)", tok.Error, tok.ErrorDescription)
	}
}

type copilotInternalTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// ExchangeCopilotSessionToken exchanges a long-lived GitHub OAuth token for a
// short-lived Copilot API session token, which is what must actually be sent
// as the bearer credential on completion requests.
func ExchangeCopilotSessionToken(ctx context.Context, githubToken string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, copilotInternalTokenURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build copilot token request: %w", err)
	}
	req.Header.Set("Authorization", "token "+githubToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("exchange copilot session token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("copilot session token exchange failed (HTTP %d)", resp.StatusCode)
	}

	var tok copilotInternalTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", 0, fmt.Errorf("parse copilot session token response: %w", err)
	}
	if tok.Token == "" {
		return "", 0, fmt.Errorf("copilot session token response missing token")
	}
	return tok.Token, tok.ExpiresAt, nil
}
