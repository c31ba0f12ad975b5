package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sacenox/jarvis-core/internal/oauth"
)

// CopilotCredentials holds the long-lived GitHub token and the short-lived
// Copilot session token exchanged from it.
type CopilotCredentials struct {
	GitHubToken  string `json:"github_token"`
	SessionToken string `json:"session_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds, session token expiry
}

// IsExpired reports whether the session token is expired or within a
// 1-minute safety buffer of expiring; the GitHub token itself does not expire.
func (c *CopilotCredentials) IsExpired() bool {
	if c.ExpiresAt == 0 {
		return true
	}
	return time.Now().Unix() >= c.ExpiresAt-60
}

func copilotCredentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".jarvis-core", "copilot-credentials.json"), nil
}

// GetCopilotCredentials loads previously-saved Copilot credentials.
func GetCopilotCredentials() (*CopilotCredentials, error) {
	path, err := copilotCredentialsPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no saved Copilot credentials: %w", err)
	}

	var creds CopilotCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse Copilot credentials: %w", err)
	}
	if creds.GitHubToken == "" {
		return nil, fmt.Errorf("invalid Copilot credentials: missing github_token")
	}
	return &creds, nil
}

// SaveCopilotCredentials persists creds to the user's config directory.
func SaveCopilotCredentials(creds *CopilotCredentials) error {
	path, err := copilotCredentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal Copilot credentials: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// RefreshCopilotSessionToken exchanges the cached GitHub token for a fresh
// Copilot session token in place, then persists the result. The GitHub token
// itself is long-lived and is not refreshed here.
func RefreshCopilotSessionToken(creds *CopilotCredentials) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, expiresAt, err := oauth.ExchangeCopilotSessionToken(ctx, creds.GitHubToken)
	if err != nil {
		return err
	}
	creds.SessionToken = session
	creds.ExpiresAt = expiresAt
	return SaveCopilotCredentials(creds)
}
