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

// ChatGPTCredentials holds the token pair and backend account ID cached on
// disk after a successful AuthenticateChatGPT run.
type ChatGPTCredentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix millis
	AccountID    string `json:"account_id"`
}

// IsExpired reports whether the access token is expired or within a 5-minute
// safety buffer of expiring.
func (c *ChatGPTCredentials) IsExpired() bool {
	if c.ExpiresAt == 0 {
		return false
	}
	return time.Now().UnixMilli() >= c.ExpiresAt-5*60*1000
}

func chatGPTCredentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".jarvis-core", "chatgpt-credentials.json"), nil
}

// GetChatGPTCredentials loads previously-saved ChatGPT OAuth credentials.
func GetChatGPTCredentials() (*ChatGPTCredentials, error) {
	path, err := chatGPTCredentialsPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no saved ChatGPT credentials: %w", err)
	}

	var creds ChatGPTCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse ChatGPT credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("invalid ChatGPT credentials: missing access_token")
	}
	return &creds, nil
}

// SaveChatGPTCredentials persists creds to the user's config directory.
func SaveChatGPTCredentials(creds *ChatGPTCredentials) error {
	path, err := chatGPTCredentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ChatGPT credentials: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// RefreshChatGPTCredentials refreshes creds in place using its refresh
// token, then persists the result.
func RefreshChatGPTCredentials(creds *ChatGPTCredentials) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	refreshed, err := oauth.RefreshChatGPT(ctx, creds.RefreshToken)
	if err != nil {
		return err
	}
	creds.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		creds.RefreshToken = refreshed.RefreshToken
	}
	creds.ExpiresAt = refreshed.ExpiresAt
	if refreshed.AccountID != "" {
		creds.AccountID = refreshed.AccountID
	}
	return SaveChatGPTCredentials(creds)
}
