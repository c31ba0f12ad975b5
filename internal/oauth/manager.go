package oauth

import (
	"context"
	"log/slog"
)

// Manager resolves a usable access token for a provider, refreshing an
// expired one synchronously at startup and falling back to an API key when
// refresh fails, per §4.8: "on refresh failure the record is cleared and the
// system falls back to API-key auth if available."
type Manager struct {
	cache *Cache
}

// NewManager wraps a loaded Cache.
func NewManager(cache *Cache) *Manager {
	return &Manager{cache: cache}
}

// Resolve returns a valid access token for provider, refreshing if expired.
// apiKeyFallback is returned (ok=true) when no usable OAuth token exists.
func (m *Manager) Resolve(ctx context.Context, provider string, apiKeyFallback string) (token string, fromOAuth bool, err error) {
	creds, ok := m.cache.Get(provider)
	if !ok {
		if apiKeyFallback != "" {
			return apiKeyFallback, false, nil
		}
		return "", false, nil
	}

	if !creds.IsExpired() {
		return creds.Access, true, nil
	}

	refreshed, refreshErr := m.refresh(provider, creds)
	if refreshErr != nil {
		slog.Warn("oauth refresh failed, clearing cached credentials", "provider", provider, "error", refreshErr)
		_ = m.cache.Remove(provider)
		if apiKeyFallback != "" {
			return apiKeyFallback, false, nil
		}
		return "", false, refreshErr
	}

	if err := m.cache.Set(provider, refreshed); err != nil {
		slog.Warn("failed to persist refreshed oauth credentials", "provider", provider, "error", err)
	}
	return refreshed.Access, true, nil
}

func (m *Manager) refresh(provider string, creds Credentials) (Credentials, error) {
	switch provider {
	case ClaudeProviderKey:
		refreshed, err := ClaudeRefresh(context.Background(), creds.Refresh)
		if err != nil {
			return Credentials{}, err
		}
		refreshed.AccountID = creds.AccountID
		return refreshed, nil
	default:
		return Credentials{}, errUnsupportedProvider(provider)
	}
}

type unsupportedProviderError string

func (e unsupportedProviderError) Error() string {
	return "oauth: unsupported provider " + string(e)
}

func errUnsupportedProvider(provider string) error {
	return unsupportedProviderError(provider)
}
