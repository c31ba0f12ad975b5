package oauth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Provider) != 0 {
		t.Fatalf("expected empty cache, got %d entries", len(c.Provider))
	}

	creds := Credentials{CredType: "oauth", Refresh: "r1", Access: "a1", ExpiresMs: 123}
	if err := c.Set(ClaudeProviderKey, creds); err != nil {
		t.Fatalf("set: %v", err)
	}

	info, err := os.Stat(CachePath(dir))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm=%o, want 0600", perm)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.Get(ClaudeProviderKey)
	if !ok {
		t.Fatalf("expected %s to be present after reload", ClaudeProviderKey)
	}
	if got != creds {
		t.Fatalf("got %+v, want %+v", got, creds)
	}
}

func TestCacheLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "missing")
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Provider) != 0 {
		t.Fatalf("expected empty cache for missing file")
	}
}

func TestCredentialsIsExpired(t *testing.T) {
	expired := Credentials{ExpiresMs: 1}
	if !expired.IsExpired() {
		t.Fatalf("expected expired credentials to report IsExpired")
	}

	future := Credentials{ExpiresMs: 9999999999999}
	if future.IsExpired() {
		t.Fatalf("expected future-expiry credentials to report not expired")
	}
}

func TestCredentialsMasked(t *testing.T) {
	c := Credentials{Access: "sk-ant-REDACTED"}
	got := c.Masked()
	want := "sk-ant-oat01..."
	if got != want {
		t.Fatalf("Masked()=%q, want %q", got, want)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Set(ClaudeProviderKey, Credentials{Access: "a"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.Remove(ClaudeProviderKey); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := c.Get(ClaudeProviderKey); ok {
		t.Fatalf("expected provider to be removed")
	}
}
