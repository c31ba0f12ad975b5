package oauth

import "testing"

func TestGeneratePKCE(t *testing.T) {
	p, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 32 raw bytes base64url-encoded without padding = 43 characters.
	if len(p.Verifier) != 43 {
		t.Fatalf("verifier length=%d, want 43", len(p.Verifier))
	}
	if p.Challenge == "" {
		t.Fatalf("expected non-empty challenge")
	}
	if p.Verifier == p.Challenge {
		t.Fatalf("verifier and challenge must differ")
	}

	p2, err := GeneratePKCE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Verifier == p2.Verifier {
		t.Fatalf("expected distinct verifiers across calls")
	}
}

func TestClaudeAuthURL(t *testing.T) {
	p := PKCE{Verifier: "v", Challenge: "c"}
	url := ClaudeAuthURL(p, "state123", "http://localhost:1234/callback")
	if url == "" {
		t.Fatalf("expected non-empty url")
	}
	if want := "code_challenge=c"; !contains(url, want) {
		t.Fatalf("url %q missing %q", url, want)
	}
	if want := "state=state123"; !contains(url, want) {
		t.Fatalf("url %q missing %q", url, want)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
