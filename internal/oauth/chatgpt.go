package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// ChatGPTProviderKey is the cache key for the ChatGPT OAuth flow.
const ChatGPTProviderKey = "chatgpt"

const (
	chatGPTClientID     = "app_EMoamEEZ73f0CkXaXp7hrann"
	chatGPTAuthorizeURL = "https://auth.openai.com/oauth/authorize"
	chatGPTTokenURL     = "https://auth.openai.com/oauth/token"
	chatGPTScopes       = "openid profile email offline_access"
	chatGPTCallbackPort = 1455
)

// ChatGPTCredentials is what AuthenticateChatGPT returns: an OAuth token
// pair plus the backend account ID the ChatGPT API requires on every
// request.
type ChatGPTCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // unix millis
	AccountID    string
}

// AuthenticateChatGPT runs a local loopback PKCE flow: it starts a server on
// 127.0.0.1, opens the system browser to OpenAI's authorize endpoint, and
// waits for the redirect carrying the authorization code.
func AuthenticateChatGPT(ctx context.Context) (*ChatGPTCredentials, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}

	redirectURI := fmt.Sprintf("http://localhost:%d/callback", chatGPTCallbackPort)
	state := pkce.Verifier[:16]

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			errCh <- fmt.Errorf("oauth callback: state mismatch")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errCh <- fmt.Errorf("oauth callback: missing code")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authentication successful, you may close this tab.")
		codeCh <- code
	})

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", chatGPTCallbackPort))
	if err != nil {
		return nil, fmt.Errorf("start oauth callback listener: %w", err)
	}
	server := &http.Server{Handler: mux}
	go server.Serve(ln)
	defer server.Close()

	authURL := chatGPTAuthURL(pkce, state, redirectURI)
	openBrowser(authURL)
	fmt.Printf("If the browser didn't open, visit:\n%s\n", authURL)

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tok, err := chatGPTExchangeCode(ctx, code, pkce, redirectURI)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

func chatGPTAuthURL(pkce PKCE, state, redirectURI string) string {
	q := url.Values{}
	q.Set("client_id", chatGPTClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", chatGPTScopes)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", state)
	return chatGPTAuthorizeURL + "?" + q.Encode()
}

type chatGPTTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func chatGPTExchangeCode(ctx context.Context, code string, pkce PKCE, redirectURI string) (*ChatGPTCredentials, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", chatGPTClientID)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("code_verifier", pkce.Verifier)

	tok, err := postChatGPTToken(ctx, form)
	if err != nil {
		return nil, err
	}
	return chatGPTTokenToCredentials(tok)
}

// RefreshChatGPT exchanges a refresh token for a new ChatGPT access token.
func RefreshChatGPT(ctx context.Context, refreshToken string) (*ChatGPTCredentials, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", chatGPTClientID)
	form.Set("refresh_token", refreshToken)

	tok, err := postChatGPTToken(ctx, form)
	if err != nil {
		return nil, err
	}
	return chatGPTTokenToCredentials(tok)
}

func postChatGPTToken(ctx context.Context, form url.Values) (chatGPTTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatGPTTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return chatGPTTokenResponse{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return chatGPTTokenResponse{}, fmt.Errorf("send token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return chatGPTTokenResponse{}, fmt.Errorf("chatgpt token exchange failed (HTTP %d)", resp.StatusCode)
	}

	var tok chatGPTTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return chatGPTTokenResponse{}, fmt.Errorf("parse token response: %w", err)
	}
	return tok, nil
}

func chatGPTTokenToCredentials(tok chatGPTTokenResponse) (*ChatGPTCredentials, error) {
	accountID, err := DecodeAccountID(tok.IDToken)
	if err != nil {
		accountID = "" // account ID is best-effort; some tokens omit it
	}
	return &ChatGPTCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().UnixMilli() + tok.ExpiresIn*1000,
		AccountID:    accountID,
	}, nil
}

// openBrowser best-effort opens url in the system's default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}
