package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sacenox/jarvis-core/internal/credentials"
	"github.com/sacenox/jarvis-core/internal/oauth"
)

const copilotDefaultModel = "gpt-5.2"
const copilotAPIBaseURL = "https://api.githubcopilot.com"

var copilotHTTPClient = &http.Client{Timeout: 10 * time.Minute}

// CopilotProvider implements Provider against the GitHub Copilot chat
// completions backend via the Open Responses wire format.
type CopilotProvider struct {
	model           string
	apiBaseURL      string
	sessionToken    string
	responsesClient *ResponsesClient
	creds           *credentials.CopilotCredentials
}

// NewCopilotProvider creates a Copilot provider, authenticating via GitHub's
// device-code flow if no cached session is available.
func NewCopilotProvider(model string) (*CopilotProvider, error) {
	if model == "" {
		model = copilotDefaultModel
	}

	creds, err := credentials.GetCopilotCredentials()
	if err != nil {
		creds, err = promptForCopilotAuth()
		if err != nil {
			return nil, err
		}
	}

	if creds.IsExpired() {
		if err := credentials.RefreshCopilotSessionToken(creds); err != nil {
			fmt.Println("Copilot session refresh failed. Re-authentication required.")
			creds, err = promptForCopilotAuth()
			if err != nil {
				return nil, err
			}
		}
	}

	return newCopilotProviderWithCreds(creds, model), nil
}

func newCopilotProviderWithCreds(creds *credentials.CopilotCredentials, model string) *CopilotProvider {
	p := &CopilotProvider{
		model:        model,
		apiBaseURL:   copilotAPIBaseURL,
		sessionToken: creds.SessionToken,
		creds:        creds,
	}
	p.responsesClient = &ResponsesClient{
		BaseURL:             p.apiBaseURL + "/responses",
		GetAuthHeader:       func() string { return "Bearer " + p.sessionToken },
		HTTPClient:          copilotHTTPClient,
		DisableServerState:  true, // Copilot does not support previous_response_id
		ExtraHeaders: map[string]string{
			"Copilot-Integration-Id": "term-llm",
			"Editor-Version":         "term-llm/1.0",
		},
	}
	return p
}

func promptForCopilotAuth() (*credentials.CopilotCredentials, error) {
	fmt.Println("Copilot provider requires authentication.")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	oauthCreds, err := oauth.AuthenticateCopilot(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	creds := &credentials.CopilotCredentials{
		GitHubToken:  oauthCreds.GitHubToken,
		SessionToken: oauthCreds.SessionToken,
		ExpiresAt:    oauthCreds.ExpiresAt,
	}

	if err := credentials.SaveCopilotCredentials(creds); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Println("Authentication successful!")
	return creds, nil
}

func (p *CopilotProvider) Name() string {
	return fmt.Sprintf("Copilot (%s)", p.model)
}

func (p *CopilotProvider) Credential() string {
	return "copilot"
}

func (p *CopilotProvider) Capabilities() Capabilities {
	return Capabilities{
		ToolCalls:          true,
		SupportsToolChoice: true,
	}
}

func (p *CopilotProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if p.creds != nil && p.creds.IsExpired() {
		if err := credentials.RefreshCopilotSessionToken(p.creds); err != nil {
			return nil, fmt.Errorf("token refresh failed: %w (re-run with --provider copilot to re-authenticate)", err)
		}
		p.sessionToken = p.creds.SessionToken
	}

	model := chooseModel(req.Model, p.model)
	return p.streamResponses(ctx, req, model)
}

// streamResponses translates a Request into an Open Responses call against
// the Copilot backend.
func (p *CopilotProvider) streamResponses(ctx context.Context, req Request, model string) (Stream, error) {
	var parallelToolCalls *bool
	if len(req.Tools) > 0 {
		v := req.ParallelToolCalls
		parallelToolCalls = &v
	}

	responsesReq := ResponsesRequest{
		Model:             model,
		Input:             BuildResponsesInput(req.Messages),
		Tools:             BuildResponsesTools(req.Tools),
		ToolChoice:        BuildResponsesToolChoice(req.ToolChoice),
		ParallelToolCalls: parallelToolCalls,
		MaxOutputTokens:   req.MaxOutputTokens,
		Stream:            true,
		SessionID:         req.SessionID,
		PromptCacheKey:    req.SessionID,
	}
	if req.ReasoningEffort != "" {
		responsesReq.Reasoning = &ResponsesReasoning{Effort: req.ReasoningEffort, Summary: "auto"}
	}

	return p.responsesClient.Stream(ctx, responsesReq, req.DebugRaw)
}
