package llm

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouterProvider returns an OpenAI-compatible provider configured for
// OpenRouter, which proxies to many upstream model providers behind a single
// API. appURL/appTitle are sent as HTTP-Referer/X-Title so usage shows up
// attributed to this app in the OpenRouter dashboard; either may be empty.
func NewOpenRouterProvider(apiKey, model, appURL, appTitle string) *OpenAICompatProvider {
	headers := map[string]string{}
	if appURL != "" {
		headers["HTTP-Referer"] = appURL
	}
	if appTitle != "" {
		headers["X-Title"] = appTitle
	}
	return NewOpenAICompatProviderWithHeaders(openRouterBaseURL, apiKey, model, "OpenRouter", headers)
}
