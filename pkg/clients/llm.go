package clients

import (
	"context"

	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/health"
)

// LLMClient binds the LLM generation service contract from spec section 6.
type LLMClient struct {
	http *httpClient
}

// NewLLMClient constructs a client for the LLM generation service.
func NewLLMClient(cfg HTTPConfig, reg *health.Registry) *LLMClient {
	return &LLMClient{http: newHTTPClient("llm-service", cfg, reg)}
}

// ChatTurn is one message in a chat-style generation request.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type chatRequest struct {
	Messages    []ChatTurn `json:"messages"`
	Model       string     `json:"model,omitempty"`
	MaxTokens   int        `json:"max_tokens"`
	Temperature float64    `json:"temperature"`
}

// GenerationResult is the LLM service's response to a generation request,
// per spec section 6's {response, model, prompt_tokens, response_tokens}.
type GenerationResult struct {
	Text           string `json:"response"`
	Model          string `json:"model"`
	PromptTokens   int    `json:"prompt_tokens"`
	ResponseTokens int    `json:"response_tokens"`
}

// GenerateOptions controls one generation call. MaxTokens and
// Temperature are sent as given, zero included; the query Orchestrator
// always fills both from its own Config.
type GenerateOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Generate completes prompt with a single free-form instruction.
func (c *LLMClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (GenerationResult, error) {
	if prompt == "" {
		return GenerationResult{}, apperrors.New(apperrors.CodeInvalidInput, "generation prompt is empty", nil)
	}
	var out GenerationResult
	req := generateRequest{Prompt: prompt, Model: opts.Model, MaxTokens: opts.MaxTokens, Temperature: opts.Temperature}
	if err := c.http.doJSON(ctx, "POST", "/generate", req, &out); err != nil {
		return GenerationResult{}, err
	}
	return out, nil
}

// Chat completes a multi-turn conversation.
func (c *LLMClient) Chat(ctx context.Context, messages []ChatTurn, opts GenerateOptions) (GenerationResult, error) {
	if len(messages) == 0 {
		return GenerationResult{}, apperrors.New(apperrors.CodeInvalidInput, "chat requires at least one message", nil)
	}
	var out GenerationResult
	req := chatRequest{Messages: messages, Model: opts.Model, MaxTokens: opts.MaxTokens, Temperature: opts.Temperature}
	if err := c.http.doJSON(ctx, "POST", "/chat", req, &out); err != nil {
		return GenerationResult{}, err
	}
	return out, nil
}
