package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// AzureConfig configures the Azure OpenAI chat-completions transport.
// Structured outputs require API version 2024-08-01-preview or later; the
// latest GA version is 2024-10-21.
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Deployment string
	Timeout    time.Duration
}

// AzureClient implements Completer against an Azure OpenAI deployment.
type AzureClient struct {
	endpoint   string
	apiKey     string
	apiVersion string
	deployment string
	client     *http.Client
}

func NewAzureClient(cfg AzureConfig) (*AzureClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if strings.TrimSpace(cfg.Deployment) == "" {
		return nil, fmt.Errorf("deployment is required")
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = "2024-10-21"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AzureClient{
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiVersion: apiVersion,
		deployment: strings.TrimSpace(cfg.Deployment),
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type azureChatRequest struct {
	Messages       []Message            `json:"messages"`
	ResponseFormat *azureResponseFormat `json:"response_format,omitempty"`
}

type azureResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema azureJSONSchema `json:"json_schema"`
}

type azureJSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type azureChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		TotalTokens         int `json:"total_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

func (a *AzureClient) RequestStructuredCompletion(ctx context.Context, messages []Message, schema Schema) (Completion, error) {
	if len(messages) == 0 {
		return Completion{}, fmt.Errorf("at least one message is required")
	}

	payload := azureChatRequest{
		Messages: messages,
		ResponseFormat: &azureResponseFormat{
			Type: "json_schema",
			JSONSchema: azureJSONSchema{
				Name:   schema.Name,
				Strict: true,
				Schema: schema.Definition,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", a.endpoint, a.deployment, a.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Completion{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawBody))
	}

	var parsed azureChatResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return Completion{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("empty chat completion choices")
	}

	reply := parsed.Choices[0].Message
	if reply.Role == "" {
		reply.Role = RoleAssistant
	}
	return Completion{
		Reply: reply,
		Usage: Usage{
			PromptTokens:       parsed.Usage.PromptTokens,
			CompletionTokens:   parsed.Usage.CompletionTokens,
			TotalTokens:        parsed.Usage.TotalTokens,
			CachedPromptTokens: parsed.Usage.PromptTokensDetails.CachedTokens,
		},
	}, nil
}
