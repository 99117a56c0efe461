package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAzureClientRequestShape(t *testing.T) {
	var gotPath, gotAPIVersion, gotAPIKey string
	var gotBody azureChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIVersion = r.URL.Query().Get("api-version")
		gotAPIKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "{\"steps\":[\"s\"],\"sql_query\":\"SELECT 1\"}"}}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120, "prompt_tokens_details": {"cached_tokens": 64}}
		}`))
	}))
	defer server.Close()

	client, err := NewAzureClient(AzureConfig{
		Endpoint:   server.URL,
		APIKey:     "test-key",
		APIVersion: "2024-10-21",
		Deployment: "gpt-4o",
	})
	if err != nil {
		t.Fatalf("NewAzureClient() error = %v", err)
	}

	completion, err := client.RequestStructuredCompletion(context.Background(), []Message{
		{Role: RoleUser, Content: "How many orders are there?"},
	}, SQLGenerationSchema)
	if err != nil {
		t.Fatalf("RequestStructuredCompletion() error = %v", err)
	}

	if gotPath != "/openai/deployments/gpt-4o/chat/completions" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAPIVersion != "2024-10-21" {
		t.Fatalf("api-version = %q", gotAPIVersion)
	}
	if gotAPIKey != "test-key" {
		t.Fatalf("api-key = %q", gotAPIKey)
	}
	if gotBody.ResponseFormat == nil || gotBody.ResponseFormat.Type != "json_schema" {
		t.Fatalf("response_format = %+v", gotBody.ResponseFormat)
	}
	if !gotBody.ResponseFormat.JSONSchema.Strict {
		t.Fatal("json_schema.strict should be true")
	}
	if gotBody.ResponseFormat.JSONSchema.Name != "sql_generation" {
		t.Fatalf("json_schema.name = %q", gotBody.ResponseFormat.JSONSchema.Name)
	}

	if completion.Reply.Role != RoleAssistant {
		t.Fatalf("reply role = %q", completion.Reply.Role)
	}
	if completion.Usage.PromptTokens != 100 || completion.Usage.CompletionTokens != 20 {
		t.Fatalf("usage = %+v", completion.Usage)
	}
	if completion.Usage.CachedPromptTokens != 64 {
		t.Fatalf("cached tokens = %d", completion.Usage.CachedPromptTokens)
	}
}

func TestAzureClientSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"code": "429", "message": "rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewAzureClient(AzureConfig{Endpoint: server.URL, APIKey: "k", Deployment: "gpt-4o"})
	if err != nil {
		t.Fatalf("NewAzureClient() error = %v", err)
	}

	_, err = client.RequestStructuredCompletion(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, SQLGenerationSchema)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestNewAzureClientValidatesConfig(t *testing.T) {
	cases := []AzureConfig{
		{APIKey: "k", Deployment: "d"},
		{Endpoint: "https://x", Deployment: "d"},
		{Endpoint: "https://x", APIKey: "k"},
	}
	for _, cfg := range cases {
		if _, err := NewAzureClient(cfg); err == nil {
			t.Fatalf("NewAzureClient(%+v) expected error", cfg)
		}
	}
}
