package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewService_DeepSeekDefaults(t *testing.T) {
	cfg := &Config{
		Provider: "deepseek",
		Model:    "deepseek-chat",
		APIKey:   "test-key",
	}

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if svc == nil {
		t.Fatal("NewService() returned nil service")
	}
}

func TestNewService_OpenAI(t *testing.T) {
	cfg := &Config{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		APIKey:      "test-key",
		BaseURL:     "https://api.openai.com/v1",
		MaxTokens:   4096,
		Temperature: 0.5,
	}

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if svc == nil {
		t.Fatal("NewService() returned nil service")
	}
}

func TestNewService_UnknownProviderFallsBack(t *testing.T) {
	cfg := &Config{
		Provider: "somethingelse",
		Model:    "test-model",
		APIKey:   "test-key",
		BaseURL:  "https://example.com/v1",
	}

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if svc == nil {
		t.Fatal("NewService() returned nil service")
	}
}

func TestCallStats_Accumulate(t *testing.T) {
	total := &CallStats{}
	total.Accumulate(&CallStats{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, TotalDurationMs: 100})
	total.Accumulate(&CallStats{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30, TotalDurationMs: 250})
	total.Accumulate(nil)

	if total.PromptTokens != 30 || total.CompletionTokens != 15 || total.TotalTokens != 45 {
		t.Errorf("unexpected token totals: %+v", total)
	}
	if total.TotalDurationMs != 350 {
		t.Errorf("TotalDurationMs = %d, want 350", total.TotalDurationMs)
	}
}

func TestJSONSchema_Marshal(t *testing.T) {
	schema := &JSONSchema{
		Type: "object",
		Properties: map[string]*JSONSchema{
			"searches": {
				Type:        "array",
				Description: "Planned searches",
				Items: &JSONSchema{
					Type: "object",
					Properties: map[string]*JSONSchema{
						"reason": {Type: "string"},
						"query":  {Type: "string"},
					},
					Required: []string{"reason", "query"},
				},
			},
		},
		Required: []string{"searches"},
	}

	data, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["type"] != "object" {
		t.Errorf("type = %v, want object", decoded["type"])
	}
	if _, ok := decoded["properties"].(map[string]any)["searches"]; !ok {
		t.Error("missing searches property")
	}
	// Unset additionalProperties must not leak "false" into nested nodes.
	if strings.Contains(string(data), "additionalProperties") {
		t.Errorf("unset additionalProperties serialized: %s", data)
	}
}
