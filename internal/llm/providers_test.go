package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/academiaos/academiaos/internal/config"
)

func TestOpenAIProvider_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"codes\":[\"x\"]}"}}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 3, "total_tokens": 14}
		}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "gpt-test"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), Request{
		Messages:  []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleHuman, Content: "hi"}},
		MaxTokens: 64,
		JSON:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != `{"codes":["x"]}` {
		t.Errorf("text = %s", resp.Text)
	}
	if resp.Usage.InputTokens != 11 || resp.Usage.OutputTokens != 3 || resp.Usage.Model != "gpt-test" {
		t.Errorf("usage = %+v", resp.Usage)
	}
	format, _ := body["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("response_format = %v", body["response_format"])
	}
	if body["max_completion_tokens"] != float64(64) {
		t.Errorf("max_completion_tokens = %v", body["max_completion_tokens"])
	}
}

func TestOpenAIProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error": {"message": "slow down", "type": "rate_limit"}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "gpt-test"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleHuman, Content: "hi"}}})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusTooManyRequests || pe.Provider != "openai" {
		t.Errorf("provider error = %+v", pe)
	}
}

func TestNewOpenAIProvider_InvalidBaseURL(t *testing.T) {
	_, err := NewOpenAIProvider(config.OpenAIConfig{APIKey: "k", Model: "m", BaseURL: "not a url"})
	if err == nil {
		t.Fatal("expected error for invalid base url")
	}
}

func TestAnthropicProvider_Complete(t *testing.T) {
	var body struct {
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
		MaxTokens int `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"dims\":[]}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 7, "output_tokens": 2}
		}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(config.AnthropicConfig{APIKey: "sk-ant", BaseURL: srv.URL, Model: "claude-test"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleHuman, Content: "hi"}},
		JSON:     true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != `{"dims":[]}` {
		t.Errorf("text = %s", resp.Text)
	}
	if resp.Usage.InputTokens != 7 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if len(body.System) != 1 || !strings.Contains(body.System[0].Text, jsonOnlyInstruction) {
		t.Errorf("system = %+v", body.System)
	}
	if body.MaxTokens != anthropicDefaultMaxTokens {
		t.Errorf("max_tokens = %d", body.MaxTokens)
	}
}

func TestNewAnthropicProvider_MissingKey(t *testing.T) {
	_, err := NewAnthropicProvider(config.AnthropicConfig{Model: "m"})
	if !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}
}
