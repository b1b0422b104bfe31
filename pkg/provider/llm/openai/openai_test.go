package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/aipibridge/pkg/provider/llm"
)

// TestConvertMessage_Roles checks that every supported role is converted.
func TestConvertMessage_Roles(t *testing.T) {
	sys, err := convertMessage(llm.Message{Role: llm.RoleSystem, Content: "You are helpful."})
	if err != nil || sys.OfSystem == nil {
		t.Fatalf("system: OfSystem not set (err=%v)", err)
	}
	usr, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "Hello!"})
	if err != nil || usr.OfUser == nil {
		t.Fatalf("user: OfUser not set (err=%v)", err)
	}
	asst, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "Hi!"})
	if err != nil || asst.OfAssistant == nil {
		t.Fatalf("assistant: OfAssistant not set (err=%v)", err)
	}
}

// TestConvertMessage_UnknownRole ensures unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	if _, err := convertMessage(llm.Message{Role: "wizard", Content: "?"}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key when
// talking to the public endpoint.
func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_LocalServerWithoutKey accepts an empty key with a base URL.
func TestNew_LocalServerWithoutKey(t *testing.T) {
	if _, err := New("", "DeepSeek-R1-1.5B-Q8_0", WithBaseURL("http://127.0.0.1:8080/v1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// chatServer returns an httptest server that records the request body and
// answers with the given message JSON.
func chatServer(t *testing.T, message string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if gotBody != nil {
			_ = json.NewDecoder(r.Body).Decode(gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "DeepSeek-R1-1.5B-Q8_0",
			"choices": [{"index": 0, "finish_reason": "stop", "message": ` + message + `}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete_ContentAndRequestShape(t *testing.T) {
	var body map[string]any
	srv := chatServer(t, `{"role":"assistant","content":"<think>hm</think>It is noon."}`, &body)

	p, err := New("", "DeepSeek-R1-1.5B-Q8_0", WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(t.Context(), llm.CompletionRequest{
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "what time is it"}},
		SystemPrompt: "Be brief.",
		Temperature:  0.6,
		MaxTokens:    500,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "<think>hm</think>It is noon." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Reasoning != "" {
		t.Errorf("Reasoning = %q, want empty", resp.Reasoning)
	}
	if resp.Usage.TotalTokens != 19 {
		t.Errorf("TotalTokens = %d, want 19", resp.Usage.TotalTokens)
	}

	if body["model"] != "DeepSeek-R1-1.5B-Q8_0" {
		t.Errorf("model = %v", body["model"])
	}
	if body["max_tokens"] != float64(500) {
		t.Errorf("max_tokens = %v, want 500", body["max_tokens"])
	}
	if body["temperature"] != 0.6 {
		t.Errorf("temperature = %v, want 0.6", body["temperature"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want system + user", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v, want system", first["role"])
	}
}

func TestComplete_ReasoningContent(t *testing.T) {
	srv := chatServer(t, `{"role":"assistant","content":"","reasoning_content":"The user wants the time."}`, nil)

	p, _ := New("", "m", WithBaseURL(srv.URL+"/v1"))
	resp, err := p.Complete(t.Context(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "time?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "" {
		t.Errorf("Content = %q, want empty", resp.Content)
	}
	if resp.Reasoning != "The user wants the time." {
		t.Errorf("Reasoning = %q", resp.Reasoning)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	p, _ := New("", "m", WithBaseURL(srv.URL+"/v1"))
	_, err := p.Complete(t.Context(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestComplete_NoMessages(t *testing.T) {
	p, _ := New("sk-test", "m")
	if _, err := p.Complete(t.Context(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error for request without messages")
	}
}

func TestComplete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p, _ := New("", "m", WithBaseURL(srv.URL+"/v1"))
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
