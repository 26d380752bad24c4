package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func openaiStubResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 123,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
			"finish_reason": "stop",
		}},
	}
}

func TestOpenAIComplete(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(openaiStubResponse("  summary text  "))
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "you summarize transcripts"},
		{Role: "user", Content: "alice: hello"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "summary text" {
		t.Fatalf("expected trimmed response, got %q", got)
	}

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("decode captured request: %v", err)
	}
	if req.Model != "gpt-4o-mini" {
		t.Fatalf("expected model gpt-4o-mini, got %q", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %#v", req.Messages)
	}
	if strings.Contains(string(gotBody), "response_format") {
		t.Fatalf("response_format should be absent without the JSON option, body: %s", gotBody)
	}
}

func TestOpenAIJSONOutputSetsResponseFormat(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(openaiStubResponse(`{"summary":"ok"}`))
	}))
	defer server.Close()

	client, err := NewClient("openai", "test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"), WithJSONOutput())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "summarize"}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != `{"summary":"ok"}` {
		t.Fatalf("unexpected response %q", got)
	}

	var req struct {
		ResponseFormat *struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("decode captured request: %v", err)
	}
	if req.ResponseFormat == nil {
		t.Fatalf("expected response_format in request, body: %s", gotBody)
	}
	if req.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected response_format.type json_object, got %q", req.ResponseFormat.Type)
	}
}

func TestOpenAICompleteSendsAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "test-key") {
			t.Errorf("expected auth header to include test-key, got %q", auth)
		}
		_ = json.NewEncoder(w).Encode(openaiStubResponse("ok"))
	}))
	defer server.Close()

	client, err := NewClient("openai", "test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "ping"}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected response ok, got %q", got)
	}
}

func TestOpenAICompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 123,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{},
		})
	}))
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	_, err = client.Complete(context.Background(), []Message{{Role: "user", Content: "hello"}})
	if err == nil {
		t.Fatal("expected error for empty choices, got nil")
	}
	if !strings.Contains(err.Error(), "no choices") {
		t.Fatalf("expected 'no choices' in error, got %q", err.Error())
	}
}
