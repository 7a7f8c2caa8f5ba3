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

	"github.com/pavelanni/mathbench/internal/model"
)

const chatCompletionReply = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1,
  "model": "gpt-4o",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Let's count the tens."}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
}`

// captureServer records the last JSON body posted to it and replies with reply.
func captureServer(t *testing.T, reply string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = nil
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestOpenAIGenerate(t *testing.T) {
	srv, captured := captureServer(t, chatCompletionReply)
	img := writeTestImage(t, "q.png")

	c, err := NewOpenAI(srv.URL+"/v1", "test-key", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	msgs := []model.Message{
		{Role: model.RoleSystem, Content: "You are a teacher."},
		{Role: model.RoleUser, Content: "Teach me."},
	}
	res, err := c.Generate(context.Background(), msgs, []string{img}, model.DefaultGenerationParams())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Response != "Let's count the tens." {
		t.Errorf("response = %q", res.Response)
	}
	if res.TokensUsed == nil || *res.TokensUsed != 150 {
		t.Errorf("tokens_used = %v, want 150", res.TokensUsed)
	}
	if *res.PromptTokens != 120 || *res.CompletionTokens != 30 {
		t.Errorf("prompt/completion = %d/%d", *res.PromptTokens, *res.CompletionTokens)
	}
	if res.FinishReason != "stop" {
		t.Errorf("finish_reason = %q", res.FinishReason)
	}

	body := *captured
	if body["max_tokens"] != float64(512) {
		t.Errorf("max_tokens = %v, want 512", body["max_tokens"])
	}
	for _, key := range []string{"top_p", "frequency_penalty", "presence_penalty", "stop", "stream", "max_completion_tokens"} {
		if _, ok := body[key]; ok {
			t.Errorf("unset option %q must not be sent", key)
		}
	}

	messages := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	if sys := messages[0].(map[string]any); sys["content"] != "You are a teacher." {
		t.Errorf("system content = %v", sys["content"])
	}
	user := messages[1].(map[string]any)
	parts, ok := user["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("user content should be a 2-part list, got %v", user["content"])
	}
	if p := parts[0].(map[string]any); p["type"] != "text" || p["text"] != "Teach me." {
		t.Errorf("first part = %v", p)
	}
	imgPart := parts[1].(map[string]any)
	url := imgPart["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image should be inlined as data URI, got %q", url[:min(len(url), 40)])
	}
}

func TestOpenAIForwardsSetOptions(t *testing.T) {
	srv, captured := captureServer(t, chatCompletionReply)
	c, err := NewOpenAI(srv.URL+"/v1", "k", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	topP, freq := 0.9, 0.5
	p := model.DefaultGenerationParams()
	p.TopP = &topP
	p.FrequencyPenalty = &freq
	p.Stop = []string{"END"}

	msgs := []model.Message{{Role: model.RoleUser, Content: "hi"}}
	if _, err := c.Generate(context.Background(), msgs, []string{"https://example.com/q.png"}, p); err != nil {
		t.Fatal(err)
	}
	body := *captured
	if _, ok := body["top_p"]; !ok {
		t.Error("top_p should be forwarded when set")
	}
	if _, ok := body["frequency_penalty"]; !ok {
		t.Error("frequency_penalty should be forwarded when set")
	}
	if _, ok := body["presence_penalty"]; ok {
		t.Error("presence_penalty was not set and must not be sent")
	}

	parts := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"]
	if url != "https://example.com/q.png" {
		t.Errorf("remote image should pass through, got %v", url)
	}
}

func TestOpenAIForwardsZeroValues(t *testing.T) {
	srv, captured := captureServer(t, chatCompletionReply)
	c, err := NewOpenAI(srv.URL+"/v1", "k", "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	zero := 0.0
	p := model.DefaultGenerationParams()
	p.Temperature = 0
	p.TopP = &zero
	p.PresencePenalty = &zero

	msgs := []model.Message{{Role: model.RoleUser, Content: "hi"}}
	if _, err := c.Generate(context.Background(), msgs, nil, p); err != nil {
		t.Fatal(err)
	}
	body := *captured
	for _, key := range []string{"temperature", "top_p", "presence_penalty"} {
		v, ok := body[key].(float64)
		if !ok {
			t.Errorf("%s set to 0 must still be sent, body has %v", key, body[key])
			continue
		}
		if v > 1e-6 {
			t.Errorf("%s = %v, want ~0", key, v)
		}
	}
	if _, ok := body["frequency_penalty"]; ok {
		t.Error("frequency_penalty was not set and must not be sent")
	}
}

func TestOpenAIReasoningModelParams(t *testing.T) {
	srv, captured := captureServer(t, chatCompletionReply)
	c, err := NewOpenAI(srv.URL+"/v1", "k", "o1")
	if err != nil {
		t.Fatal(err)
	}
	msgs := []model.Message{{Role: model.RoleUser, Content: "hi"}}
	if _, err := c.Generate(context.Background(), msgs, nil, model.DefaultGenerationParams()); err != nil {
		t.Fatal(err)
	}
	body := *captured
	if body["max_completion_tokens"] != float64(512) {
		t.Errorf("max_completion_tokens = %v, want 512", body["max_completion_tokens"])
	}
	if _, ok := body["max_tokens"]; ok {
		t.Error("reasoning models must not receive max_tokens")
	}
	if _, ok := body["temperature"]; ok {
		t.Error("reasoning models must not receive temperature")
	}
}

func TestOpenAIEmptyUserTextWithImage(t *testing.T) {
	img := writeTestImage(t, "q.jpg")
	msgs, err := openAIMessages([]model.Message{{Role: model.RoleUser, Content: ""}}, []string{img})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || len(msgs[0].MultiContent) != 1 {
		t.Fatalf("expected a single image part, got %+v", msgs)
	}
	if !strings.HasPrefix(msgs[0].MultiContent[0].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Error("jpeg image should use image/jpeg media type")
	}
}

func TestOpenAIBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error": {"message": "Incorrect API key", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	c, _ := NewOpenAI(srv.URL+"/v1", "", "gpt-4o")
	_, err := c.Generate(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}}, nil, model.DefaultGenerationParams())
	var be *BackendError
	if err == nil || !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
}
