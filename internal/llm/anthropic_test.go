package llm

import (
	"context"
	"testing"

	"github.com/pavelanni/mathbench/internal/model"
)

const messagesReply = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-20250514",
  "content": [{"type": "text", "text": "Hello"}, {"type": "text", "text": " there"}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 10, "output_tokens": 5}
}`

func TestFoldSystem(t *testing.T) {
	img := "https://example.com/q.png"
	tests := []struct {
		name   string
		msgs   []model.Message
		images []string
		want   []visionTurn
	}{
		{
			name: "system folded into user",
			msgs: []model.Message{
				{Role: model.RoleSystem, Content: "Be kind."},
				{Role: model.RoleUser, Content: "Teach me."},
			},
			images: []string{img},
			want: []visionTurn{{Role: model.RoleUser, Parts: []model.ContentPart{
				{Type: model.PartText, Text: "Be kind."},
				{Type: model.PartText, Text: "Teach me."},
				{Type: model.PartImage, URL: img},
			}}},
		},
		{
			name:   "empty user text dropped",
			msgs:   []model.Message{{Role: model.RoleUser, Content: ""}},
			images: []string{img},
			want: []visionTurn{{Role: model.RoleUser, Parts: []model.ContentPart{
				{Type: model.PartImage, URL: img},
			}}},
		},
		{
			name: "empty system text dropped",
			msgs: []model.Message{
				{Role: model.RoleSystem, Content: ""},
				{Role: model.RoleUser, Content: "hi"},
			},
			want: []visionTurn{{Role: model.RoleUser, Parts: []model.ContentPart{
				{Type: model.PartText, Text: "hi"},
			}}},
		},
		{
			name: "images on last user turn only",
			msgs: []model.Message{
				{Role: model.RoleUser, Content: "first"},
				{Role: model.RoleAssistant, Content: "ok"},
				{Role: model.RoleUser, Content: "second"},
			},
			images: []string{img},
			want: []visionTurn{
				{Role: model.RoleUser, Parts: []model.ContentPart{{Type: model.PartText, Text: "first"}}},
				{Role: model.RoleAssistant, Parts: []model.ContentPart{{Type: model.PartText, Text: "ok"}}},
				{Role: model.RoleUser, Parts: []model.ContentPart{
					{Type: model.PartText, Text: "second"},
					{Type: model.PartImage, URL: img},
				}},
			},
		},
		{
			name: "trailing system becomes user turn",
			msgs: []model.Message{{Role: model.RoleSystem, Content: "alone"}},
			want: []visionTurn{{Role: model.RoleUser, Parts: []model.ContentPart{
				{Type: model.PartText, Text: "alone"},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := foldSystem(tt.msgs, tt.images)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d turns, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Role != tt.want[i].Role {
					t.Errorf("turn %d role = %s, want %s", i, got[i].Role, tt.want[i].Role)
				}
				if len(got[i].Parts) != len(tt.want[i].Parts) {
					t.Fatalf("turn %d has %d parts, want %d", i, len(got[i].Parts), len(tt.want[i].Parts))
				}
				for j := range got[i].Parts {
					if got[i].Parts[j] != tt.want[i].Parts[j] {
						t.Errorf("turn %d part %d = %+v, want %+v", i, j, got[i].Parts[j], tt.want[i].Parts[j])
					}
				}
			}
		})
	}
}

func TestAnthropicGenerate(t *testing.T) {
	srv, captured := captureServer(t, messagesReply)
	img := writeTestImage(t, "q.png")

	c, err := NewAnthropic(srv.URL, "test-key", "claude-sonnet-4-20250514")
	if err != nil {
		t.Fatal(err)
	}
	msgs := []model.Message{
		{Role: model.RoleSystem, Content: "Be kind."},
		{Role: model.RoleUser, Content: "Teach me."},
	}
	res, err := c.Generate(context.Background(), msgs, []string{img}, model.DefaultGenerationParams())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if res.Response != "Hello there" {
		t.Errorf("response = %q, want concatenated text blocks", res.Response)
	}
	if res.TokensUsed == nil || *res.TokensUsed != 15 {
		t.Errorf("tokens_used = %v, want 15", res.TokensUsed)
	}
	if res.FinishReason != "end_turn" {
		t.Errorf("finish_reason = %q", res.FinishReason)
	}

	body := *captured
	if _, ok := body["system"]; ok {
		t.Error("system text should be folded into the user turn")
	}
	if body["max_tokens"] != float64(512) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	messages := body["messages"].([]any)
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	content := messages[0].(map[string]any)["content"].([]any)
	if len(content) != 3 {
		t.Fatalf("got %d content blocks, want 3", len(content))
	}
	if first := content[0].(map[string]any); first["text"] != "Be kind." {
		t.Errorf("first block = %v", first)
	}
	imgBlock := content[2].(map[string]any)
	if imgBlock["type"] != "image" {
		t.Fatalf("last block type = %v", imgBlock["type"])
	}
	source := imgBlock["source"].(map[string]any)
	if source["type"] != "base64" || source["media_type"] != "image/png" {
		t.Errorf("image source = %v", source)
	}
}
