package llm

import (
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/pavelanni/mathbench/internal/model"
)

func TestGeminiPrompt(t *testing.T) {
	tests := []struct {
		name string
		msgs []model.Message
		want string
	}{
		{
			name: "system and user",
			msgs: []model.Message{
				{Role: model.RoleSystem, Content: "Be kind."},
				{Role: model.RoleUser, Content: "Teach me."},
			},
			want: "Be kind.\n\nTeach me.",
		},
		{
			name: "user only",
			msgs: []model.Message{{Role: model.RoleUser, Content: "Teach me."}},
			want: "Teach me.",
		},
		{
			name: "image only",
			msgs: []model.Message{{Role: model.RoleUser, Content: ""}},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := geminiPrompt(tt.msgs); got != tt.want {
				t.Errorf("geminiPrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyGeminiConfig(t *testing.T) {
	m := &genai.GenerativeModel{}
	topK := 40
	p := model.DefaultGenerationParams()
	p.TopK = &topK
	applyGeminiConfig(m, p)

	if m.MaxOutputTokens == nil || *m.MaxOutputTokens != geminiMinOutputTokens {
		t.Errorf("max output tokens = %v, want floor of %d", m.MaxOutputTokens, geminiMinOutputTokens)
	}
	if m.TopK == nil || *m.TopK != 40 {
		t.Errorf("top_k = %v, want 40", m.TopK)
	}
	if m.TopP != nil {
		t.Error("top_p should stay unset")
	}

	p.MaxNewTokens = 4096
	applyGeminiConfig(m, p)
	if *m.MaxOutputTokens != 4096 {
		t.Errorf("max output tokens = %d, want 4096", *m.MaxOutputTokens)
	}
}

func TestFirstText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("Count "), genai.Text("the tens.")}},
	}}}
	if got := firstText(resp); got != "Count the tens." {
		t.Errorf("firstText() = %q", got)
	}
	if got := firstText(&genai.GenerateContentResponse{}); got != "" {
		t.Errorf("empty response should give empty text, got %q", got)
	}
}
