package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pavelanni/mathbench/internal/model"
)

var geminiModels = map[string]bool{
	"gemini-2.5-pro": true,
}

// geminiMinOutputTokens keeps thinking models from spending the whole
// budget before emitting any text.
const geminiMinOutputTokens = 2048

// Gemini talks to the Google generative language API.
type Gemini struct {
	apiKey string
	model  string
	httpc  *http.Client
}

var _ Backend = (*Gemini)(nil)

// NewGemini creates a generate-content backend.
func NewGemini(apiKey, modelName string, httpc *http.Client) (*Gemini, error) {
	if !geminiModels[modelName] {
		return nil, fmt.Errorf("%w: %q is not a Gemini model", ErrUnsupportedModel, modelName)
	}
	return &Gemini{
		apiKey: strings.TrimSpace(apiKey),
		model:  modelName,
		httpc:  httpc,
	}, nil
}

func (g *Gemini) Name() string            { return g.model }
func (g *Gemini) Kind() model.BackendKind { return model.KindHostedGenerative }

// Load is a no-op for a hosted API.
func (g *Gemini) Load(context.Context) error { return nil }

// Generate sends the combined prompt text followed by the images.
func (g *Gemini) Generate(ctx context.Context, msgs []model.Message, images []string, p model.GenerationParams) (*Result, error) {
	var parts []genai.Part
	if text := geminiPrompt(msgs); text != "" {
		parts = append(parts, genai.Text(text))
	}
	for _, img := range images {
		data, mime, err := loadImage(ctx, g.httpc, img)
		if err != nil {
			return nil, err
		}
		parts = append(parts, &genai.Blob{MIMEType: mime, Data: data})
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, &BackendError{Backend: "gemini", Model: g.model, Err: err}
	}
	defer cl.Close()

	m := cl.GenerativeModel(g.model)
	applyGeminiConfig(m, p)

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, &BackendError{Backend: "gemini", Model: g.model, Err: err}
	}

	res := &Result{Response: firstText(resp), Model: g.model}
	if len(resp.Candidates) > 0 {
		res.FinishReason = resp.Candidates[0].FinishReason.String()
	}
	if u := resp.UsageMetadata; u != nil {
		res.PromptTokens = intPtr(int(u.PromptTokenCount))
		res.CompletionTokens = intPtr(int(u.CandidatesTokenCount))
		res.TokensUsed = intPtr(int(u.PromptTokenCount + u.CandidatesTokenCount))
	}
	return res, nil
}

func applyGeminiConfig(m *genai.GenerativeModel, p model.GenerationParams) {
	m.SetMaxOutputTokens(int32(max(p.MaxNewTokens, geminiMinOutputTokens)))
	m.SetTemperature(float32(p.Temperature))
	if p.TopP != nil {
		m.SetTopP(float32(*p.TopP))
	}
	if p.TopK != nil {
		m.SetTopK(int32(*p.TopK))
	}
	if len(p.Stop) > 0 {
		m.StopSequences = p.Stop
	}
}

// geminiPrompt joins the last system and user texts with a blank line.
func geminiPrompt(msgs []model.Message) string {
	var system, user string
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			system = messageText(m)
		case model.RoleUser:
			user = messageText(m)
		}
	}
	if system == "" {
		return user
	}
	return system + "\n\n" + user
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}
