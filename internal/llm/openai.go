package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pavelanni/mathbench/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

var openAIModels = map[string]bool{
	"gpt-4o":            true,
	"gpt-4o-2024-08-06": true,
	"gpt-4":             true,
	"gpt-5":             true,
	"o1":                true,
}

// OpenAI wraps an OpenAI-compatible chat completion client.
type OpenAI struct {
	api   *openai.Client
	model string
}

var _ Backend = (*OpenAI)(nil)

// NewOpenAI creates a new chat completion backend.
func NewOpenAI(baseURL, apiKey, modelName string) (*OpenAI, error) {
	if !openAIModels[modelName] {
		return nil, fmt.Errorf("%w: %q is not an OpenAI model", ErrUnsupportedModel, modelName)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}, nil
}

func (c *OpenAI) Name() string            { return c.model }
func (c *OpenAI) Kind() model.BackendKind { return model.KindHostedChat }

// Load is a no-op for a hosted API.
func (c *OpenAI) Load(context.Context) error { return nil }

// Generate sends one chat completion request.
func (c *OpenAI) Generate(ctx context.Context, msgs []model.Message, images []string, p model.GenerationParams) (*Result, error) {
	chatMsgs, err := openAIMessages(msgs, images)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openAIRequest(c.model, chatMsgs, p))
	if err != nil {
		return nil, &BackendError{Backend: "openai", Model: c.model, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &BackendError{Backend: "openai", Model: c.model, Err: fmt.Errorf("no choices returned")}
	}

	slog.Debug("openai response", "model", c.model, "finish_reason", resp.Choices[0].FinishReason)

	return &Result{
		Response:         resp.Choices[0].Message.Content,
		Model:            c.model,
		TokensUsed:       intPtr(resp.Usage.TotalTokens),
		PromptTokens:     intPtr(resp.Usage.PromptTokens),
		CompletionTokens: intPtr(resp.Usage.CompletionTokens),
		FinishReason:     string(resp.Choices[0].FinishReason),
	}, nil
}

// isReasoningModel reports whether a model only accepts
// max_completion_tokens and the default sampling temperature.
func isReasoningModel(name string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// openAIRequest maps generation params onto the request. Unset optional
// params stay at their zero value and are dropped by omitempty; set ones
// are always sent, including zero.
func openAIRequest(modelName string, msgs []openai.ChatCompletionMessage, p model.GenerationParams) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: msgs,
		Stop:     p.Stop,
	}
	if isReasoningModel(modelName) {
		req.MaxCompletionTokens = p.MaxNewTokens
	} else {
		req.MaxTokens = p.MaxNewTokens
		req.Temperature = sentFloat(p.Temperature)
	}
	if p.TopP != nil {
		req.TopP = sentFloat(*p.TopP)
	}
	if p.FrequencyPenalty != nil {
		req.FrequencyPenalty = sentFloat(*p.FrequencyPenalty)
	}
	if p.PresencePenalty != nil {
		req.PresencePenalty = sentFloat(*p.PresencePenalty)
	}
	return req
}

// sentFloat converts a set value for the request. go-openai drops zero
// floats through omitempty, so zero is sent as the smallest positive
// float32 instead.
func sentFloat(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

// openAIMessages converts normalized messages. Images ride on the last user
// message as text + image_url parts; local files are inlined as data URIs.
func openAIMessages(msgs []model.Message, images []string) ([]openai.ChatCompletionMessage, error) {
	target := -1
	if len(images) > 0 {
		target = lastUserIndex(msgs)
	}

	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for i, m := range msgs {
		role := openAIRole(m.Role)
		if i != target && !m.IsMultipart() {
			out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
			continue
		}

		var parts []openai.ChatMessagePart
		for _, p := range normalizedParts(m) {
			switch p.Type {
			case model.PartText:
				if p.Text == "" {
					continue
				}
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
			case model.PartImage:
				part, err := openAIImagePart(p.URL)
				if err != nil {
					return nil, err
				}
				parts = append(parts, part)
			}
		}
		if i == target {
			for _, img := range images {
				part, err := openAIImagePart(img)
				if err != nil {
					return nil, err
				}
				parts = append(parts, part)
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
	}
	return out, nil
}

func openAIImagePart(ref string) (openai.ChatMessagePart, error) {
	url := resolveImage(ref)
	if !isRemote(url) {
		var err error
		if url, err = dataURI(url); err != nil {
			return openai.ChatMessagePart{}, err
		}
	}
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    url,
			Detail: openai.ImageURLDetailAuto,
		},
	}, nil
}

func openAIRole(r model.Role) string {
	switch r {
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

// normalizedParts returns a message's content as a part list.
func normalizedParts(m model.Message) []model.ContentPart {
	if m.IsMultipart() {
		return m.Parts
	}
	return []model.ContentPart{{Type: model.PartText, Text: m.Content}}
}
