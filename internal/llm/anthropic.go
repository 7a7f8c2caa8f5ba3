package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pavelanni/mathbench/internal/model"
)

var anthropicModels = map[string]bool{
	"claude-sonnet-4-20250514": true,
}

// Anthropic talks to the Anthropic messages API. The API has no system
// role inside the message list, so system text is folded into the next
// user turn.
type Anthropic struct {
	api   anthropic.Client
	model string
}

var _ Backend = (*Anthropic)(nil)

// NewAnthropic creates a messages API backend. SDK retries are disabled.
func NewAnthropic(baseURL, apiKey, modelName string) (*Anthropic, error) {
	if !anthropicModels[modelName] {
		return nil, fmt.Errorf("%w: %q is not an Anthropic model", ErrUnsupportedModel, modelName)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{
		api:   anthropic.NewClient(opts...),
		model: modelName,
	}, nil
}

func (c *Anthropic) Name() string            { return c.model }
func (c *Anthropic) Kind() model.BackendKind { return model.KindHostedVisionChat }

// Load is a no-op for a hosted API.
func (c *Anthropic) Load(context.Context) error { return nil }

// Generate sends one messages request.
func (c *Anthropic) Generate(ctx context.Context, msgs []model.Message, images []string, p model.GenerationParams) (*Result, error) {
	turns := foldSystem(msgs, images)
	params, err := anthropicParams(c.model, turns, p)
	if err != nil {
		return nil, err
	}

	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, &BackendError{Backend: "anthropic", Model: c.model, Err: err}
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	in := int(resp.Usage.InputTokens)
	out := int(resp.Usage.OutputTokens)
	return &Result{
		Response:         sb.String(),
		Model:            c.model,
		TokensUsed:       intPtr(in + out),
		PromptTokens:     intPtr(in),
		CompletionTokens: intPtr(out),
		FinishReason:     string(resp.StopReason),
	}, nil
}

// visionTurn is a message after system folding, before SDK conversion.
type visionTurn struct {
	Role  model.Role
	Parts []model.ContentPart
}

// foldSystem moves system text to the front of the following user turn's
// content list and attaches images to the last user turn. Empty text parts
// are dropped because the API rejects them. System text with no user turn
// after it becomes a user turn of its own.
func foldSystem(msgs []model.Message, images []string) []visionTurn {
	target := -1
	if len(images) > 0 {
		target = lastUserIndex(msgs)
	}

	var pending []model.ContentPart
	var turns []visionTurn
	for i, m := range msgs {
		if m.Role == model.RoleSystem {
			if text := messageText(m); text != "" {
				pending = append(pending, model.ContentPart{Type: model.PartText, Text: text})
			}
			continue
		}

		var parts []model.ContentPart
		if m.Role == model.RoleUser {
			parts = append(parts, pending...)
			pending = nil
		}
		for _, part := range normalizedParts(m) {
			if part.Type == model.PartText && part.Text == "" {
				continue
			}
			parts = append(parts, part)
		}
		if i == target {
			for _, img := range images {
				parts = append(parts, model.ContentPart{Type: model.PartImage, URL: img})
			}
		}
		turns = append(turns, visionTurn{Role: m.Role, Parts: parts})
	}
	if len(pending) > 0 {
		turns = append(turns, visionTurn{Role: model.RoleUser, Parts: pending})
	}
	return turns
}

func anthropicParams(modelName string, turns []visionTurn, p model.GenerationParams) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(t.Parts))
		for _, part := range t.Parts {
			switch part.Type {
			case model.PartText:
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case model.PartImage:
				block, err := anthropicImageBlock(part.URL)
				if err != nil {
					return anthropic.MessageNewParams{}, err
				}
				blocks = append(blocks, block)
			}
		}
		if t.Role == model.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(modelName),
		MaxTokens:     int64(p.MaxNewTokens),
		Messages:      messages,
		Temperature:   anthropic.Float(p.Temperature),
		StopSequences: p.Stop,
	}
	if p.TopP != nil {
		params.TopP = anthropic.Float(*p.TopP)
	}
	if p.TopK != nil {
		params.TopK = anthropic.Int(int64(*p.TopK))
	}
	return params, nil
}

func anthropicImageBlock(ref string) (anthropic.ContentBlockParamUnion, error) {
	ref = resolveImage(ref)
	if isRemote(ref) {
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: ref}), nil
	}
	enc, err := encodeFile(ref)
	if err != nil {
		return anthropic.ContentBlockParamUnion{}, err
	}
	return anthropic.NewImageBlock(anthropic.Base64ImageSourceParam{
		Data:      enc,
		MediaType: anthropic.Base64ImageSourceMediaType(mediaType(ref)),
	}), nil
}
