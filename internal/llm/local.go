package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	ollamamodel "github.com/ollama/ollama/types/model"

	"github.com/pavelanni/mathbench/internal/model"
)

// DefaultLocalRuntimeURL is where the local model runtime listens.
const DefaultLocalRuntimeURL = "http://localhost:11434"

// keepAlive holds the weights in memory between calls of a batch.
const keepAlive = 30 * time.Minute

// LocalModelConfig describes how to load one local vision-instruct model.
type LocalModelConfig struct {
	// RuntimeTag is the name the weights are registered under in the runtime.
	RuntimeTag string
	// Family is the architecture family the runtime reports for the tag.
	Family string
}

var localModelConfigs = map[string]LocalModelConfig{
	"meta-llama/Llama-3.2-11B-Vision-Instruct": {RuntimeTag: "llama3.2-vision:11b", Family: "mllama"},
	"meta-llama/Llama-3.2-90B-Vision-Instruct": {RuntimeTag: "llama3.2-vision:90b", Family: "mllama"},
	"meta-llama/Llama-4-Scout-17B-16E-Instruct": {RuntimeTag: "llama4:scout", Family: "llama4"},
	"Qwen/Qwen3-VL-30B-A3B-Instruct":            {RuntimeTag: "qwen3-vl:30b", Family: "qwen3vl"},
}

// LocalConfig returns the load configuration for a local model.
func LocalConfig(name string) (LocalModelConfig, bool) {
	cfg, ok := localModelConfigs[name]
	return cfg, ok
}

// weights is a model resident in the runtime.
type weights struct {
	tag    string
	family string
}

// Local runs a vision-instruct model whose weights live in a model runtime
// on this machine. Load must be called before Generate; the loaded weights
// are reused for every later call.
type Local struct {
	name   string
	config LocalModelConfig
	client *api.Client
	httpc  *http.Client

	model *weights
}

var _ Backend = (*Local)(nil)

// NewLocal creates an unloaded local backend. The token, when set, is sent
// as a bearer credential to the runtime.
func NewLocal(baseURL, token, modelName string, httpc *http.Client) (*Local, error) {
	cfg, ok := localModelConfigs[modelName]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a local vision model", ErrUnsupportedModel, modelName)
	}
	if baseURL == "" {
		baseURL = DefaultLocalRuntimeURL
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse local runtime URL: %w", err)
	}

	runtimeClient := httpc
	if token != "" {
		transport := httpc.Transport
		if transport == nil {
			transport = http.DefaultTransport
		}
		c := *httpc
		c.Transport = &bearerTransport{token: token, base: transport}
		runtimeClient = &c
	}
	return &Local{
		name:   modelName,
		config: cfg,
		client: api.NewClient(base, runtimeClient),
		httpc:  httpc,
	}, nil
}

func (l *Local) Name() string            { return l.name }
func (l *Local) Kind() model.BackendKind { return model.KindLocalVisionInstruct }

// Loaded reports whether Load has completed.
func (l *Local) Loaded() bool {
	return l.model != nil
}

// Load checks the runtime model and brings the weights into memory.
// Calling it again after a successful load does nothing.
func (l *Local) Load(ctx context.Context) error {
	if l.Loaded() {
		return nil
	}
	tag := l.config.RuntimeTag

	show, err := l.client.Show(ctx, &api.ShowRequest{Model: tag})
	if err != nil {
		return fmt.Errorf("resolve %s: %w", tag, err)
	}
	if len(show.Capabilities) > 0 && !slices.Contains(show.Capabilities, ollamamodel.CapabilityVision) {
		return fmt.Errorf("resolve %s: runtime model has no vision capability", tag)
	}
	if f := show.Details.Family; f != "" && f != l.config.Family {
		slog.Warn("local model family differs from the expected one", "model", l.name, "tag", tag,
			"family", f, "expected", l.config.Family)
	}

	// A generate request without a prompt only loads the weights.
	warm := &api.GenerateRequest{Model: tag, KeepAlive: &api.Duration{Duration: keepAlive}}
	if err := l.client.Generate(ctx, warm, func(api.GenerateResponse) error { return nil }); err != nil {
		return fmt.Errorf("load %s: %w", tag, err)
	}

	l.model = &weights{tag: tag, family: show.Details.Family}
	slog.Info("local model loaded", "model", l.name, "tag", tag, "family", l.model.family)
	return nil
}

// Generate runs one chat turn against the loaded weights.
func (l *Local) Generate(ctx context.Context, msgs []model.Message, images []string, p model.GenerationParams) (*Result, error) {
	if !l.Loaded() {
		return nil, ErrModelNotLoaded
	}

	resolved := make([]string, len(images))
	for i, img := range images {
		resolved[i] = resolveImage(img)
	}
	wire, err := encodeLocalMessages(ctx, l.httpc, formatLocalMessages(msgs, resolved))
	if err != nil {
		return nil, err
	}

	stream := false
	req := &api.ChatRequest{
		Model:     l.model.tag,
		Messages:  wire,
		Stream:    &stream,
		KeepAlive: &api.Duration{Duration: keepAlive},
		Options:   localOptions(p),
	}
	var resp api.ChatResponse
	err = l.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return nil, &BackendError{Backend: "local", Model: l.name, Err: err}
	}

	// eval_count covers only tokens generated after the prompt.
	return &Result{
		Response:         resp.Message.Content,
		Model:            l.name,
		TokensUsed:       intPtr(resp.EvalCount),
		PromptTokens:     intPtr(resp.PromptEvalCount),
		CompletionTokens: intPtr(resp.EvalCount),
		FinishReason:     resp.DoneReason,
	}, nil
}

// formatLocalMessages converts every message to a content-part list and
// inserts the images into the last message just before its trailing text
// element. The input slice is not modified.
func formatLocalMessages(msgs []model.Message, images []string) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = model.Message{Role: m.Role, Parts: slices.Clone(normalizedParts(m))}
	}
	if len(images) == 0 || len(out) == 0 {
		return out
	}

	last := &out[len(out)-1]
	n := len(last.Parts)
	parts := make([]model.ContentPart, 0, n+len(images))
	parts = append(parts, last.Parts[:n-1]...)
	for _, img := range images {
		parts = append(parts, model.ContentPart{Type: model.PartImage, URL: img})
	}
	parts = append(parts, last.Parts[n-1])
	last.Parts = parts
	return out
}

// encodeLocalMessages maps content parts onto runtime messages: text parts
// are joined, image parts are loaded into Images.
func encodeLocalMessages(ctx context.Context, httpc *http.Client, msgs []model.Message) ([]api.Message, error) {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		am := api.Message{Role: string(m.Role), Content: messageText(m)}
		for _, part := range m.Parts {
			if part.Type != model.PartImage {
				continue
			}
			data, _, err := loadImage(ctx, httpc, part.URL)
			if err != nil {
				return nil, err
			}
			am.Images = append(am.Images, api.ImageData(data))
		}
		out = append(out, am)
	}
	return out, nil
}

// localOptions builds the sampling options. Unset params are left out.
// Sampling defaults to on only when temperature is positive; greedy
// decoding is expressed as temperature 0.
func localOptions(p model.GenerationParams) map[string]any {
	opts := map[string]any{}
	if p.MaxNewTokens > 0 {
		opts["num_predict"] = p.MaxNewTokens
	}

	doSample := p.Temperature > 0
	if p.DoSample != nil {
		doSample = *p.DoSample
	}
	if doSample {
		opts["temperature"] = p.Temperature
	} else {
		opts["temperature"] = 0.0
	}

	if p.TopP != nil {
		opts["top_p"] = *p.TopP
	}
	if p.TopK != nil {
		opts["top_k"] = *p.TopK
	}
	if p.RepetitionPenalty != nil {
		opts["repeat_penalty"] = *p.RepetitionPenalty
	}
	if p.NumBeams != nil {
		opts["num_beams"] = *p.NumBeams
	}
	if len(p.Stop) > 0 {
		opts["stop"] = p.Stop
	}
	return opts
}

// bearerTransport adds the runtime token to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}
