// Package llm adapts the backend-independent message format to each model
// API the benchmark talks to.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pavelanni/mathbench/internal/model"
)

var (
	// ErrUnsupportedModel is returned when a model name is not in an
	// adapter's registry. No network call or load is attempted.
	ErrUnsupportedModel = errors.New("unsupported model")
	// ErrUnknownBackend is returned for a backend kind with no adapter.
	ErrUnknownBackend = errors.New("unknown backend kind")
	// ErrModelNotLoaded is returned by Generate when Load has not run.
	ErrModelNotLoaded = errors.New("model not loaded: call Load first")
)

// Backend is one model reachable through one API family.
type Backend interface {
	Name() string
	Kind() model.BackendKind
	// Load prepares the model for use. Hosted backends have nothing to do;
	// local backends resolve and warm their weights.
	Load(ctx context.Context) error
	// Generate sends messages (plus optional image paths or URLs) and
	// returns the normalized response.
	Generate(ctx context.Context, msgs []model.Message, images []string, p model.GenerationParams) (*Result, error)
}

// Result is the normalized response every backend returns.
type Result struct {
	Response         string
	Model            string
	TokensUsed       *int
	PromptTokens     *int
	CompletionTokens *int
	FinishReason     string
}

// BackendError wraps a failure reported by an upstream API so callers can
// tell it apart from configuration errors.
type BackendError struct {
	Backend string
	Model   string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend (%s): %v", e.Backend, e.Model, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Credentials carries API keys and endpoint overrides. Empty keys are
// passed through unchanged; the upstream call reports the failure.
type Credentials struct {
	OpenAIKey        string
	AnthropicKey     string
	GoogleKey        string
	HuggingFaceToken string

	OpenAIBaseURL    string
	AnthropicBaseURL string
	LocalRuntimeURL  string

	HTTPClient *http.Client
}

func (c Credentials) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	// Local generation of a long answer on a large model can take minutes.
	return &http.Client{Timeout: 10 * time.Minute}
}

// New creates the adapter for a registry entry. The returned backend has
// not been loaded.
func New(desc model.ModelDescriptor, creds Credentials) (Backend, error) {
	switch desc.Kind {
	case model.KindHostedChat:
		return NewOpenAI(creds.OpenAIBaseURL, creds.OpenAIKey, desc.Name)
	case model.KindHostedVisionChat:
		return NewAnthropic(creds.AnthropicBaseURL, creds.AnthropicKey, desc.Name)
	case model.KindHostedGenerative:
		return NewGemini(creds.GoogleKey, desc.Name, creds.httpClient())
	case model.KindLocalVisionInstruct:
		return NewLocal(creds.LocalRuntimeURL, creds.HuggingFaceToken, desc.Name, creds.httpClient())
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, desc.Kind)
}

// lastUserIndex returns the index of the last user message, or -1.
// Images accompany that message only.
func lastUserIndex(msgs []model.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return i
		}
	}
	return -1
}

// messageText flattens a message's text content.
func messageText(m model.Message) string {
	if !m.IsMultipart() {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type != model.PartText || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

func intPtr(v int) *int {
	return &v
}
