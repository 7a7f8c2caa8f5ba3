package model

import "time"

// BackendKind identifies the API family a model is served through.
type BackendKind string

const (
	// KindHostedChat is a general chat-completion API (OpenAI).
	KindHostedChat BackendKind = "hosted_chat"
	// KindHostedVisionChat is a multimodal messages API without a system role
	// inside the message list (Anthropic).
	KindHostedVisionChat BackendKind = "hosted_vision_chat"
	// KindHostedGenerative is a generate-content API (Gemini).
	KindHostedGenerative BackendKind = "hosted_generative"
	// KindLocalVisionInstruct is a vision-instruct model whose weights are
	// loaded into a runtime on the local machine.
	KindLocalVisionInstruct BackendKind = "local_vision_instruct"
)

// ShortName returns the model_type label written into result files.
func (k BackendKind) ShortName() string {
	switch k {
	case KindHostedChat:
		return "openai"
	case KindHostedVisionChat:
		return "claude"
	case KindHostedGenerative:
		return "gemini"
	case KindLocalVisionInstruct:
		return "llama"
	}
	return string(k)
}

// ModelDescriptor is an entry in the static model registry.
type ModelDescriptor struct {
	Name        string      `json:"name" yaml:"name"`
	Kind        BackendKind `json:"backend_kind" yaml:"backend_kind"`
	Description string      `json:"description" yaml:"description"`
}

// Confidence is a learner's self-reported confidence in mathematics.
type Confidence string

const (
	ConfidenceLow      Confidence = "low"
	ConfidenceModerate Confidence = "moderate"
	ConfidenceHigh     Confidence = "high"
)

// LearnerProfile describes the simulated student a prompt is written for.
type LearnerProfile struct {
	Grade          int        `json:"grade"`
	LikesMath      bool       `json:"likes_math"`
	Confidence     Confidence `json:"confidence_level"`
	Mastered       string     `json:"mastered_topics"`
	TIMSSScore     int        `json:"timss_score"`
	BenchmarkLevel string     `json:"benchmark,omitempty"`
}

// Question is a single TIMSS item rendered as an image.
type Question struct {
	ID          string `json:"-"`
	Number      string `json:"question_number,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Description string `json:"description,omitempty"`
	ImagePath   string `json:"image_path"`
}

// PromptGroup is the experimental condition controlling how much context
// the model sees alongside the question image.
type PromptGroup int

const (
	// GroupImageOnly sends the image with no text at all.
	GroupImageOnly PromptGroup = 1
	// GroupUserOnly sends the learner's self-description only.
	GroupUserOnly PromptGroup = 2
	// GroupCurriculum adds a system prompt with the grade curriculum.
	GroupCurriculum PromptGroup = 3
	// GroupBenchmark adds TIMSS benchmark thresholds to the system prompt.
	GroupBenchmark PromptGroup = 4
)

// AllGroups lists every valid prompt group in order.
var AllGroups = []PromptGroup{GroupImageOnly, GroupUserOnly, GroupCurriculum, GroupBenchmark}

// Valid reports whether g is one of the defined groups.
func (g PromptGroup) Valid() bool {
	return g >= GroupImageOnly && g <= GroupBenchmark
}

// Role represents a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags a content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multi-part message.
type ContentPart struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	// URL is an http(s) URL or a local file path.
	URL string `json:"url,omitempty"`
}

// Message is the backend-independent chat message every adapter consumes.
// When Parts is non-empty it takes precedence over Content.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// IsMultipart reports whether the message carries a content-part list.
func (m Message) IsMultipart() bool {
	return len(m.Parts) > 0
}

// ResultMetadata holds provenance reported by the backend for one call.
type ResultMetadata struct {
	Model            string `json:"model"`
	TokensUsed       *int   `json:"tokens_used"`
	PromptTokens     *int   `json:"prompt_tokens"`
	CompletionTokens *int   `json:"completion_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
	DurationMS       int64  `json:"duration_ms"`
}

// EvaluationResult is one model response to one (profile, question, group).
// Field order is the key order of the persisted JSON file.
type EvaluationResult struct {
	Timestamp      time.Time      `json:"timestamp"`
	Model          string         `json:"model"`
	ModelType      string         `json:"model_type"`
	LearnerProfile string         `json:"learner_profile"`
	LearnerData    LearnerProfile `json:"learner_data"`
	QuestionID     string         `json:"question_id"`
	QuestionData   Question       `json:"question_data"`
	Group          PromptGroup    `json:"group"`
	SystemPrompt   *string        `json:"system_prompt,omitempty"`
	UserPrompt     *string        `json:"user_prompt,omitempty"`
	Response       string         `json:"response"`
	Metadata       ResultMetadata `json:"metadata"`
}

// SummaryEntry is the reduced projection of a result kept in summary.json.
type SummaryEntry struct {
	Model     string      `json:"model"`
	Learner   string      `json:"learner"`
	Question  string      `json:"question"`
	Group     PromptGroup `json:"group"`
	Timestamp time.Time   `json:"timestamp"`
}

// FailureEntry records a combination that did not produce a result.
type FailureEntry struct {
	Model    string      `json:"model"`
	Learner  string      `json:"learner"`
	Question string      `json:"question"`
	Group    PromptGroup `json:"group"`
	Error    string      `json:"error"`
}

// Summary is written once at the end of a batch.
type Summary struct {
	RunID             string         `json:"run_id"`
	TotalEvaluations  int            `json:"total_evaluations"`
	FailedEvaluations int            `json:"failed_evaluations"`
	Timestamp         time.Time      `json:"timestamp"`
	Results           []SummaryEntry `json:"results"`
	Failures          []FailureEntry `json:"failures,omitempty"`
}

// GenerationParams are the sampling settings applied to every call in a run.
// Nil pointers mean "not set" and are never sent to a backend.
type GenerationParams struct {
	MaxNewTokens      int      `yaml:"max_new_tokens"`
	Temperature       float64  `yaml:"temperature"`
	TopP              *float64 `yaml:"top_p"`
	TopK              *int     `yaml:"top_k"`
	FrequencyPenalty  *float64 `yaml:"frequency_penalty"`
	PresencePenalty   *float64 `yaml:"presence_penalty"`
	Stop              []string `yaml:"stop"`
	RepetitionPenalty *float64 `yaml:"repetition_penalty"`
	NumBeams          *int     `yaml:"num_beams"`
	DoSample          *bool    `yaml:"do_sample"`
}

const (
	DefaultMaxNewTokens = 512
	DefaultTemperature  = 0.7
)

// DefaultGenerationParams returns the settings used when nothing is configured.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		MaxNewTokens: DefaultMaxNewTokens,
		Temperature:  DefaultTemperature,
	}
}

// StoredEvaluation is an index row for a persisted result file.
type StoredEvaluation struct {
	ID             int64       `json:"id"`
	RunID          string      `json:"run_id"`
	Group          PromptGroup `json:"group"`
	Model          string      `json:"model"`
	ModelType      string      `json:"model_type"`
	LearnerProfile string      `json:"learner_profile"`
	QuestionID     string      `json:"question_id"`
	Response       string      `json:"response"`
	TokensUsed     *int        `json:"tokens_used,omitempty"`
	FilePath       string      `json:"file_path"`
	CreatedAt      time.Time   `json:"created_at"`
}

// EvaluationFilter narrows index queries. Zero values match everything.
type EvaluationFilter struct {
	Model   string
	Profile string
	Group   PromptGroup
}

// Viewer is an account allowed to browse results in the web UI.
type Viewer struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
