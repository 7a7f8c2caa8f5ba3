package bench

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pavelanni/mathbench/internal/catalog"
	"github.com/pavelanni/mathbench/internal/llm"
	"github.com/pavelanni/mathbench/internal/model"
)

type generateCall struct {
	msgs   []model.Message
	images []string
	params model.GenerationParams
}

// fakeBackend records calls and fails the call numbers listed in failOn.
type fakeBackend struct {
	name    string
	kind    model.BackendKind
	loads   int
	loadErr error
	calls   []generateCall
	failOn  map[int]bool
}

func (f *fakeBackend) Name() string            { return f.name }
func (f *fakeBackend) Kind() model.BackendKind { return f.kind }

func (f *fakeBackend) Load(context.Context) error {
	f.loads++
	return f.loadErr
}

func (f *fakeBackend) Generate(_ context.Context, msgs []model.Message, images []string, params model.GenerationParams) (*llm.Result, error) {
	f.calls = append(f.calls, generateCall{msgs: msgs, images: images, params: params})
	if f.failOn[len(f.calls)] {
		return nil, &llm.BackendError{Backend: "fake", Model: f.name, Err: errors.New("rate limited")}
	}
	tokens := 42
	return &llm.Result{
		Response:     "Start by lining up the ones.",
		Model:        f.name,
		TokensUsed:   &tokens,
		FinishReason: "stop",
	}, nil
}

type fakeIndex struct {
	rows      []model.StoredEvaluation
	runs      []model.RunInfo
	upsertErr error
}

func (f *fakeIndex) UpsertEvaluation(e model.StoredEvaluation) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.rows = append(f.rows, e)
	return nil
}

func (f *fakeIndex) SetRunInfo(info model.RunInfo) error {
	f.runs = append(f.runs, info)
	return nil
}

// newTestRunner returns a runner whose backends are all fakes. Every fake
// created is appended to *made.
func newTestRunner(t *testing.T, tweak func(*fakeBackend)) (*Runner, *[]*fakeBackend, *fakeIndex) {
	t.Helper()
	var made []*fakeBackend
	idx := &fakeIndex{}
	r, err := New(Config{
		OutputDir: t.TempDir(),
		Index:     idx,
		NewBackend: func(desc model.ModelDescriptor) (llm.Backend, error) {
			fb := &fakeBackend{name: desc.Name, kind: desc.Kind}
			if tweak != nil {
				tweak(fb)
			}
			made = append(made, fb)
			return fb, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, &made, idx
}

func readJSONMap(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return m
}

func TestRunEvaluationBenchmarkGroup(t *testing.T) {
	r, made, idx := newTestRunner(t, nil)
	res, err := r.RunEvaluation(context.Background(), "gpt-4o", "grade4_low", "G4Q1", model.GroupBenchmark)
	if err != nil {
		t.Fatalf("RunEvaluation: %v", err)
	}

	profile, _ := catalog.Profile("grade4_low")
	if res.SystemPrompt == nil || res.UserPrompt == nil {
		t.Fatal("group 4 result must carry both prompts")
	}
	for _, want := range []string{"Grade 4 Focus", "TIMSS 2019"} {
		if !strings.Contains(*res.SystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	for _, want := range []string{"Grade 4", strconv.Itoa(profile.TIMSSScore)} {
		if !strings.Contains(*res.UserPrompt, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if res.ModelType != "openai" {
		t.Errorf("model_type = %q, want openai", res.ModelType)
	}

	fb := (*made)[0]
	if fb.loads != 1 || len(fb.calls) != 1 {
		t.Fatalf("loads=%d calls=%d, want 1/1", fb.loads, len(fb.calls))
	}
	call := fb.calls[0]
	if len(call.msgs) != 2 || call.msgs[0].Role != model.RoleSystem || call.msgs[1].Role != model.RoleUser {
		t.Errorf("unexpected message shape: %+v", call.msgs)
	}
	if len(call.images) != 1 || call.images[0] != "pics/grade4_q1.png" {
		t.Errorf("images = %v", call.images)
	}

	path := filepath.Join(r.OutputDir(), "4_gpt-4o_grade4_low_G4Q1.json")
	doc := readJSONMap(t, path)
	if doc["group"] != float64(4) {
		t.Errorf("group = %v, want 4", doc["group"])
	}
	if doc["question_id"] != "G4Q1" {
		t.Errorf("question_id = %v", doc["question_id"])
	}
	for _, key := range []string{"system_prompt", "user_prompt", "learner_data", "question_data", "metadata"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("result file missing %q", key)
		}
	}
	meta := doc["metadata"].(map[string]any)
	if meta["tokens_used"] != float64(42) {
		t.Errorf("metadata.tokens_used = %v", meta["tokens_used"])
	}
	if v, ok := meta["prompt_tokens"]; !ok || v != nil {
		t.Errorf("unreported prompt_tokens should be null, got %v", v)
	}

	if len(idx.rows) != 1 || idx.rows[0].FilePath != path || idx.rows[0].RunID != r.RunID() {
		t.Errorf("index rows = %+v", idx.rows)
	}
}

func TestIndexFailureKeepsResult(t *testing.T) {
	r, _, idx := newTestRunner(t, nil)
	idx.upsertErr = errors.New("database is locked")

	plan := Plan{Models: []string{"gpt-4o"}, Profiles: []string{"grade4_low"}, Questions: []string{"G4Q1"}, Groups: []model.PromptGroup{1, 4}}
	if err := r.RunBatch(context.Background(), plan); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	s := r.Summary()
	if s.TotalEvaluations != 2 || s.FailedEvaluations != 0 || len(s.Failures) != 0 {
		t.Errorf("summary = %d saved, %d failed (%+v); want 2 saved, 0 failed",
			s.TotalEvaluations, s.FailedEvaluations, s.Failures)
	}
	for _, name := range []string{"1_gpt-4o_grade4_low_G4Q1.json", "4_gpt-4o_grade4_low_G4Q1.json"} {
		if _, err := os.Stat(filepath.Join(r.OutputDir(), name)); err != nil {
			t.Errorf("result file %s: %v", name, err)
		}
	}
}

func TestNewKeepsGenerationParams(t *testing.T) {
	topP := 0.9
	tests := []struct {
		name       string
		params     model.GenerationParams
		wantTokens int
		wantTemp   float64
	}{
		{"zero max tokens gets default", model.GenerationParams{Temperature: 0.3, TopP: &topP}, model.DefaultMaxNewTokens, 0.3},
		{"explicit values kept", model.GenerationParams{MaxNewTokens: 256, Temperature: 0, TopP: &topP}, 256, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fb *fakeBackend
			r, err := New(Config{
				OutputDir: t.TempDir(),
				Params:    tt.params,
				NewBackend: func(desc model.ModelDescriptor) (llm.Backend, error) {
					fb = &fakeBackend{name: desc.Name, kind: desc.Kind}
					return fb, nil
				},
			})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := r.RunEvaluation(context.Background(), "gpt-4o", "grade4_low", "G4Q1", model.GroupBenchmark); err != nil {
				t.Fatal(err)
			}
			got := fb.calls[0].params
			if got.MaxNewTokens != tt.wantTokens || got.Temperature != tt.wantTemp {
				t.Errorf("params = %+v, want max_new_tokens %d temperature %v", got, tt.wantTokens, tt.wantTemp)
			}
			if got.TopP == nil || *got.TopP != topP {
				t.Errorf("TopP = %v, want %v", got.TopP, topP)
			}
		})
	}
}

func TestRunEvaluationImageOnlyGroup(t *testing.T) {
	r, made, _ := newTestRunner(t, nil)
	res, err := r.RunEvaluation(context.Background(), "gpt-4o", "grade4_low", "G4Q1", model.GroupImageOnly)
	if err != nil {
		t.Fatalf("RunEvaluation: %v", err)
	}
	if res.SystemPrompt != nil || res.UserPrompt != nil {
		t.Error("group 1 result must not carry prompts")
	}

	call := (*made)[0].calls[0]
	if len(call.msgs) != 1 || call.msgs[0].Role != model.RoleUser || call.msgs[0].Content != "" {
		t.Errorf("group 1 must send a single empty user message, got %+v", call.msgs)
	}

	doc := readJSONMap(t, filepath.Join(r.OutputDir(), "1_gpt-4o_grade4_low_G4Q1.json"))
	for _, key := range []string{"system_prompt", "user_prompt"} {
		if _, ok := doc[key]; ok {
			t.Errorf("group 1 result file must not contain %q", key)
		}
	}
}

func TestRunEvaluationUserOnlyKeepsEmptySystemPrompt(t *testing.T) {
	r, _, _ := newTestRunner(t, nil)
	res, err := r.RunEvaluation(context.Background(), "gpt-4o", "grade8_high", "G8Q2", model.GroupUserOnly)
	if err != nil {
		t.Fatal(err)
	}
	if res.SystemPrompt == nil || *res.SystemPrompt != "" {
		t.Errorf("group 2 system prompt should be present and empty, got %v", res.SystemPrompt)
	}
	doc := readJSONMap(t, filepath.Join(r.OutputDir(), "2_gpt-4o_grade8_high_G8Q2.json"))
	if v, ok := doc["system_prompt"]; !ok || v != "" {
		t.Errorf("system_prompt = %v (present=%v)", v, ok)
	}
}

func TestRunEvaluationConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		profile  string
		question string
		group    model.PromptGroup
		want     error
	}{
		{"unknown model", "gpt-2", "grade4_low", "G4Q1", 1, catalog.ErrUnknownModel},
		{"unknown profile", "gpt-4o", "grade5_low", "G4Q1", 1, catalog.ErrUnknownProfile},
		{"unknown question", "gpt-4o", "grade4_low", "G9Q1", 1, catalog.ErrUnknownQuestion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, made, _ := newTestRunner(t, nil)
			_, err := r.RunEvaluation(context.Background(), tt.model, tt.profile, tt.question, tt.group)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			for _, fb := range *made {
				if len(fb.calls) != 0 {
					t.Error("no backend call expected on a configuration error")
				}
			}
		})
	}

	r, _, _ := newTestRunner(t, nil)
	if _, err := r.RunEvaluation(context.Background(), "gpt-4o", "grade4_low", "G4Q1", 5); err == nil {
		t.Error("expected error for group 5")
	}
}

func TestResultFilename(t *testing.T) {
	tests := []struct {
		group    model.PromptGroup
		model    string
		profile  string
		question string
		want     string
	}{
		{4, "gpt-4o", "grade4_low", "G4Q1", "4_gpt-4o_grade4_low_G4Q1.json"},
		{1, "meta-llama/Llama-3.2-11B-Vision-Instruct", "grade8_high", "G8Q3", "1_meta-llama_Llama-3.2-11B-Vision-Instruct_grade8_high_G8Q3.json"},
	}
	for _, tt := range tests {
		got := ResultFilename(tt.group, tt.model, tt.profile, tt.question)
		if got != tt.want {
			t.Errorf("ResultFilename() = %q, want %q", got, tt.want)
		}
		if again := ResultFilename(tt.group, tt.model, tt.profile, tt.question); again != got {
			t.Errorf("filename not deterministic: %q vs %q", got, again)
		}
	}
}

func TestRerunOverwritesResult(t *testing.T) {
	r, _, _ := newTestRunner(t, nil)
	ctx := context.Background()
	for range 2 {
		if _, err := r.RunEvaluation(ctx, "gpt-4o", "grade4_low", "G4Q1", model.GroupCurriculum); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(r.OutputDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one result file after rerun, got %d", len(entries))
	}
}

func TestRunBatchLoadsOnceAndContinuesOnFailure(t *testing.T) {
	r, made, _ := newTestRunner(t, func(fb *fakeBackend) { fb.failOn = map[int]bool{2: true} })
	plan := Plan{
		Models:    []string{"meta-llama/Llama-3.2-11B-Vision-Instruct"},
		Profiles:  []string{"grade4_low"},
		Questions: []string{"G4Q1", "G4Q2"},
		Groups:    []model.PromptGroup{1, 4},
	}
	err := r.RunBatch(context.Background(), plan)
	if err == nil {
		t.Fatal("expected aggregated error for the failed combination")
	}
	var be *llm.BackendError
	if !errors.As(err, &be) {
		t.Errorf("aggregated error should wrap the backend error, got %v", err)
	}

	fb := (*made)[0]
	if fb.loads != 1 {
		t.Errorf("backend loaded %d times, want 1", fb.loads)
	}
	if len(fb.calls) != 4 {
		t.Errorf("calls = %d, want 4", len(fb.calls))
	}
	if len(r.Results()) != 3 || len(r.Failures()) != 1 {
		t.Fatalf("results=%d failures=%d, want 3/1", len(r.Results()), len(r.Failures()))
	}
	f := r.Failures()[0]
	if f.Question != "G4Q1" || f.Group != 4 {
		t.Errorf("failure = %+v, want G4Q1 group 4", f)
	}
	if r.Results()[0].ModelType != "llama" {
		t.Errorf("model_type = %q, want llama", r.Results()[0].ModelType)
	}
}

func TestRunBatchLoadFailureSkipsModel(t *testing.T) {
	r, made, _ := newTestRunner(t, func(fb *fakeBackend) {
		if fb.kind == model.KindLocalVisionInstruct {
			fb.loadErr = errors.New("runtime not reachable")
		}
	})
	plan := Plan{
		Models:    []string{"meta-llama/Llama-3.2-11B-Vision-Instruct", "gpt-4o"},
		Profiles:  []string{"grade8_low"},
		Questions: []string{"G8Q1"},
		Groups:    []model.PromptGroup{2, 3},
	}
	if err := r.RunBatch(context.Background(), plan); err == nil {
		t.Fatal("expected error")
	}
	if len((*made)[0].calls) != 0 {
		t.Error("unloaded backend must not be called")
	}
	if len(r.Failures()) != 2 || len(r.Results()) != 2 {
		t.Errorf("results=%d failures=%d, want 2/2", len(r.Results()), len(r.Failures()))
	}
}

func TestRunGradeAndFull(t *testing.T) {
	r, _, _ := newTestRunner(t, nil)
	ctx := context.Background()
	if err := r.RunGrade(ctx, 8, []string{"gpt-4o"}, []model.PromptGroup{2}); err != nil {
		t.Fatal(err)
	}
	// 3 grade 8 profiles x 4 grade 8 questions.
	if got := len(r.Results()); got != 12 {
		t.Errorf("grade 8 results = %d, want 12", got)
	}
	for _, res := range r.Results() {
		if res.LearnerData.Grade != 8 || catalog.QuestionGrade(res.QuestionID) != 8 {
			t.Errorf("grade mismatch in %s/%s", res.LearnerProfile, res.QuestionID)
		}
	}

	if err := r.RunGrade(ctx, 6, []string{"gpt-4o"}, nil); !errors.Is(err, catalog.ErrUnknownProfile) {
		t.Errorf("grade 6 should fail with ErrUnknownProfile, got %v", err)
	}

	full, _, _ := newTestRunner(t, nil)
	if err := full.RunFull(ctx, []string{"gpt-4o"}, []model.PromptGroup{1}); err != nil {
		t.Fatal(err)
	}
	// 3x3 for grade 4 plus 3x4 for grade 8.
	if got := len(full.Results()); got != 21 {
		t.Errorf("full results = %d, want 21", got)
	}
}

func TestSaveSummary(t *testing.T) {
	r, _, idx := newTestRunner(t, func(fb *fakeBackend) { fb.failOn = map[int]bool{1: true} })
	plan := Plan{
		Models:    []string{"gpt-4o"},
		Profiles:  []string{"grade4_middle"},
		Questions: []string{"G4Q3"},
		Groups:    []model.PromptGroup{3, 4},
	}
	_ = r.RunBatch(context.Background(), plan)

	path, err := r.SaveSummary()
	if err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if filepath.Base(path) != SummaryFile {
		t.Errorf("summary path = %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var sum model.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.RunID != r.RunID() || sum.TotalEvaluations != 1 || sum.FailedEvaluations != 1 {
		t.Errorf("summary = %+v", sum)
	}
	e := sum.Results[0]
	if e.Model != "gpt-4o" || e.Learner != "grade4_middle" || e.Question != "G4Q3" || e.Group != 4 {
		t.Errorf("summary entry = %+v", e)
	}
	if !strings.Contains(string(data), "\n  \"run_id\"") {
		t.Error("summary should be indented with two spaces")
	}

	if len(idx.runs) != 1 || idx.runs[0].RunID != r.RunID() || idx.runs[0].OutputDir != r.OutputDir() {
		t.Errorf("run info = %+v", idx.runs)
	}
}

func TestWriteJSONKeepsHTMLCharacters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	if err := writeJSON(path, map[string]string{"response": "3 < 5 & 5 > 3"}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "3 < 5 & 5 > 3") {
		t.Errorf("HTML characters were escaped: %s", data)
	}
}

func TestImagePath(t *testing.T) {
	r := &Runner{imageDir: "/data/timss"}
	tests := []struct{ in, want string }{
		{"pics/grade4_q1.png", "/data/timss/pics/grade4_q1.png"},
		{"/abs/q.png", "/abs/q.png"},
		{"https://example.com/q.png", "https://example.com/q.png"},
	}
	for _, tt := range tests {
		if got := r.imagePath(tt.in); got != tt.want {
			t.Errorf("imagePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
