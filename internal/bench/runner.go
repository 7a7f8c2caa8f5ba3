// Package bench runs evaluations across models, learner profiles,
// questions and prompt groups, and persists one result file per
// combination.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/mathbench/internal/catalog"
	"github.com/pavelanni/mathbench/internal/llm"
	"github.com/pavelanni/mathbench/internal/llm/prompts"
	"github.com/pavelanni/mathbench/internal/model"
)

// BackendFactory creates an unloaded backend for a registry entry.
type BackendFactory func(desc model.ModelDescriptor) (llm.Backend, error)

// Index receives a row for every persisted result. The SQLite store
// satisfies it.
type Index interface {
	UpsertEvaluation(e model.StoredEvaluation) error
	SetRunInfo(info model.RunInfo) error
}

// Config configures a Runner.
type Config struct {
	// OutputDir receives the result files and summary.json.
	OutputDir string
	// ImageDir is prepended to relative question image paths.
	ImageDir    string
	Params      model.GenerationParams
	Credentials llm.Credentials
	// NewBackend overrides backend creation; nil uses llm.New.
	NewBackend BackendFactory
	// Index is optional.
	Index Index
}

// Runner executes evaluations strictly one after another. It is not safe
// for concurrent use.
type Runner struct {
	outDir     string
	imageDir   string
	params     model.GenerationParams
	newBackend BackendFactory
	index      Index

	runID     string
	startedAt time.Time
	now       func() time.Time

	results  []model.EvaluationResult
	failures []model.FailureEntry
}

// New creates a runner and its output directory.
func New(cfg Config) (*Runner, error) {
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if cfg.Params.MaxNewTokens == 0 {
		cfg.Params.MaxNewTokens = model.DefaultMaxNewTokens
	}
	factory := cfg.NewBackend
	if factory == nil {
		creds := cfg.Credentials
		factory = func(desc model.ModelDescriptor) (llm.Backend, error) {
			return llm.New(desc, creds)
		}
	}
	return &Runner{
		outDir:     cfg.OutputDir,
		imageDir:   cfg.ImageDir,
		params:     cfg.Params,
		newBackend: factory,
		index:      cfg.Index,
		runID:      uuid.NewString(),
		startedAt:  time.Now().UTC(),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// RunID identifies this runner's batch in the summary and the index.
func (r *Runner) RunID() string { return r.runID }

// OutputDir returns the directory results are written to.
func (r *Runner) OutputDir() string { return r.outDir }

// Results returns the results collected so far.
func (r *Runner) Results() []model.EvaluationResult {
	out := make([]model.EvaluationResult, len(r.results))
	copy(out, r.results)
	return out
}

// Failures returns the combinations that failed so far.
func (r *Runner) Failures() []model.FailureEntry {
	out := make([]model.FailureEntry, len(r.failures))
	copy(out, r.failures)
	return out
}

// RunEvaluation creates and loads a backend for modelName, runs one
// evaluation and discards the backend.
func (r *Runner) RunEvaluation(ctx context.Context, modelName, profileID, questionID string, group model.PromptGroup) (*model.EvaluationResult, error) {
	b, err := r.loadBackend(ctx, modelName)
	if err != nil {
		return nil, err
	}
	return r.RunEvaluationWith(ctx, b, profileID, questionID, group)
}

// RunEvaluationWith runs one evaluation on an already loaded backend. The
// result is written to disk, indexed and appended to Results.
func (r *Runner) RunEvaluationWith(ctx context.Context, b llm.Backend, profileID, questionID string, group model.PromptGroup) (*model.EvaluationResult, error) {
	profile, err := catalog.Profile(profileID)
	if err != nil {
		return nil, err
	}
	question, err := catalog.LookupQuestion(questionID)
	if err != nil {
		return nil, err
	}
	if g := catalog.QuestionGrade(questionID); g != profile.Grade {
		slog.Warn("question grade differs from learner grade",
			"profile", profileID, "question", questionID, "profile_grade", profile.Grade, "question_grade", g)
	}

	system, user, err := prompts.Compose(group, profileID)
	if err != nil {
		return nil, err
	}
	msgs := prompts.Messages(group, system, user)

	slog.Debug("evaluating", "model", b.Name(), "profile", profileID, "question", questionID, "group", int(group))
	start := time.Now()
	gen, err := b.Generate(ctx, msgs, []string{r.imagePath(question.ImagePath)}, r.params)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	res := model.EvaluationResult{
		Timestamp:      r.now(),
		Model:          b.Name(),
		ModelType:      b.Kind().ShortName(),
		LearnerProfile: profileID,
		LearnerData:    profile,
		QuestionID:     questionID,
		QuestionData:   question,
		Group:          group,
		Response:       gen.Response,
		Metadata: model.ResultMetadata{
			Model:            gen.Model,
			TokensUsed:       gen.TokensUsed,
			PromptTokens:     gen.PromptTokens,
			CompletionTokens: gen.CompletionTokens,
			FinishReason:     gen.FinishReason,
			DurationMS:       elapsed.Milliseconds(),
		},
	}
	if res.Metadata.Model == "" {
		res.Metadata.Model = b.Name()
	}
	if group != model.GroupImageOnly {
		res.SystemPrompt = &system
		res.UserPrompt = &user
	}

	path, err := r.SaveResult(res)
	if err != nil {
		return nil, err
	}
	r.results = append(r.results, res)
	slog.Info("evaluation saved", "model", res.Model, "profile", profileID, "question", questionID,
		"group", int(group), "path", path, "duration_ms", res.Metadata.DurationMS)

	if r.index != nil {
		// The result file is the record; a stale index is fixed by reindexing.
		if err := r.index.UpsertEvaluation(r.stored(res, path)); err != nil {
			slog.Warn("index evaluation failed", "path", path, "error", err)
		}
	}
	return &res, nil
}

// RunBatch runs every combination of a plan. Each model's backend is
// created and loaded once and shared by all of its combinations. A failed
// combination is logged and recorded, and the batch moves on; the returned
// error joins every failure.
func (r *Runner) RunBatch(ctx context.Context, plan Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	combos := plan.Combinations()
	slog.Info("starting batch", "run_id", r.runID, "models", len(plan.Models), "evaluations", len(combos)*len(plan.Models))

	var errs []error
	for _, modelName := range plan.Models {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		b, err := r.loadBackend(ctx, modelName)
		if err != nil {
			slog.Error("backend unavailable, skipping model", "model", modelName, "error", err)
			for _, c := range combos {
				r.recordFailure(modelName, c, err)
			}
			errs = append(errs, err)
			continue
		}

		for i, c := range combos {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			slog.Info("running evaluation", "model", modelName, "profile", c.Profile, "question", c.Question,
				"group", int(c.Group), "n", i+1, "of", len(combos))
			if _, err := r.RunEvaluationWith(ctx, b, c.Profile, c.Question, c.Group); err != nil {
				slog.Error("evaluation failed", "model", modelName, "profile", c.Profile,
					"question", c.Question, "group", int(c.Group), "error", err)
				r.recordFailure(modelName, c, err)
				errs = append(errs, fmt.Errorf("%s/%s/%s/group %d: %w", modelName, c.Profile, c.Question, c.Group, err))
			}
		}
	}
	return errors.Join(errs...)
}

// RunFull evaluates every model against every profile and every question
// of that profile's grade.
func (r *Runner) RunFull(ctx context.Context, models []string, groups []model.PromptGroup) error {
	return r.RunBatch(ctx, Plan{Models: models, Groups: groups})
}

// RunGrade is RunFull restricted to the profiles of one grade.
func (r *Runner) RunGrade(ctx context.Context, grade int, models []string, groups []model.PromptGroup) error {
	profiles := catalog.ProfilesByGrade(grade)
	if len(profiles) == 0 {
		return fmt.Errorf("%w: no learner profiles for grade %d", catalog.ErrUnknownProfile, grade)
	}
	return r.RunBatch(ctx, Plan{Models: models, Profiles: profiles, Groups: groups})
}

func (r *Runner) loadBackend(ctx context.Context, modelName string) (llm.Backend, error) {
	desc, err := catalog.LookupModel(modelName)
	if err != nil {
		return nil, err
	}
	b, err := r.newBackend(desc)
	if err != nil {
		return nil, err
	}
	if err := b.Load(ctx); err != nil {
		return nil, fmt.Errorf("load %s: %w", modelName, err)
	}
	return b, nil
}

func (r *Runner) recordFailure(modelName string, c Combination, err error) {
	r.failures = append(r.failures, model.FailureEntry{
		Model:    modelName,
		Learner:  c.Profile,
		Question: c.Question,
		Group:    c.Group,
		Error:    err.Error(),
	})
}

func (r *Runner) imagePath(p string) string {
	if r.imageDir == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(r.imageDir, p)
}

func (r *Runner) stored(res model.EvaluationResult, path string) model.StoredEvaluation {
	return model.StoredEvaluation{
		RunID:          r.runID,
		Group:          res.Group,
		Model:          res.Model,
		ModelType:      res.ModelType,
		LearnerProfile: res.LearnerProfile,
		QuestionID:     res.QuestionID,
		Response:       res.Response,
		TokensUsed:     res.Metadata.TokensUsed,
		FilePath:       path,
		CreatedAt:      res.Timestamp,
	}
}
