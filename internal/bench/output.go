package bench

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pavelanni/mathbench/internal/model"
)

// SummaryFile is the name of the per-batch summary written by SaveSummary.
const SummaryFile = "summary.json"

var modelNameReplacer = strings.NewReplacer("/", "_", `\`, "_", ":", "_")

// ResultFilename returns the file name for a combination. The same
// combination always maps to the same name, so a rerun overwrites the
// previous result.
func ResultFilename(group model.PromptGroup, modelName, profileID, questionID string) string {
	return fmt.Sprintf("%d_%s_%s_%s.json", group, modelNameReplacer.Replace(modelName), profileID, questionID)
}

// SaveResult writes one result file and returns its path.
func (r *Runner) SaveResult(res model.EvaluationResult) (string, error) {
	path := filepath.Join(r.outDir, ResultFilename(res.Group, res.Model, res.LearnerProfile, res.QuestionID))
	if err := writeJSON(path, res); err != nil {
		return "", err
	}
	return path, nil
}

// Summary builds the batch summary from the results collected so far.
func (r *Runner) Summary() model.Summary {
	entries := make([]model.SummaryEntry, 0, len(r.results))
	for _, res := range r.results {
		entries = append(entries, model.SummaryEntry{
			Model:     res.Model,
			Learner:   res.LearnerProfile,
			Question:  res.QuestionID,
			Group:     res.Group,
			Timestamp: res.Timestamp,
		})
	}
	return model.Summary{
		RunID:             r.runID,
		TotalEvaluations:  len(r.results),
		FailedEvaluations: len(r.failures),
		Timestamp:         r.now(),
		Results:           entries,
		Failures:          r.Failures(),
	}
}

// SaveSummary writes summary.json and records the run in the index.
func (r *Runner) SaveSummary() (string, error) {
	path := filepath.Join(r.outDir, SummaryFile)
	sum := r.Summary()
	if err := writeJSON(path, sum); err != nil {
		return "", err
	}
	if r.index != nil {
		err := r.index.SetRunInfo(model.RunInfo{
			RunID:      r.runID,
			StartedAt:  r.startedAt.Format(time.RFC3339),
			FinishedAt: sum.Timestamp.Format(time.RFC3339),
			OutputDir:  r.outDir,
		})
		if err != nil {
			return path, fmt.Errorf("record run info: %w", err)
		}
	}
	return path, nil
}

// writeJSON writes v as two-space indented UTF-8 JSON. HTML characters
// are kept literal so prompts and responses stay readable.
func writeJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
