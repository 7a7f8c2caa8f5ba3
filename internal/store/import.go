package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pavelanni/mathbench/internal/model"
)

// ImportResultDir indexes every result file found in dir and returns how
// many were indexed. summary.json and files that are not result records
// are skipped. Imported rows keep the run id of an existing row.
func (s *Store) ImportResultDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("list result files: %w", err)
	}

	n := 0
	for _, path := range paths {
		if filepath.Base(path) == "summary.json" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return n, fmt.Errorf("read %s: %w", path, err)
		}
		var res model.EvaluationResult
		if err := json.Unmarshal(data, &res); err != nil || res.Model == "" || res.QuestionID == "" || !res.Group.Valid() {
			slog.Warn("skipping file that is not a result record", "path", path, "error", err)
			continue
		}
		err = s.UpsertEvaluation(model.StoredEvaluation{
			Group:          res.Group,
			Model:          res.Model,
			ModelType:      res.ModelType,
			LearnerProfile: res.LearnerProfile,
			QuestionID:     res.QuestionID,
			Response:       res.Response,
			TokensUsed:     res.Metadata.TokensUsed,
			FilePath:       path,
			CreatedAt:      res.Timestamp,
		})
		if err != nil {
			return n, fmt.Errorf("index %s: %w", path, err)
		}
		n++
	}
	slog.Info("indexed result files", "dir", dir, "count", n)
	return n, nil
}
