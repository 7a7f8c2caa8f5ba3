package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/mathbench/internal/model"
)

// ExportAll builds the export document from every indexed result.
func (s *Store) ExportAll() (model.ResultsExport, error) {
	evals, err := s.ListEvaluations(model.EvaluationFilter{})
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("list evaluations: %w", err)
	}
	info, err := s.GetRunInfo()
	if err != nil {
		return model.ResultsExport{}, fmt.Errorf("get run info: %w", err)
	}

	byModel := make(map[string]int)
	for _, e := range evals {
		byModel[e.Model]++
	}
	if evals == nil {
		evals = []model.StoredEvaluation{}
	}

	return model.ResultsExport{
		ExportedAt:  time.Now().UTC(),
		LastRunID:   info.RunID,
		Total:       len(evals),
		ByModel:     byModel,
		Evaluations: evals,
	}, nil
}
