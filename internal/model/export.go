package model

import "time"

// ResultsExport is the top-level JSON structure for the export command.
type ResultsExport struct {
	ExportedAt  time.Time          `json:"exported_at"`
	LastRunID   string             `json:"last_run_id,omitempty"`
	Total       int                `json:"total"`
	ByModel     map[string]int     `json:"by_model"`
	Evaluations []StoredEvaluation `json:"evaluations"`
}

// RunInfo is the run-level metadata kept alongside the result index.
type RunInfo struct {
	RunID      string
	StartedAt  string
	FinishedAt string
	OutputDir  string
}
