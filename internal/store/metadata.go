package store

import (
	"database/sql"

	"github.com/pavelanni/mathbench/internal/model"
)

// SetMetadata upserts a key-value pair in the run_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO run_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM run_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetRunInfo records the most recent run.
func (s *Store) SetRunInfo(info model.RunInfo) error {
	pairs := []struct{ k, v string }{
		{"last_run_id", info.RunID},
		{"last_run_started_at", info.StartedAt},
		{"last_run_finished_at", info.FinishedAt},
		{"last_run_output_dir", info.OutputDir},
	}
	for _, p := range pairs {
		if err := s.SetMetadata(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}

// GetRunInfo reads the most recent run. Fields are empty if no run has
// been recorded.
func (s *Store) GetRunInfo() (model.RunInfo, error) {
	var info model.RunInfo
	var err error

	if info.RunID, err = s.GetMetadata("last_run_id"); err != nil {
		return info, err
	}
	if info.StartedAt, err = s.GetMetadata("last_run_started_at"); err != nil {
		return info, err
	}
	if info.FinishedAt, err = s.GetMetadata("last_run_finished_at"); err != nil {
		return info, err
	}
	if info.OutputDir, err = s.GetMetadata("last_run_output_dir"); err != nil {
		return info, err
	}
	return info, nil
}

// PlanHash returns the content hash recorded for a plan file, or "".
func (s *Store) PlanHash(path string) (string, error) {
	return s.GetMetadata("plan_hash:" + path)
}

// SetPlanHash records the content hash of a plan file that was run.
func (s *Store) SetPlanHash(path, hash string) error {
	return s.SetMetadata("plan_hash:"+path, hash)
}
