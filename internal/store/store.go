package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pavelanni/mathbench/internal/model"

	_ "modernc.org/sqlite"
)

// Store indexes persisted evaluation results in SQLite.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		prompt_group INTEGER NOT NULL,
		model TEXT NOT NULL,
		model_type TEXT NOT NULL,
		learner_profile TEXT NOT NULL,
		question_id TEXT NOT NULL,
		response TEXT NOT NULL DEFAULT '',
		tokens_used INTEGER,
		file_path TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (prompt_group, model, learner_profile, question_id)
	);

	CREATE INDEX IF NOT EXISTS idx_evaluations_model ON evaluations(model);

	CREATE TABLE IF NOT EXISTS run_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS viewers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertEvaluation indexes a result. A later result for the same
// (group, model, profile, question) replaces the earlier row, matching the
// overwrite of the result file on disk. An empty run id keeps the stored
// one.
func (s *Store) UpsertEvaluation(e model.StoredEvaluation) error {
	var tokens sql.NullInt64
	if e.TokensUsed != nil {
		tokens = sql.NullInt64{Int64: int64(*e.TokensUsed), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO evaluations (run_id, prompt_group, model, model_type, learner_profile, question_id, response, tokens_used, file_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(prompt_group, model, learner_profile, question_id) DO UPDATE SET
		   run_id = CASE WHEN excluded.run_id = '' THEN evaluations.run_id ELSE excluded.run_id END,
		   model_type = excluded.model_type,
		   response = excluded.response,
		   tokens_used = excluded.tokens_used,
		   file_path = excluded.file_path,
		   created_at = excluded.created_at`,
		e.RunID, int(e.Group), e.Model, e.ModelType, e.LearnerProfile, e.QuestionID, e.Response, tokens, e.FilePath, e.CreatedAt,
	)
	return err
}

const evaluationColumns = `id, run_id, prompt_group, model, model_type, learner_profile, question_id, response, tokens_used, file_path, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvaluation(row rowScanner) (model.StoredEvaluation, error) {
	var e model.StoredEvaluation
	var group int
	var tokens sql.NullInt64
	err := row.Scan(&e.ID, &e.RunID, &group, &e.Model, &e.ModelType, &e.LearnerProfile, &e.QuestionID,
		&e.Response, &tokens, &e.FilePath, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.Group = model.PromptGroup(group)
	if tokens.Valid {
		n := int(tokens.Int64)
		e.TokensUsed = &n
	}
	return e, nil
}

// GetEvaluation returns one indexed result. It returns sql.ErrNoRows when
// the id is unknown.
func (s *Store) GetEvaluation(id int64) (model.StoredEvaluation, error) {
	return scanEvaluation(s.db.QueryRow(`SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`, id))
}

// ListEvaluations returns indexed results matching the filter, ordered by
// model, profile, question and group.
func (s *Store) ListEvaluations(f model.EvaluationFilter) ([]model.StoredEvaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluations`
	var where []string
	var args []any
	if f.Model != "" {
		where = append(where, "model = ?")
		args = append(args, f.Model)
	}
	if f.Profile != "" {
		where = append(where, "learner_profile = ?")
		args = append(args, f.Profile)
	}
	if f.Group != 0 {
		where = append(where, "prompt_group = ?")
		args = append(args, int(f.Group))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY model, learner_profile, question_id, prompt_group"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.StoredEvaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EvaluationCount returns the number of indexed results.
func (s *Store) EvaluationCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM evaluations`).Scan(&count)
	return count, err
}

// Models returns the distinct model names that have indexed results.
func (s *Store) Models() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT model FROM evaluations ORDER BY model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
